// Package attachment turns uploaded files into transport-ready attachments.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"

	"guidance-backend/internal/models"
)

var ErrEmptyFile = errors.New("file is empty")

// Encoder reads a file fully and produces an Attachment holding the base64
// payload for the model and a local display URL backed by a BlobStore.
type Encoder struct {
	blobs *BlobStore
}

func NewEncoder(blobs *BlobStore) *Encoder {
	return &Encoder{blobs: blobs}
}

// Encode does not check that the file is an image; callers filter on type
// before handing files over.
func (e *Encoder) Encode(mimeType string, r io.Reader) (models.Attachment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	if len(data) == 0 {
		return models.Attachment{}, ErrEmptyFile
	}

	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return models.Attachment{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
		URL:      e.blobs.Put(mimeType, data),
	}, nil
}

// Release frees the display blobs of the given attachments.
func (e *Encoder) Release(atts ...models.Attachment) {
	for _, att := range atts {
		e.blobs.Release(att.URL)
	}
}

// Decode returns the raw bytes of an attachment payload.
func Decode(att models.Attachment) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment data: %w", err)
	}
	return data, nil
}

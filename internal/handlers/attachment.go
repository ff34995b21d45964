package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"guidance-backend/internal/attachment"
	"guidance-backend/internal/models"
)

type attachmentEncoder interface {
	Encode(mimeType string, r io.Reader) (models.Attachment, error)
	Release(atts ...models.Attachment)
}

type blobSource interface {
	Get(id uuid.UUID) (string, []byte, bool)
}

type AttachmentHandler struct {
	sessions sessionRegistry
	encoder  attachmentEncoder
	blobs    blobSource
	maxBytes int64
	logger   *zap.Logger
}

func NewAttachmentHandler(sessions sessionRegistry, encoder attachmentEncoder, blobs blobSource, maxBytes int64, logger *zap.Logger) *AttachmentHandler {
	return &AttachmentHandler{
		sessions: sessions,
		encoder:  encoder,
		blobs:    blobs,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Upload encodes every image in the "files" form field and appends the
// successes to the pending attachments, in selection order. Files that
// fail are reported individually and do not block the others.
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Upload is not a valid multipart form or is too large", r))
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "No files provided", r))
		return
	}

	var (
		encoded []models.Attachment
		failed  []models.UploadFailure
	)
	for i, fh := range files {
		mimeType := fh.Header.Get("Content-Type")
		if mimeType != "" && !strings.HasPrefix(mimeType, "image/") {
			failed = append(failed, models.UploadFailure{Index: i, Filename: fh.Filename, Message: "Only image files are supported"})
			continue
		}

		f, err := fh.Open()
		if err != nil {
			failed = append(failed, models.UploadFailure{Index: i, Filename: fh.Filename, Message: "Could not read file"})
			continue
		}
		att, err := h.encoder.Encode(mimeType, f)
		f.Close()
		if err != nil {
			h.logger.Warn("Attachment encoding failed", zap.String("filename", fh.Filename), zap.Error(err))
			msg := "Could not read file"
			if errors.Is(err, attachment.ErrEmptyFile) {
				msg = "File is empty"
			}
			failed = append(failed, models.UploadFailure{Index: i, Filename: fh.Filename, Message: msg})
			continue
		}
		if !strings.HasPrefix(att.MimeType, "image/") {
			h.encoder.Release(att)
			failed = append(failed, models.UploadFailure{Index: i, Filename: fh.Filename, Message: "Only image files are supported"})
			continue
		}
		encoded = append(encoded, att)
	}

	if len(encoded) == 0 {
		fields := make(map[string]string, len(failed))
		for _, f := range failed {
			fields[fmt.Sprintf("files[%d]", f.Index)] = f.Message
		}
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "No files could be attached", fields, r))
		return
	}

	s.AddAttachments(encoded...)

	writeJSON(w, http.StatusOK, models.UploadResponse{
		Attachments: s.PendingAttachments(),
		Failed:      failed,
	})
}

func (h *AttachmentHandler) Remove(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid attachment index", r))
		return
	}

	if err := s.RemoveAttachment(index); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.UploadResponse{Attachments: s.PendingAttachments()})
}

// ServeBlob returns the raw bytes behind an attachment display URL.
func (h *AttachmentHandler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid blob ID", r))
		return
	}

	mimeType, data, ok := h.blobs.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Blob not found", r))
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

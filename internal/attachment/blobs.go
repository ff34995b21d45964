package attachment

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

type blob struct {
	mimeType string
	data     []byte
}

// BlobStore keeps the raw bytes behind attachment display URLs. Entries live
// until released.
type BlobStore struct {
	mu     sync.RWMutex
	blobs  map[uuid.UUID]blob
	prefix string
}

// NewBlobStore returns a store whose URLs look like prefix + "/" + id.
func NewBlobStore(prefix string) *BlobStore {
	return &BlobStore{
		blobs:  make(map[uuid.UUID]blob),
		prefix: strings.TrimSuffix(prefix, "/"),
	}
}

func (s *BlobStore) Put(mimeType string, data []byte) string {
	id := uuid.New()

	s.mu.Lock()
	s.blobs[id] = blob{mimeType: mimeType, data: data}
	s.mu.Unlock()

	return s.prefix + "/" + id.String()
}

func (s *BlobStore) Get(id uuid.UUID) (string, []byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[id]
	return b.mimeType, b.data, ok
}

// Release drops the blob behind url. Unknown URLs are ignored.
func (s *BlobStore) Release(url string) {
	id, ok := s.idFromURL(url)
	if !ok {
		return
	}

	s.mu.Lock()
	delete(s.blobs, id)
	s.mu.Unlock()
}

func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

func (s *BlobStore) idFromURL(url string) (uuid.UUID, bool) {
	rest, found := strings.CutPrefix(url, s.prefix+"/")
	if !found {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

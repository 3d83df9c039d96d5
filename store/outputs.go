package store

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"github.com/teranos/yume/logger"
)

// StoragePathPrefix is the HTTP route prefix blobs are served under.
const StoragePathPrefix = "/storage/"

// Blob is a finished render output, immutable once keyed.
type Blob struct {
	Key       string    `json:"key"`
	Data      []byte    `json:"-"`
	Mime      string    `json:"mime"`
	CreatedAt time.Time `json:"created_at"`
}

// URL returns the HTTP path the blob is served under.
func (b Blob) URL() string {
	return StoragePathPrefix + b.Key
}

// OutputStore is a content-addressed blob store. Keys are derived from
// the bytes (sha256, base58-encoded), so re-rendering identical content
// lands on the same key.
type OutputStore struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

// NewOutputStore creates an empty output store.
func NewOutputStore() *OutputStore {
	return &OutputStore{
		blobs: make(map[string]Blob),
	}
}

// Key derives the content-addressed key for a byte slice.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return base58.Encode(sum[:])
}

// Put stores a blob and returns it with its key filled in. Storing the
// same bytes twice is a no-op returning the existing blob.
func (s *OutputStore) Put(data []byte, mime string) Blob {
	key := Key(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.blobs[key]; ok {
		return existing
	}

	blob := Blob{
		Key:       key,
		Data:      data,
		Mime:      mime,
		CreatedAt: time.Now(),
	}
	s.blobs[key] = blob

	logger.StoreDebugw("Output stored",
		logger.FieldKey, key,
		logger.FieldSize, len(data),
		logger.FieldCount, len(s.blobs),
	)
	return blob
}

// Get returns the blob for a key.
func (s *OutputStore) Get(key string) (Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[key]
	return blob, ok
}

// Has checks whether a key exists.
func (s *OutputStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[key]
	return ok
}

// Len returns the number of stored blobs.
func (s *OutputStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// TotalBytes returns the aggregate stored size.
func (s *OutputStore) TotalBytes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, blob := range s.blobs {
		total += len(blob.Data)
	}
	return total
}

// Stats summarizes the store for system:status.
type Stats struct {
	Outputs    int `json:"outputs"`
	TotalBytes int `json:"total_bytes"`
}

// Stats returns a snapshot of store counters.
func (s *OutputStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, blob := range s.blobs {
		total += len(blob.Data)
	}
	return Stats{Outputs: len(s.blobs), TotalBytes: total}
}

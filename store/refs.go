// Package store holds the two in-memory byte stores that bridge HTTP
// and WS traffic: a short-TTL upload store (fileRefs for init images)
// and a content-addressed output store for finished renders.
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/yume/errors"
	"github.com/teranos/yume/logger"
)

// Upload store defaults: 5 minute TTL, swept every 30s.
const (
	DefaultRefTTL        = 300 * time.Second
	DefaultSweepInterval = 30 * time.Second
)

type refEntry struct {
	data        []byte
	contentType string
	createdAt   time.Time
}

// RefStore is a short-lived keyed byte store. Refs are opaque 128-bit
// keys; entries are multi-read within the TTL and removed by the sweeper.
type RefStore struct {
	ttl time.Duration
	now func() time.Time // replaced in tests

	mu      sync.Mutex
	entries map[string]refEntry
}

// NewRefStore creates a store with the given TTL. ttl <= 0 uses the default.
func NewRefStore(ttl time.Duration) *RefStore {
	if ttl <= 0 {
		ttl = DefaultRefTTL
	}
	return &RefStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]refEntry),
	}
}

// Put stores bytes and returns an opaque ref. Empty uploads are rejected.
func (s *RefStore) Put(data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", errors.NewKind(errors.KindBadRequest, "empty upload")
	}

	ref := strings.ReplaceAll(uuid.New().String(), "-", "")

	s.mu.Lock()
	s.entries[ref] = refEntry{
		data:        data,
		contentType: contentType,
		createdAt:   s.now(),
	}
	total := len(s.entries)
	s.mu.Unlock()

	logger.StoreInfow("Upload stored",
		logger.FieldRef, ref,
		logger.FieldSize, len(data),
		logger.FieldCount, total,
	)
	return ref, nil
}

// Take resolves a ref to its bytes and content type. Entries remain
// readable until the TTL elapses; expired entries behave as missing.
func (s *RefStore) Take(ref string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[ref]
	if !ok {
		return nil, "", errors.NewKindf(errors.KindRefNotFound,
			"fileRef %q not found or expired", ref)
	}
	if s.now().Sub(entry.createdAt) > s.ttl {
		delete(s.entries, ref)
		return nil, "", errors.NewKindf(errors.KindRefNotFound,
			"fileRef %q not found or expired", ref)
	}
	return entry.data, entry.contentType, nil
}

// Sweep removes expired entries and returns how many were purged.
func (s *RefStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for ref, entry := range s.entries {
		if now.Sub(entry.createdAt) > s.ttl {
			delete(s.entries, ref)
			purged++
		}
	}
	if purged > 0 {
		logger.StoreDebugw("Cleaned expired uploads", logger.FieldCount, purged)
	}
	return purged
}

// Run sweeps on the given cadence until ctx is canceled.
// interval <= 0 uses the default.
func (s *RefStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Len returns the number of live entries (including not-yet-swept expired ones).
func (s *RefStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear drops all entries. Called on shutdown.
func (s *RefStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]refEntry)
}

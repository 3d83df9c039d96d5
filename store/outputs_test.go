package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputStore_PutGet(t *testing.T) {
	s := NewOutputStore()

	blob := s.Put([]byte("fake-png"), "image/png")
	require.NotEmpty(t, blob.Key)
	assert.Equal(t, "image/png", blob.Mime)
	assert.True(t, strings.HasPrefix(blob.URL(), StoragePathPrefix))

	got, ok := s.Get(blob.Key)
	require.True(t, ok)
	assert.Equal(t, []byte("fake-png"), got.Data)
}

func TestOutputStore_ContentAddressing(t *testing.T) {
	s := NewOutputStore()

	// Identical bytes land on the identical key: re-rendering the same
	// seed+params is idempotent at the storage layer
	first := s.Put([]byte("same-bytes"), "image/png")
	second := s.Put([]byte("same-bytes"), "image/png")
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, 1, s.Len())

	// Different bytes get a different key
	third := s.Put([]byte("other-bytes"), "image/png")
	assert.NotEqual(t, first.Key, third.Key)
	assert.Equal(t, 2, s.Len())
}

func TestOutputStore_KeyIsStable(t *testing.T) {
	// The key function is pure: same input, same key, across stores
	a := Key([]byte("stable"))
	b := Key([]byte("stable"))
	assert.Equal(t, a, b)

	s1 := NewOutputStore()
	s2 := NewOutputStore()
	assert.Equal(t, s1.Put([]byte("stable"), "image/png").Key, s2.Put([]byte("stable"), "image/png").Key)
}

func TestOutputStore_MissingKey(t *testing.T) {
	s := NewOutputStore()

	_, ok := s.Get("missing")
	assert.False(t, ok)
	assert.False(t, s.Has("missing"))
}

func TestOutputStore_Stats(t *testing.T) {
	s := NewOutputStore()

	s.Put([]byte("aaaa"), "image/png")
	s.Put([]byte("bbbbbb"), "image/png")

	stats := s.Stats()
	assert.Equal(t, 2, stats.Outputs)
	assert.Equal(t, 10, stats.TotalBytes)
	assert.Equal(t, 10, s.TotalBytes())
}

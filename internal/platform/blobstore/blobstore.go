// Package blobstore moves whole upload and export files between the ingest
// commands and where they live: the local filesystem, memory, or an
// S3-compatible bucket. Every store enforces a size cap and records a SHA-256
// of what it stores so import batches can name the exact file they came from.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	ErrMissingKey   = errors.New("blob key is required")
)

// DefaultMaxBytes is the size cap used when a store is built with zero
// (100 MB).
const DefaultMaxBytes = 100 * 1024 * 1024

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// Info describes a stored blob.
type Info struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	SHA256      string    `json:"sha256"`
	StoredAt    time.Time `json:"stored_at"`
}

// Store reads and writes whole blobs by key.
type Store interface {
	Put(ctx context.Context, key string, content io.Reader, contentType string) (*Info, error)
	Get(ctx context.Context, key string) ([]byte, *Info, error)
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}

// readLimited reads r fully, failing with ErrFileTooLarge past limit bytes.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

func limitOrDefault(limit int64) int64 {
	if limit <= 0 {
		return DefaultMaxBytes
	}
	return limit
}

// ContentTypeFor guesses a content type from the key's extension.
func ContentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".json":
		return "application/json"
	case ".txt", ".tsv":
		return "text/plain"
	}
	return "application/octet-stream"
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	info    Info
	content []byte
}

// MemoryStore is a thread-safe in-memory Store for tests and dry runs.
type MemoryStore struct {
	mu       sync.RWMutex
	blobs    map[string]*storedBlob
	maxBytes int64
}

// NewMemoryStore returns an empty MemoryStore. maxBytes <= 0 uses
// DefaultMaxBytes.
func NewMemoryStore(maxBytes int64) *MemoryStore {
	return &MemoryStore{
		blobs:    make(map[string]*storedBlob),
		maxBytes: limitOrDefault(maxBytes),
	}
}

// Put stores content under key, replacing any previous blob.
func (s *MemoryStore) Put(_ context.Context, key string, content io.Reader, contentType string) (*Info, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	data, err := readLimited(content, s.maxBytes)
	if err != nil {
		return nil, err
	}

	info := Info{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: contentType,
		SHA256:      Checksum(data),
		StoredAt:    time.Now().UTC(),
	}

	s.mu.Lock()
	s.blobs[key] = &storedBlob{info: info, content: data}
	s.mu.Unlock()

	out := info
	return &out, nil
}

// Get returns a copy of the blob stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, *Info, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	if int64(len(blob.content)) > s.maxBytes {
		return nil, nil, ErrFileTooLarge
	}
	info := blob.info
	return bytes.Clone(blob.content), &info, nil
}

// Keys returns the stored keys in no particular order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		keys = append(keys, k)
	}
	return keys
}

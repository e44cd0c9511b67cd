package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FSStore keeps blobs as files under a root directory.
type FSStore struct {
	root     string
	maxBytes int64
}

// NewFSStore returns a store rooted at dir. An empty dir means the working
// directory.
func NewFSStore(dir string, maxBytes int64) *FSStore {
	if dir == "" {
		dir = "."
	}
	return &FSStore{root: dir, maxBytes: limitOrDefault(maxBytes)}
}

func (s *FSStore) path(key string) (string, error) {
	if key == "" {
		return "", ErrMissingKey
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("blob key %q escapes store root", key)
	}
	return filepath.Join(s.root, clean), nil
}

// Put writes content to the key's file, creating parent directories.
func (s *FSStore) Put(_ context.Context, key string, content io.Reader, contentType string) (*Info, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := readLimited(content, s.maxBytes)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", key, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", key, err)
	}
	return &Info{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: contentType,
		SHA256:      Checksum(data),
		StoredAt:    time.Now().UTC(),
	}, nil
}

// Get reads the key's file.
func (s *FSStore) Get(_ context.Context, key string) ([]byte, *Info, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if st.Size() > s.maxBytes {
		return nil, nil, ErrFileTooLarge
	}
	data, err := readLimited(f, s.maxBytes)
	if err != nil {
		return nil, nil, err
	}
	return data, &Info{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: ContentTypeFor(key),
		SHA256:      Checksum(data),
		StoredAt:    st.ModTime().UTC(),
	}, nil
}

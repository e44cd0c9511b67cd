package blobstore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Memory store
// ---------------------------------------------------------------------------

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore(0)
	content := "Patient ID,Organism,CIP\nP1,E. coli,R\n"

	info, err := store.Put(context.Background(), "uploads/whonet.csv", strings.NewReader(content), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, "uploads/whonet.csv", info.Key)
	assert.Equal(t, int64(len(content)), info.Size)
	assert.Equal(t, fmt.Sprintf("%x", sha256.Sum256([]byte(content))), info.SHA256)
	assert.False(t, info.StoredAt.IsZero())

	data, got, err := store.Get(context.Background(), "uploads/whonet.csv")
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
	assert.Equal(t, info.SHA256, got.SHA256)
	assert.Equal(t, "text/csv", got.ContentType)

	// returned bytes are a copy
	data[0] = 'X'
	again, _, err := store.Get(context.Background(), "uploads/whonet.csv")
	require.NoError(t, err)
	assert.Equal(t, content, string(again))
}

func TestMemoryStore_Errors(t *testing.T) {
	store := NewMemoryStore(8)

	_, _, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrBlobNotFound)

	_, err = store.Put(context.Background(), "", strings.NewReader("x"), "")
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = store.Put(context.Background(), "big", strings.NewReader("123456789"), "")
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = store.Put(context.Background(), "fits", strings.NewReader("12345678"), "")
	assert.NoError(t, err)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore(0)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			_, err := store.Put(context.Background(), key, strings.NewReader(key), "")
			assert.NoError(t, err)
			_, _, err = store.Get(context.Background(), key)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Len(t, store.Keys(), 20)
}

// ---------------------------------------------------------------------------
// Filesystem store
// ---------------------------------------------------------------------------

func TestFSStore_PutGet(t *testing.T) {
	dir := t.TempDir()
	store := NewFSStore(dir, 0)

	info, err := store.Put(context.Background(), "out/template.csv", strings.NewReader("a,b\n"), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size)

	raw, err := os.ReadFile(filepath.Join(dir, "out", "template.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(raw))

	data, got, err := store.Get(context.Background(), "out/template.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))
	assert.Equal(t, info.SHA256, got.SHA256)
	assert.Equal(t, "text/csv", got.ContentType)
}

func TestFSStore_Errors(t *testing.T) {
	dir := t.TempDir()
	store := NewFSStore(dir, 4)

	_, _, err := store.Get(context.Background(), "nope.csv")
	assert.ErrorIs(t, err, ErrBlobNotFound)

	_, err = store.Put(context.Background(), "../escape.csv", strings.NewReader("x"), "")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.csv"), []byte("12345"), 0o644))
	_, _, err = store.Get(context.Background(), "big.csv")
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

// ---------------------------------------------------------------------------
// Locations
// ---------------------------------------------------------------------------

func TestParseLocation(t *testing.T) {
	tests := []struct {
		uri  string
		want Location
	}{
		{"s3://lab-uploads/2025/08/whonet.xlsx", Location{Scheme: "s3", Bucket: "lab-uploads", Key: "2025/08/whonet.xlsx"}},
		{"/data/whonet.csv", Location{Scheme: "file", Key: "/data/whonet.csv"}},
		{"file://rel/whonet.csv", Location{Scheme: "file", Key: "rel/whonet.csv"}},
	}
	for _, tt := range tests {
		got, err := ParseLocation(tt.uri)
		require.NoError(t, err, tt.uri)
		assert.Equal(t, tt.want, got)
	}

	for _, bad := range []string{"", "s3://", "s3://bucket", "s3://bucket/"} {
		_, err := ParseLocation(bad)
		assert.Error(t, err, bad)
	}

	assert.Equal(t, "s3://b/k.csv", Location{Scheme: "s3", Bucket: "b", Key: "k.csv"}.String())
}

func TestOpen_LocalPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in.csv"), []byte("x"), 0o644))

	store, key, err := Open(context.Background(), filepath.Join(dir, "in.csv"), Config{})
	require.NoError(t, err)
	assert.Equal(t, "in.csv", key)
	assert.IsType(t, &FSStore{}, store)

	data, _, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "text/csv", ContentTypeFor("a/b.CSV"))
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ContentTypeFor("x.xlsx"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("noext"))
}

package blobstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory round tripper serving path-style PUT and GET.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(req.URL.Path, "/")
	empty := func(code int) *http.Response {
		return &http.Response{StatusCode: code, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}
	}
	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		f.objects[key] = body
		f.types[key] = req.Header.Get("Content-Type")
		resp := empty(http.StatusOK)
		resp.Header.Set("ETag", `"etag"`)
		return resp, nil
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			return empty(http.StatusNotFound), nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(body)), Header: http.Header{
			"Content-Length": {strconv.Itoa(len(body))},
			"Content-Type":   {f.types[key]},
			"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
		}}, nil
	}
	return empty(http.StatusNotImplemented), nil
}

// decodeChunked unwraps a single-chunk aws-chunked payload.
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 || parts[2] != "0" && !strings.HasPrefix(parts[2], "0;") {
		return nil, false
	}
	size, err := strconv.ParseInt(strings.SplitN(parts[0], ";", 2)[0], 16, 64)
	if err != nil || int64(len(parts[1])) != size {
		return nil, false
	}
	return []byte(parts[1]), true
}

func newTestS3Store(t *testing.T, maxBytes int64) (*S3Store, *fakeS3) {
	t.Helper()
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIATEST")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_CONFIG_FILE", "/dev/null")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/dev/null")

	fake := newFakeS3()
	store, err := NewS3Store(context.Background(), S3Config{
		Bucket:    "lab-uploads",
		Endpoint:  "https://s3.test.local",
		PathStyle: true,
		MaxBytes:  maxBytes,
	}, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: fake}
		o.Retryer = aws.NopRetryer{}
	})
	require.NoError(t, err)
	return store, fake
}

func TestS3Store_PutGet(t *testing.T) {
	store, fake := newTestS3Store(t, 0)
	content := "Lab No,Organism,CIP\n1,E. coli,R\n"

	info, err := store.Put(context.Background(), "2025/whonet.csv", strings.NewReader(content), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, Checksum([]byte(content)), info.SHA256)
	assert.Equal(t, content, string(fake.objects["lab-uploads/2025/whonet.csv"]))

	data, got, err := store.Get(context.Background(), "2025/whonet.csv")
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
	assert.Equal(t, info.SHA256, got.SHA256)
	assert.Equal(t, "text/csv", got.ContentType)
	assert.Equal(t, "lab-uploads", store.Bucket())
}

func TestS3Store_Errors(t *testing.T) {
	store, fake := newTestS3Store(t, 4)

	_, _, err := store.Get(context.Background(), "missing.csv")
	assert.ErrorIs(t, err, ErrBlobNotFound)

	_, err = store.Put(context.Background(), "big.csv", strings.NewReader("12345"), "")
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Empty(t, fake.objects)

	fake.objects["lab-uploads/big.csv"] = []byte("12345")
	_, _, err = store.Get(context.Background(), "big.csv")
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = NewS3Store(context.Background(), S3Config{})
	assert.Error(t, err)
}

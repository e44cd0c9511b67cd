package blobstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Config carries the settings needed to open a store from a location.
type Config struct {
	MaxBytes    int64
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

// Location is a parsed blob address: "s3://bucket/key" or a local path.
type Location struct {
	Scheme string // "s3" or "file"
	Bucket string
	Key    string
}

func (l Location) String() string {
	if l.Scheme == "s3" {
		return "s3://" + l.Bucket + "/" + l.Key
	}
	return l.Key
}

// ParseLocation splits uri into scheme, bucket and key. Anything that is not
// an s3:// URI is a filesystem path; a "file://" prefix is accepted.
func ParseLocation(uri string) (Location, error) {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		rest := strings.TrimPrefix(uri, "s3://")
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			return Location{}, fmt.Errorf("s3 location %q needs a bucket and a key", uri)
		}
		return Location{Scheme: "s3", Bucket: bucket, Key: key}, nil
	case strings.HasPrefix(uri, "file://"):
		uri = strings.TrimPrefix(uri, "file://")
	}
	if uri == "" {
		return Location{}, ErrMissingKey
	}
	return Location{Scheme: "file", Key: uri}, nil
}

// Open returns a store able to serve uri together with the key to use in it.
// Local paths are served by an FSStore rooted at the file's directory.
func Open(ctx context.Context, uri string, cfg Config) (Store, string, error) {
	loc, err := ParseLocation(uri)
	if err != nil {
		return nil, "", err
	}
	if loc.Scheme == "s3" {
		st, err := NewS3Store(ctx, S3Config{
			Bucket:    loc.Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
			MaxBytes:  cfg.MaxBytes,
		})
		if err != nil {
			return nil, "", err
		}
		return st, loc.Key, nil
	}
	return NewFSStore(filepath.Dir(loc.Key), cfg.MaxBytes), filepath.Base(loc.Key), nil
}

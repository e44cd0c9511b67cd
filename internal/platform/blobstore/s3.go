package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// checksumKey is the object metadata entry holding the blob's SHA-256.
const checksumKey = "sha256"

// S3Config holds the construction parameters of an S3Store. Credentials come
// from the default AWS chain (environment, shared config, instance role).
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, for MinIO and other S3-compatible servers
	PathStyle bool
	MaxBytes  int64
}

// S3Store keeps blobs as objects in a single bucket.
type S3Store struct {
	client   *s3.Client
	bucket   string
	maxBytes int64
}

// NewS3Store builds an S3Store from cfg and the default AWS configuration.
func NewS3Store(ctx context.Context, cfg S3Config, optFns ...func(*s3.Options)) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	fns := append([]func(*s3.Options){func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}}, optFns...)
	return &S3Store{
		client:   s3.NewFromConfig(awsCfg, fns...),
		bucket:   cfg.Bucket,
		maxBytes: limitOrDefault(cfg.MaxBytes),
	}, nil
}

// Bucket returns the store's bucket name.
func (s *S3Store) Bucket() string { return s.bucket }

// Put uploads content as key. The SHA-256 is kept in the object metadata.
func (s *S3Store) Put(ctx context.Context, key string, content io.Reader, contentType string) (*Info, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	data, err := readLimited(content, s.maxBytes)
	if err != nil {
		return nil, err
	}
	sum := Checksum(data)

	input := &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      map[string]string{checksumKey: sum},
	}
	if contentType != "" {
		input.ContentType = &contentType
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return &Info{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: contentType,
		SHA256:      sum,
		StoredAt:    time.Now().UTC(),
	}, nil
}

// Get downloads the object stored as key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, *Info, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		if notFound(err) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && *out.ContentLength > s.maxBytes {
		return nil, nil, ErrFileTooLarge
	}
	data, err := readLimited(out.Body, s.maxBytes)
	if err != nil {
		return nil, nil, err
	}

	info := &Info{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: aws.ToString(out.ContentType),
		SHA256:      Checksum(data),
		StoredAt:    aws.ToTime(out.LastModified),
	}
	if info.StoredAt.IsZero() {
		info.StoredAt = time.Now().UTC()
	}
	return data, info, nil
}

func notFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

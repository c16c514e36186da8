package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIOOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
}

// MinIOPayloadStore keeps payloads as objects in an S3-compatible bucket.
type MinIOPayloadStore struct {
	client *minio.Client
	bucket string
	region string
}

func NewMinIOPayloadStore(opts MinIOOptions) (*MinIOPayloadStore, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("minio endpoint is required when payloads.backend=minio")
	}
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("minio bucket is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, err
	}
	return &MinIOPayloadStore{client: client, bucket: bucket, region: opts.Region}, nil
}

func (s *MinIOPayloadStore) EnsureExists(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		// Lost a creation race with another process.
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *MinIOPayloadStore) Put(ctx context.Context, id string, content []byte) error {
	if !validPayloadID(id) {
		return fmt.Errorf("invalid payload id %q", id)
	}
	_, err := s.client.PutObject(ctx, s.bucket, id, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	return err
}

func (s *MinIOPayloadStore) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	if !validPayloadID(id) {
		return nil, ErrNotFound
	}
	obj, err := s.client.GetObject(ctx, s.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translate(err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, s.translate(err)
	}
	return obj, nil
}

func (s *MinIOPayloadStore) Exists(ctx context.Context, id string) (bool, error) {
	if !validPayloadID(id) {
		return false, nil
	}
	_, err := s.client.StatObject(ctx, s.bucket, id, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	err = s.translate(err)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *MinIOPayloadStore) translate(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

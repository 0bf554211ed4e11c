package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore writes documents to a Cloud Storage bucket.
type GCSStore struct {
	client  *gcs.Client
	bucket  string
	prefix  string
	timeout time.Duration
}

// NewGCSStore opens a client for bucket. Credentials default to ADC.
func NewGCSStore(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage: gcs bucket required")
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix, timeout: 2 * time.Minute}, nil
}

// Put uploads data, overwriting an existing object.
func (s *GCSStore) Put(ctx context.Context, p string, data []byte, contentType string) error {
	name, err := s.objectName(p)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: finalize %s: %w", name, err)
	}
	return nil
}

// Open streams an object from the bucket.
func (s *GCSStore) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	name, err := s.objectName(p)
	if err != nil {
		return nil, err
	}
	rc, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", name, err)
	}
	return rc, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *GCSStore) objectName(p string) (string, error) {
	cleaned, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return cleaned, nil
	}
	return path.Join(s.prefix, cleaned), nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ErrObjectNotFound is returned when a stored object does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// Store persists generated documents under a relative path.
type Store interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Options selects and configures a Store.
type Options struct {
	Driver          string
	Dir             string
	Bucket          string
	Prefix          string
	CredentialsFile string
}

// New builds the store named by opts.Driver ("local" or "gcs").
func New(ctx context.Context, opts Options) (Store, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", "local":
		store, err := NewLocalStore(opts.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil
	case "gcs":
		var clientOpts []option.ClientOption
		if opts.CredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
		}
		store, err := NewGCSStore(ctx, opts.Bucket, opts.Prefix, clientOpts...)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("storage: unknown driver %q", opts.Driver)
	}
}

// ParseURI splits gs://bucket/object into its parts.
func ParseURI(uri string) (bucket, object string, ok bool) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// OpenURI opens a local file or a gs:// object for reading.
func OpenURI(ctx context.Context, uri string, clientOpts ...option.ClientOption) (io.ReadCloser, error) {
	bucket, object, ok := ParseURI(uri)
	if !ok {
		if strings.HasPrefix(uri, "gs://") {
			return nil, fmt.Errorf("storage: invalid gcs uri %q", uri)
		}
		f, err := os.Open(uri)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%s: %w", uri, ErrObjectNotFound)
			}
			return nil, err
		}
		return f, nil
	}
	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}
	rc, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		_ = client.Close()
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", uri, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("storage: read %s: %w", uri, err)
	}
	return &clientReader{ReadCloser: rc, client: client}, nil
}

type clientReader struct {
	io.ReadCloser
	client *gcs.Client
}

func (r *clientReader) Close() error {
	err := r.ReadCloser.Close()
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func cleanPath(p string) (string, error) {
	cleaned := filepath.ToSlash(filepath.Clean("/" + p))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("storage: empty path")
	}
	return cleaned, nil
}

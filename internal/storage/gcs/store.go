// Package gcs provides a resource store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	appstorage "github.com/JakeFAU/poolhttpd/internal/storage"
)

// Config captures the parameters required to read from GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every resource name, e.g. "site/".
	Prefix string
}

// Store reads resources from objects in a bucket.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *Store) objectName(name string) string {
	name = strings.TrimLeft(name, "/")
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Read downloads the object backing name.
func (s *Store) Read(ctx context.Context, name string) ([]byte, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", appstorage.ErrUnavailable)
	}
	object := s.objectName(name)
	r, err := s.client.Bucket(s.bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open gs://%s/%s: %v", appstorage.ErrUnavailable, s.bucket, object, err)
	}
	data, err := io.ReadAll(r)
	closeErr := r.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: read gs://%s/%s: %v", appstorage.ErrUnavailable, s.bucket, object, err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("%w: close reader: %v", appstorage.ErrUnavailable, closeErr)
	}
	return data, nil
}

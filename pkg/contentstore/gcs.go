//go:build gcp

package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSStore persists blobs in a Google Cloud Storage bucket, keyed by
// content digest.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig holds configuration for GCSStore.
type GCSConfig struct {
	Bucket string
	Prefix string // Optional object prefix
}

// NewGCSStore creates a GCS-backed blob store. Credentials come from
// Application Default Credentials.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("contentstore: create GCS client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *GCSStore) Upload(ctx context.Context, data []byte) (string, error) {
	digest := digestOf(data)
	objectPath := s.prefix + digest + ".blob"
	uri := "gs://" + s.bucket + "/" + objectPath

	obj := s.client.Bucket(s.bucket).Object(objectPath)
	if _, err := obj.Attrs(ctx); err == nil {
		return uri, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("contentstore: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("contentstore: gcs close: %w", err)
	}
	return uri, nil
}

func (s *GCSStore) Download(ctx context.Context, uri string) ([]byte, error) {
	scheme, rest, ok := splitURI(uri)
	if !ok || scheme != "gs" {
		return nil, ErrForeignURI
	}
	bucket, objectPath, ok := strings.Cut(rest, "/")
	if !ok || bucket != s.bucket {
		return nil, ErrForeignURI
	}

	reader, err := s.client.Bucket(s.bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("contentstore: gcs get %s: %w", uri, err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("contentstore: gcs read %s: %w", uri, err)
	}
	return data, nil
}

// Close closes the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

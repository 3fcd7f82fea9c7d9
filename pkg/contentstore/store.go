// Package contentstore provides content-addressed blob storage for sealed
// capsule ciphertexts across memory, filesystem, S3, GCS, and HTTP gateway
// backends. Every backend addresses blobs by SHA-256 digest, so uploads are
// idempotent and URIs are stable across re-publication of identical content.
package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrForeignURI is returned when a store is asked to download a URI it
	// did not mint (wrong scheme or wrong backend location).
	ErrForeignURI = errors.New("contentstore: uri does not belong to this store")

	// ErrBlobNotFound is returned when the addressed blob does not exist.
	ErrBlobNotFound = errors.New("contentstore: blob not found")
)

// Store persists opaque blobs and retrieves them by the URI minted at upload.
type Store interface {
	// Upload persists data and returns a scheme-prefixed, content-addressed URI.
	Upload(ctx context.Context, data []byte) (string, error)
	// Download retrieves the blob a previous Upload returned the URI for.
	Download(ctx context.Context, uri string) ([]byte, error)
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// splitURI separates a scheme-prefixed URI into scheme and remainder.
func splitURI(uri string) (scheme, rest string, ok bool) {
	i := strings.Index(uri, "://")
	if i < 0 {
		return "", "", false
	}
	return uri[:i], uri[i+3:], true
}

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Upload(_ context.Context, data []byte) (string, error) {
	digest := digestOf(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[digest]; !ok {
		stored := make([]byte, len(data))
		copy(stored, data)
		s.blobs[digest] = stored
	}
	return "mem://" + digest, nil
}

func (s *MemoryStore) Download(_ context.Context, uri string) ([]byte, error) {
	scheme, digest, ok := splitURI(uri)
	if !ok || scheme != "mem" {
		return nil, ErrForeignURI
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[digest]
	if !ok {
		return nil, ErrBlobNotFound
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

// Len reports how many distinct blobs are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// FileStore is a filesystem-backed Store. Blobs live under one directory,
// named by digest, written via temp file and rename so readers never see a
// partial blob.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a content-addressed store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("contentstore: ensure blob dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Upload(_ context.Context, data []byte) (string, error) {
	digest := digestOf(data)
	uri := "file://" + digest

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, digest+".blob")
	if _, err := os.Stat(path); err == nil {
		return uri, nil
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", fmt.Errorf("contentstore: write blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("contentstore: commit blob: %w", err)
	}
	return uri, nil
}

func (s *FileStore) Download(_ context.Context, uri string) ([]byte, error) {
	scheme, digest, ok := splitURI(uri)
	if !ok || scheme != "file" {
		return nil, ErrForeignURI
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return nil, ErrForeignURI
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.baseDir, digest+".blob"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("contentstore: read blob: %w", err)
	}
	return data, nil
}

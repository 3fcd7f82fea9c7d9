// Package keystore holds content encryption keys by checkpoint id on the
// publisher side, so keys published earlier can be wrapped for consumers
// who register later.
package keystore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Mindstate-AI/sdk/pkg/ledger"
)

var (
	// ErrKeyNotFound is returned when no key is stored for the checkpoint.
	ErrKeyNotFound = errors.New("keystore: key not found")

	// ErrKeyExists is returned when Put would overwrite a different key.
	// Keys are write-once: re-putting the identical key is a no-op.
	ErrKeyExists = errors.New("keystore: different key already stored")
)

// KeyStore persists content encryption keys by checkpoint id.
type KeyStore interface {
	Put(ctx context.Context, checkpointID string, key []byte) error
	Get(ctx context.Context, checkpointID string) ([]byte, error)
}

// MemoryKeyStore is an in-process KeyStore.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewMemoryKeyStore creates an empty in-memory key store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string][]byte)}
}

func (s *MemoryKeyStore) Put(_ context.Context, checkpointID string, key []byte) error {
	id := ledger.NormalizeID(checkpointID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.keys[id]; ok {
		if bytes.Equal(existing, key) {
			return nil
		}
		return ErrKeyExists
	}
	stored := make([]byte, len(key))
	copy(stored, key)
	s.keys[id] = stored
	return nil
}

func (s *MemoryKeyStore) Get(_ context.Context, checkpointID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[ledger.NormalizeID(checkpointID)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(key))
	copy(out, key)
	return out, nil
}

// FileKeyStore persists keys to a single JSON file with 0600 permissions.
// Every Put rewrites the file, so the store survives process restarts.
type FileKeyStore struct {
	mu   sync.RWMutex
	path string
	keys map[string][]byte
}

// fileFormat is the on-disk JSON shape: normalized id -> base64 key.
type fileFormat struct {
	Keys map[string]string `json:"keys"`
}

// NewFileKeyStore loads or creates a key store file at path.
func NewFileKeyStore(path string) (*FileKeyStore, error) {
	s := &FileKeyStore{path: path, keys: make(map[string][]byte)}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("keystore: create dir: %w", err)
		}
		if err := s.persist(); err != nil {
			return nil, err
		}
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: read %s: %w", path, err)
	}
	var stored fileFormat
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("keystore: parse %s: %w", path, err)
	}
	for id, encoded := range stored.Keys {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("keystore: decode key for %s: %w", id, err)
		}
		s.keys[id] = key
	}
	return s, nil
}

func (s *FileKeyStore) Put(_ context.Context, checkpointID string, key []byte) error {
	id := ledger.NormalizeID(checkpointID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.keys[id]; ok {
		if bytes.Equal(existing, key) {
			return nil
		}
		return ErrKeyExists
	}
	stored := make([]byte, len(key))
	copy(stored, key)
	s.keys[id] = stored
	return s.persist()
}

func (s *FileKeyStore) Get(_ context.Context, checkpointID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[ledger.NormalizeID(checkpointID)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(key))
	copy(out, key)
	return out, nil
}

// persist writes the keys to disk. Callers hold the write lock.
func (s *FileKeyStore) persist() error {
	stored := fileFormat{Keys: make(map[string]string, len(s.keys))}
	for id, key := range s.keys {
		stored.Keys[id] = base64.StdEncoding.EncodeToString(key)
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("keystore: encode: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("keystore: write %s: %w", s.path, err)
	}
	return nil
}

var (
	_ KeyStore = (*MemoryKeyStore)(nil)
	_ KeyStore = (*FileKeyStore)(nil)
)

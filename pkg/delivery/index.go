package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Mindstate-AI/sdk/pkg/commitment"
)

// ErrNotIndexed is returned by Index.Get when no entry exists at the address.
var ErrNotIndexed = errors.New("delivery: envelope not indexed")

// IndexEntry locates a stored envelope and pins its exact bytes.
type IndexEntry struct {
	URI          string            `json:"uri"`
	EnvelopeHash commitment.Digest `json:"envelope_hash"`
}

// Index maps envelope addresses to index entries.
type Index interface {
	Put(ctx context.Context, addr commitment.Digest, entry IndexEntry) error
	Get(ctx context.Context, addr commitment.Digest) (*IndexEntry, error)
}

// MemoryIndex is an in-process Index.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[commitment.Digest]IndexEntry
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[commitment.Digest]IndexEntry)}
}

func (i *MemoryIndex) Put(_ context.Context, addr commitment.Digest, entry IndexEntry) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.entries[addr] = entry
	return nil
}

func (i *MemoryIndex) Get(_ context.Context, addr commitment.Digest) (*IndexEntry, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	entry, ok := i.entries[addr]
	if !ok {
		return nil, ErrNotIndexed
	}
	return &entry, nil
}

// redisKeyPrefix namespaces index keys in a shared Redis instance.
const redisKeyPrefix = "mindstate:envelope:"

// RedisIndex is a Redis-backed Index for multi-process deployments.
type RedisIndex struct {
	client *redis.Client
}

// NewRedisIndex connects to Redis at addr.
func NewRedisIndex(addr, password string, db int) *RedisIndex {
	return &RedisIndex{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewRedisIndexFromClient wraps an existing client.
func NewRedisIndexFromClient(client *redis.Client) *RedisIndex {
	return &RedisIndex{client: client}
}

func (i *RedisIndex) Put(ctx context.Context, addr commitment.Digest, entry IndexEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("delivery: encode index entry: %w", err)
	}
	if err := i.client.Set(ctx, redisKeyPrefix+addr.Hex(), data, 0).Err(); err != nil {
		return fmt.Errorf("delivery: redis set: %w", err)
	}
	return nil
}

func (i *RedisIndex) Get(ctx context.Context, addr commitment.Digest) (*IndexEntry, error) {
	data, err := i.client.Get(ctx, redisKeyPrefix+addr.Hex()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotIndexed
		}
		return nil, fmt.Errorf("delivery: redis get: %w", err)
	}
	var entry IndexEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("delivery: decode index entry: %w", err)
	}
	return &entry, nil
}

// Close releases the underlying Redis connection.
func (i *RedisIndex) Close() error {
	return i.client.Close()
}

var (
	_ Index = (*MemoryIndex)(nil)
	_ Index = (*RedisIndex)(nil)
)

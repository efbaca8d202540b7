// Package ddc provides the build cache: a content-addressed store mapping
// cache keys to previously extracted property payloads.
package ddc

import (
	"context"
	"errors"
	"sync"
)

// ErrMiss is returned by Get when no payload is stored for a key
var ErrMiss = errors.New("cache miss")

// ErrCorrupt is returned by Get when a stored payload cannot be decoded.
// Retrying will not help; the entry should be deleted.
var ErrCorrupt = errors.New("corrupt cache entry")

// Cache defines the interface for build cache operations.
type Cache interface {
	// Get retrieves the payload stored under key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key, replacing any previous payload.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes the payload stored under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// MemoryCache is an in-process Cache. It is safe for concurrent use.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryCache creates an empty in-memory cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]byte)}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, ok := c.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	return append([]byte(nil), data...), nil
}

func (c *MemoryCache) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = append([]byte(nil), data...)
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// Len returns the number of stored payloads
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

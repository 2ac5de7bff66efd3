// Package cache is the key/value collaborator used by handlers: an in-process
// map and a Redis implementation behind one generic interface.
package cache

import (
	"context"
	"sync"
)

// Cache stores values by key. A miss is (zero, false, nil).
type Cache[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool, error)
	Set(ctx context.Context, key K, value V) error
	Delete(ctx context.Context, key K) error
}

// InMemory is a concurrency-safe map Cache.
type InMemory[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

var _ Cache[string, int] = (*InMemory[string, int])(nil)

func NewInMemory[K comparable, V any]() *InMemory[K, V] {
	return &InMemory[K, V]{items: make(map[K]V)}
}

func (c *InMemory[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.items[key]

	return v, ok, nil
}

func (c *InMemory[K, V]) Set(ctx context.Context, key K, value V) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.items[key] = value
	c.mu.Unlock()

	return nil
}

func (c *InMemory[K, V]) Delete(ctx context.Context, key K) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()

	return nil
}

// All returns a snapshot of the cache contents.
func (c *InMemory[K, V]) All() map[K]V {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[K]V, len(c.items))
	for k, v := range c.items {
		out[k] = v
	}

	return out
}

// Len reports the number of entries.
func (c *InMemory[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

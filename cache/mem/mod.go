// Package mem implements an in-memory cache.
package mem

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.dedis.ch/elector/cache"
	"go.dedis.ch/elector/lifecycle"
)

// Cache is an in-memory cache. It is safe for concurrent use.
//
// - implements cache.Cache
type Cache struct {
	sync.Mutex

	entries map[string]cache.Entry
	clock   lifecycle.Clock
}

// NewCache returns a new empty cache. The clock dates the stored entries and
// can be nil.
func NewCache(clock lifecycle.Clock) *Cache {
	if clock == nil {
		clock = lifecycle.SystemClock{}
	}

	return &Cache{
		entries: make(map[string]cache.Entry),
		clock:   clock,
	}
}

// Get implements cache.Cache.
func (c *Cache) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	err := ctx.Err()
	if err != nil {
		return cache.Entry{}, false, cache.ContextError(err)
	}

	c.Lock()
	defer c.Unlock()

	entry, found := c.entries[key]

	return entry.Clone(), found, nil
}

// Set implements cache.Cache.
func (c *Cache) Set(ctx context.Context, key string, entry cache.Entry) (bool, error) {
	return c.Update(ctx, key, func(cache.Entry, bool) (cache.Entry, error) {
		return entry, nil
	})
}

// Update implements cache.Cache.
func (c *Cache) Update(ctx context.Context, key string, fn cache.UpdateFn) (bool, error) {
	err := ctx.Err()
	if err != nil {
		return false, cache.ContextError(err)
	}

	err = cache.CheckKey(key)
	if err != nil {
		return false, err
	}

	c.Lock()
	defer c.Unlock()

	current, found := c.entries[key]

	next, err := fn(current.Clone(), found)
	if err != nil {
		return false, err
	}

	if found && !cache.Supersedes(current, next) {
		return false, nil
	}

	next = next.Clone()
	next.Key = key
	next.StoredAt = c.clock.Now()

	c.entries[key] = next

	return true, nil
}

// ListByPrefix implements cache.Cache.
func (c *Cache) ListByPrefix(ctx context.Context, prefix string) ([]cache.Entry, error) {
	err := ctx.Err()
	if err != nil {
		return nil, cache.ContextError(err)
	}

	c.Lock()
	defer c.Unlock()

	entries := []cache.Entry{}
	for key, entry := range c.entries {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, entry.Clone())
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})

	return entries, nil
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.Lock()
	defer c.Unlock()

	return len(c.entries)
}

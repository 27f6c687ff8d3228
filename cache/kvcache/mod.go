// Package kvcache implements a persistent cache on top of a key/value
// database.
package kvcache

import (
	"context"
	"encoding/json"

	"go.dedis.ch/elector/cache"
	"go.dedis.ch/elector/core/store/kv"
	"go.dedis.ch/elector/lifecycle"
	"go.dedis.ch/elector/types"
	"golang.org/x/xerrors"
)

var bucketName = []byte("cache")

// Cache is a cache persisted in a key/value database. The writes are
// serialized by the database.
//
// - implements cache.Cache
type Cache struct {
	db    kv.DB
	clock lifecycle.Clock
}

// NewCache returns a new cache using the database. The clock dates the stored
// entries and can be nil.
func NewCache(db kv.DB, clock lifecycle.Clock) *Cache {
	if clock == nil {
		clock = lifecycle.SystemClock{}
	}

	return &Cache{
		db:    db,
		clock: clock,
	}
}

// Get implements cache.Cache.
func (c *Cache) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	err := ctx.Err()
	if err != nil {
		return cache.Entry{}, false, cache.ContextError(err)
	}

	var entry cache.Entry
	var found bool

	err = c.db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(bucketName)
		if bucket == nil {
			return nil
		}

		entry, found, err = decode(bucket.Get([]byte(key)))
		return err
	})
	if err != nil {
		return cache.Entry{}, false, storageError(err)
	}

	return entry, found, nil
}

// Set implements cache.Cache.
func (c *Cache) Set(ctx context.Context, key string, entry cache.Entry) (bool, error) {
	return c.Update(ctx, key, func(cache.Entry, bool) (cache.Entry, error) {
		return entry, nil
	})
}

// Update implements cache.Cache. The function is called inside the database
// transaction.
func (c *Cache) Update(ctx context.Context, key string, fn cache.UpdateFn) (bool, error) {
	err := ctx.Err()
	if err != nil {
		return false, cache.ContextError(err)
	}

	err = cache.CheckKey(key)
	if err != nil {
		return false, err
	}

	stored := false

	err = c.db.Update(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(bucketName)
		if err != nil {
			return xerrors.Errorf("failed to open bucket: %v", err)
		}

		current, found, err := decode(bucket.Get([]byte(key)))
		if err != nil {
			return err
		}

		next, err := fn(current, found)
		if err != nil {
			return err
		}

		if found && !cache.Supersedes(current, next) {
			return nil
		}

		next.Key = key
		next.StoredAt = c.clock.Now()

		data, err := json.Marshal(next)
		if err != nil {
			return xerrors.Errorf("failed to encode entry: %v", err)
		}

		err = bucket.Set([]byte(key), data)
		if err != nil {
			return xerrors.Errorf("failed to store entry: %v", err)
		}

		stored = true

		return nil
	})
	if err != nil {
		return false, storageError(err)
	}

	return stored, nil
}

// ListByPrefix implements cache.Cache.
func (c *Cache) ListByPrefix(ctx context.Context, prefix string) ([]cache.Entry, error) {
	err := ctx.Err()
	if err != nil {
		return nil, cache.ContextError(err)
	}

	entries := []cache.Entry{}

	err = c.db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket(bucketName)
		if bucket == nil {
			return nil
		}

		return bucket.Scan([]byte(prefix), func(k, v []byte) error {
			entry, _, err := decode(v)
			if err != nil {
				return err
			}

			entries = append(entries, entry)

			return nil
		})
	})
	if err != nil {
		return nil, storageError(err)
	}

	return entries, nil
}

func decode(data []byte) (cache.Entry, bool, error) {
	if data == nil {
		return cache.Entry{}, false, nil
	}

	var entry cache.Entry

	err := json.Unmarshal(data, &entry)
	if err != nil {
		return cache.Entry{}, false, xerrors.Errorf("failed to decode entry: %v", err)
	}

	return entry, true, nil
}

func storageError(err error) error {
	if types.KindOf(err) != 0 {
		return err
	}

	return types.Unreachable(err, "cache storage failed")
}

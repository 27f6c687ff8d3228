package kvcache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/elector/cache"
	"go.dedis.ch/elector/core/store/kv"
	"go.dedis.ch/elector/internal/testing/fake"
	"go.dedis.ch/elector/types"
)

var t0 = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func TestCache_SetGet(t *testing.T) {
	c, _ := makeCache(t)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, found)

	stored, err := c.Set(ctx, "a", cache.Entry{
		Source:     types.SourceContent,
		Status:     types.RegistrationPending,
		ObservedAt: t0,
	})
	require.NoError(t, err)
	require.True(t, stored)

	entry, found, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "a", entry.Key)
	require.Equal(t, types.SourceContent, entry.Source)
	require.Equal(t, types.RegistrationPending, entry.Status)
	require.Equal(t, t0, entry.StoredAt)

	stored, err = c.Set(ctx, "a", cache.Entry{ObservedAt: t0.Add(-time.Minute)})
	require.NoError(t, err)
	require.False(t, stored)

	stored, err = c.Set(ctx, "a", cache.Entry{Status: types.RegistrationApproved, ObservedAt: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.True(t, stored)

	entry, _, err = c.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, types.RegistrationApproved, entry.Status)

	_, err = c.Set(ctx, "", cache.Entry{})
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestCache_Update(t *testing.T) {
	c, _ := makeCache(t)
	ctx := context.Background()

	wg := sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := c.Update(ctx, cache.ElectionKey(1), func(current cache.Entry, found bool) (cache.Entry, error) {
				if !found {
					current.Election = &types.Election{ID: 1}
				}

				current.Election.TotalVotes++

				return current, nil
			})
			require.NoError(t, err)
		}()
	}

	wg.Wait()

	entry, _, err := c.Get(ctx, cache.ElectionKey(1))
	require.NoError(t, err)
	require.Equal(t, uint64(10), entry.Election.TotalVotes)

	_, err = c.Update(ctx, "a", func(cache.Entry, bool) (cache.Entry, error) {
		return cache.Entry{}, types.State("oops")
	})
	require.ErrorIs(t, err, types.ErrState)
}

func TestCache_ListByPrefix(t *testing.T) {
	c, _ := makeCache(t)
	ctx := context.Background()

	entries, err := c.ListByPrefix(ctx, cache.ElectionPrefix)
	require.NoError(t, err)
	require.Empty(t, entries)

	for _, key := range []string{"election/2", "eligibility/1/b", "election/1"} {
		_, err := c.Set(ctx, key, cache.Entry{})
		require.NoError(t, err)
	}

	entries, err = c.ListByPrefix(ctx, cache.ElectionPrefix)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "election/1", entries[0].Key)
}

func TestCache_Persistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	db, err := kv.New(path)
	require.NoError(t, err)

	_, err = NewCache(db, nil).Set(ctx, "a", cache.Entry{Status: types.RegistrationApproved})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = kv.New(path)
	require.NoError(t, err)

	defer db.Close()

	entry, found, err := NewCache(db, nil).Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, types.RegistrationApproved, entry.Status)
}

func TestCache_Failures(t *testing.T) {
	c, db := makeCache(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Get(ctx, "a")
	require.ErrorIs(t, err, types.ErrUnreachable)

	_, err = c.Set(ctx, "a", cache.Entry{})
	require.ErrorIs(t, err, types.ErrUnreachable)

	_, err = c.ListByPrefix(ctx, "")
	require.ErrorIs(t, err, types.ErrUnreachable)

	err = db.Update(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate(bucketName)
		require.NoError(t, err)

		return bucket.Set([]byte("bad"), []byte("{"))
	})
	require.NoError(t, err)

	_, _, err = c.Get(context.Background(), "bad")
	require.ErrorIs(t, err, types.ErrUnreachable)
	require.Contains(t, err.Error(), "failed to decode entry")

	require.NoError(t, db.Close())

	_, err = c.Set(context.Background(), "a", cache.Entry{})
	require.ErrorIs(t, err, types.ErrUnreachable)
}

// -----------------------------------------------------------------------------
// Utility functions

func makeCache(t *testing.T) (*Cache, kv.DB) {
	db, err := kv.New(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return NewCache(db, fake.NewClock(t0)), db
}

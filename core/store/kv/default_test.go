package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestBoltDB_New(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "missing", "test.db"))
	require.Nil(t, db)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to open db: ")
}

func TestBoltDB_UpdateAndView(t *testing.T) {
	db := makeDB(t)

	committed := false

	err := db.Update(func(tx WritableTx) error {
		bucket, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		tx.OnCommit(func() { committed = true })

		return bucket.Set([]byte("ping"), []byte("pong"))
	})
	require.NoError(t, err)
	require.True(t, committed)

	err = db.View(func(tx ReadableTx) error {
		bucket := tx.GetBucket([]byte("bucket"))
		require.NotNil(t, bucket)

		require.Equal(t, []byte("pong"), bucket.Get([]byte("ping")))
		require.Nil(t, tx.GetBucket([]byte("unknown")))

		return nil
	})
	require.NoError(t, err)

	err = db.Update(func(tx WritableTx) error {
		_, err := tx.GetBucketOrCreate(nil)
		return err
	})
	require.EqualError(t, err, "failed to create bucket: bucket name required")
}

func TestBoltDB_Update_Rollback(t *testing.T) {
	db := makeDB(t)

	committed := false

	err := db.Update(func(tx WritableTx) error {
		bucket, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		tx.OnCommit(func() { committed = true })

		require.NoError(t, bucket.Set([]byte("ping"), []byte("pong")))

		return xerrors.New("oops")
	})
	require.EqualError(t, err, "oops")
	require.False(t, committed)

	err = db.View(func(tx ReadableTx) error {
		require.Nil(t, tx.GetBucket([]byte("bucket")))
		return nil
	})
	require.NoError(t, err)
}

func TestBoltBucket_Get_Set_Delete(t *testing.T) {
	db := makeDB(t)

	err := db.Update(func(tx WritableTx) error {
		b, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		require.NoError(t, b.Set([]byte("ping"), []byte("pong")))

		value := b.Get([]byte("ping"))
		require.Equal(t, []byte("pong"), value)

		value = b.Get([]byte("pong"))
		require.Nil(t, value)

		require.NoError(t, b.Delete([]byte("ping")))

		value = b.Get([]byte("ping"))
		require.Nil(t, value)

		return nil
	})

	require.NoError(t, err)
}

func TestBoltBucket_ForEach(t *testing.T) {
	db := makeDB(t)

	err := db.Update(func(tx WritableTx) error {
		b, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		require.NoError(t, b.Set([]byte{2}, []byte{2}))
		require.NoError(t, b.Set([]byte{1}, []byte{1}))
		require.NoError(t, b.Set([]byte{0}, []byte{0}))

		var i byte = 0
		return b.ForEach(func(k, v []byte) error {
			require.Equal(t, []byte{i}, k)
			require.Equal(t, []byte{i}, v)
			i++
			return nil
		})
	})
	require.NoError(t, err)
}

func TestBoltBucket_Scan(t *testing.T) {
	db := makeDB(t)

	err := db.Update(func(tx WritableTx) error {
		b, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		require.NoError(t, b.Set([]byte("a/1"), []byte{1}))
		require.NoError(t, b.Set([]byte("a/2"), []byte{2}))
		require.NoError(t, b.Set([]byte("b/1"), []byte{3}))

		keys := []string{}
		err = b.Scan([]byte("a/"), func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, []string{"a/1", "a/2"}, keys)

		count := 0
		err = b.Scan(nil, func(k, v []byte) error {
			count++
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, count)

		err = b.Scan([]byte{}, func(k, v []byte) error {
			return xerrors.New("oops")
		})
		require.EqualError(t, err, "callback failed: oops")

		return nil
	})
	require.NoError(t, err)
}

// -----------------------------------------------------------------------------
// Utility functions

func makeDB(t *testing.T) DB {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

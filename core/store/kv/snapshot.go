package kv

import (
	"go.dedis.ch/elector/core/store"
	"golang.org/x/xerrors"
)

var errReadOnly = xerrors.New("missing bucket")

// bucketSnapshot is the adapter of a bucket to a store snapshot. A nil bucket
// is an empty read-only snapshot.
//
// - implements store.Snapshot
type bucketSnapshot struct {
	bucket Bucket
}

// NewSnapshot returns a snapshot that reads and writes the bucket. The
// snapshot is only valid during the transaction of the bucket.
func NewSnapshot(bucket Bucket) store.Snapshot {
	return bucketSnapshot{bucket: bucket}
}

// Get implements store.Readable.
func (s bucketSnapshot) Get(key []byte) ([]byte, error) {
	if s.bucket == nil {
		return nil, nil
	}

	return s.bucket.Get(key), nil
}

// Set implements store.Writable.
func (s bucketSnapshot) Set(key, value []byte) error {
	if s.bucket == nil {
		return errReadOnly
	}

	return s.bucket.Set(key, value)
}

// Delete implements store.Writable.
func (s bucketSnapshot) Delete(key []byte) error {
	if s.bucket == nil {
		return errReadOnly
	}

	return s.bucket.Delete(key)
}

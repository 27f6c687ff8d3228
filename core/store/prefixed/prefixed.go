// Package prefixed implements snapshots that namespace every key with a
// prefix, so that independent components can share the same store.
package prefixed

import (
	"go.dedis.ch/elector/core/store"
)

// Separator is inserted between the prefix and the key.
const Separator = '/'

type readable struct {
	store.Readable
	prefix []byte
}

type writable struct {
	store.Writable
	prefix []byte
}

type snapshot struct {
	*writable
	*readable
}

// NewSnapshot creates a new prefixed Snapshot.
func NewSnapshot(prefix string, snap store.Snapshot) store.Snapshot {
	p := []byte(prefix)
	return &snapshot{
		&writable{snap, p},
		&readable{snap, p},
	}
}

// NewReadable creates a new prefixed Readable.
func NewReadable(prefix string, r store.Readable) store.Readable {
	p := []byte(prefix)
	return &readable{r, p}
}

// Get implements store.Readable. It reads the prefixed key.
func (s *readable) Get(key []byte) ([]byte, error) {
	return s.Readable.Get(NewPrefixedKey(s.prefix, key))
}

// Set implements store.Writable. It writes the prefixed key.
func (s *writable) Set(key []byte, value []byte) error {
	return s.Writable.Set(NewPrefixedKey(s.prefix, key), value)
}

// Delete implements store.Writable. It deletes the prefixed key.
func (s *writable) Delete(key []byte) error {
	return s.Writable.Delete(NewPrefixedKey(s.prefix, key))
}

// NewPrefixedKey returns the key in the namespace of the prefix. The keys of a
// namespace share the prefix followed by the separator, which keeps them
// contiguous for a prefix scan.
func NewPrefixedKey(prefix, key []byte) []byte {
	res := make([]byte, 0, len(prefix)+1+len(key))
	res = append(res, prefix...)
	res = append(res, Separator)
	res = append(res, key...)

	return res
}

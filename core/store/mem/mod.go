// Package mem implements an in-memory snapshot that stages the writes on top
// of a parent store.
//
// The writes are only visible through the overlay until they are applied to a
// writable store, which allows one to execute a transaction and to discard its
// effects when it is refused.
package mem

import (
	"sort"

	"go.dedis.ch/elector/core/store"
	"golang.org/x/xerrors"
)

type item struct {
	value   []byte
	deleted bool
}

// Overlay is an in-memory snapshot on top of a parent. Reads look up the
// staged writes first and then the parent.
//
// - implements store.Snapshot
type Overlay struct {
	parent store.Readable
	store  map[string]item
}

// NewOverlay returns a new empty overlay on top of the parent. A nil parent is
// an empty store.
func NewOverlay(parent store.Readable) *Overlay {
	return &Overlay{
		parent: parent,
		store:  make(map[string]item),
	}
}

// Get implements store.Readable. It returns the staged value of the key, or
// the value of the parent.
func (o *Overlay) Get(key []byte) ([]byte, error) {
	it, found := o.store[string(key)]
	if found {
		if it.deleted {
			return nil, nil
		}

		return it.value, nil
	}

	if o.parent == nil {
		return nil, nil
	}

	value, err := o.parent.Get(key)
	if err != nil {
		return nil, xerrors.Errorf("failed to read parent: %v", err)
	}

	return value, nil
}

// Set implements store.Writable. It stages the value of the key.
func (o *Overlay) Set(key, value []byte) error {
	o.store[string(key)] = item{value: append([]byte{}, value...)}

	return nil
}

// Delete implements store.Writable. It stages the deletion of the key.
func (o *Overlay) Delete(key []byte) error {
	o.store[string(key)] = item{deleted: true}

	return nil
}

// Len returns the number of staged writes.
func (o *Overlay) Len() int {
	return len(o.store)
}

// Apply writes the staged changes to the store in the order of the keys.
func (o *Overlay) Apply(w store.Writable) error {
	keys := make([]string, 0, len(o.store))
	for key := range o.store {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		it := o.store[key]

		var err error
		if it.deleted {
			err = w.Delete([]byte(key))
		} else {
			err = w.Set([]byte(key), it.value)
		}

		if err != nil {
			return xerrors.Errorf("failed to apply '%s': %v", key, err)
		}
	}

	return nil
}

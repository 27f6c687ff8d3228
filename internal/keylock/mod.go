// Package keylock provides locks indexed by a string key.
package keylock

import "sync"

// Locker serializes the callers that share the same key. The mutex of a key
// is released from the table when nobody holds or waits for it.
type Locker struct {
	sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sync.Mutex
	refs int
}

// New returns an empty locker.
func New() *Locker {
	return &Locker{
		entries: make(map[string]*entry),
	}
}

// Lock acquires the lock of the key and returns the function to release it.
func (l *Locker) Lock(key string) func() {
	l.Mutex.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	e.refs++
	l.Mutex.Unlock()

	e.Lock()

	return func() {
		e.Unlock()

		l.Mutex.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, key)
		}
		l.Mutex.Unlock()
	}
}

// Len returns the number of keys currently locked or waited for.
func (l *Locker) Len() int {
	l.Mutex.Lock()
	defer l.Mutex.Unlock()

	return len(l.entries)
}

// Set is a set of keys in flight. Unlike the locker, a second caller does not
// wait but is told that the key is taken.
type Set struct {
	sync.Mutex
	keys map[string]struct{}
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{
		keys: make(map[string]struct{}),
	}
}

// TryAcquire adds the key to the set. It returns false if the key is already
// in flight, otherwise the function to release it.
func (s *Set) TryAcquire(key string) (func(), bool) {
	s.Lock()
	defer s.Unlock()

	_, found := s.keys[key]
	if found {
		return nil, false
	}

	s.keys[key] = struct{}{}

	return func() {
		s.Lock()
		delete(s.keys, key)
		s.Unlock()
	}, true
}

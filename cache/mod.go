// Package cache defines the local cache that the coordinator falls back to
// when the ledger and the content store are unavailable.
//
// Entries are namespaced by key: eligibility answers live under
// "eligibility/<election>/<voter>" and election snapshots under
// "election/<election>". An entry observed before the one already stored is
// discarded so that a late answer never downgrades a fresher one.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/elector/types"
	"golang.org/x/xerrors"
)

const (
	// EligibilityPrefix is the namespace of the eligibility answers.
	EligibilityPrefix = "eligibility/"

	// ElectionPrefix is the namespace of the election snapshots.
	ElectionPrefix = "election/"
)

// Entry is a value of the cache.
type Entry struct {
	Key        string                   `json:"key"`
	Source     types.Source             `json:"source"`
	Status     types.RegistrationStatus `json:"status"`
	Election   *types.Election          `json:"election,omitempty"`
	ObservedAt time.Time                `json:"observedAt"`
	StoredAt   time.Time                `json:"storedAt"`
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	clone := e
	if e.Election != nil {
		election := e.Election.Clone()
		clone.Election = &election
	}

	return clone
}

// UpdateFn is the function that computes the new value of an entry from the
// current one. The boolean is false when the key is not set.
type UpdateFn func(current Entry, found bool) (Entry, error)

// Cache is the interface of the local cache.
type Cache interface {
	// Get returns the entry of the key. The boolean is false when the key is
	// not set.
	Get(ctx context.Context, key string) (Entry, bool, error)

	// Set stores the entry under the key, unless the stored entry was
	// observed after it. It returns true if the entry has been stored.
	Set(ctx context.Context, key string, entry Entry) (bool, error)

	// Update atomically reads the entry of the key and stores the result of
	// the function, with the same rule as Set.
	Update(ctx context.Context, key string, fn UpdateFn) (bool, error)

	// ListByPrefix returns the entries whose key starts with the prefix,
	// sorted by key.
	ListByPrefix(ctx context.Context, prefix string) ([]Entry, error)
}

// EligibilityKey returns the key of the eligibility answer of the voter.
func EligibilityKey(id types.ElectionID, voter common.Address) string {
	return fmt.Sprintf("%s%d/%s", EligibilityPrefix, id, strings.ToLower(voter.Hex()))
}

// ElectionKey returns the key of the snapshot of the election.
func ElectionKey(id types.ElectionID) string {
	return fmt.Sprintf("%s%d", ElectionPrefix, id)
}

// ElectionEntry returns the entry of a snapshot of the election.
func ElectionEntry(e types.Election, source types.Source, observedAt time.Time) Entry {
	snapshot := e.Clone()

	return Entry{
		Key:        ElectionKey(e.ID),
		Source:     source,
		Election:   &snapshot,
		ObservedAt: observedAt,
	}
}

// Supersedes returns true if the next entry can replace the current one.
func Supersedes(current, next Entry) bool {
	return !next.ObservedAt.Before(current.ObservedAt)
}

// ContextError translates the error of a done context into an adapter error.
func ContextError(err error) error {
	if xerrors.Is(err, context.DeadlineExceeded) {
		return types.Timeout(err, "cache deadline exceeded")
	}

	return types.Unreachable(err, "cache request interrupted")
}

// CheckKey returns a validation error for an empty key.
func CheckKey(key string) error {
	if key == "" {
		return types.Validation("empty cache key")
	}

	return nil
}

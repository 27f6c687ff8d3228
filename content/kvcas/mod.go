// Package kvcas implements a content-addressed store on top of a key/value
// database.
//
// Objects are kept in a bucket indexed by their address. A second bucket maps
// every (election, voter) pair to the address of the current version of the
// registration.
package kvcas

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog"
	"go.dedis.ch/elector"
	"go.dedis.ch/elector/content"
	"go.dedis.ch/elector/core/store/kv"
	"go.dedis.ch/elector/lifecycle"
	"go.dedis.ch/elector/types"
	"golang.org/x/xerrors"
)

var (
	objectsBucket = []byte("objects")
	indexBucket   = []byte("registrations")
)

// Store is a content-addressed store persisted in a key/value database.
//
// - implements content.Content
type Store struct {
	db     kv.DB
	clock  lifecycle.Clock
	logger zerolog.Logger
}

// Option is the type of option to set some fields of the store.
type Option func(*Store)

// WithClock is an option to set the clock that dates the registrations.
func WithClock(clock lifecycle.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore returns a new store using the database.
func NewStore(db kv.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		clock:  lifecycle.SystemClock{},
		logger: elector.Logger.With().Str("component", "content").Logger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Store implements content.Content.
func (s *Store) Store(ctx context.Context, data []byte) (cid.Cid, error) {
	err := ctx.Err()
	if err != nil {
		return cid.Undef, content.ContextError(err)
	}

	var addr cid.Cid

	err = s.db.Update(func(tx kv.WritableTx) error {
		addr, err = putObject(tx, data)
		return err
	})
	if err != nil {
		return cid.Undef, storageError(err)
	}

	return addr, nil
}

// Fetch implements content.Content. It returns an error of kind NotFound if
// the address is unknown.
func (s *Store) Fetch(ctx context.Context, addr cid.Cid) ([]byte, error) {
	err := ctx.Err()
	if err != nil {
		return nil, content.ContextError(err)
	}

	var data []byte

	err = s.db.View(func(tx kv.ReadableTx) error {
		data, err = getObject(tx, addr)
		return err
	})
	if err != nil {
		return nil, storageError(err)
	}

	return data, nil
}

// StoreRegistration implements content.Content. The new version keeps the
// identifier and the registration time of the version it supersedes.
func (s *Store) StoreRegistration(ctx context.Context, reg types.VoterRegistration) (cid.Cid, error) {
	err := ctx.Err()
	if err != nil {
		return cid.Undef, content.ContextError(err)
	}

	if !reg.Status.Valid() || reg.Status == types.RegistrationNone {
		return cid.Undef, types.Validation("invalid registration status '%s'", reg.Status)
	}

	var addr cid.Cid

	err = s.db.Update(func(tx kv.WritableTx) error {
		index, err := tx.GetBucketOrCreate(indexBucket)
		if err != nil {
			return xerrors.Errorf("failed to open index: %v", err)
		}

		key := indexKey(reg.ElectionID, reg.Voter)

		prev := index.Get(key)
		if prev != nil {
			previous, err := decodeRegistration(tx, prev)
			if err != nil {
				return err
			}

			err = checkChange(previous.Status, reg.Status)
			if err != nil {
				return err
			}

			reg.ID = previous.ID
			reg.RegisteredAt = previous.RegisteredAt
			reg.Supersedes = string(prev)
		}

		now := s.clock.Now()

		if reg.ID == "" {
			reg.ID = uuid.NewString()
		}
		if reg.RegisteredAt.IsZero() {
			reg.RegisteredAt = now
		}
		if reg.UpdatedAt.IsZero() {
			reg.UpdatedAt = now
		}

		data, err := json.Marshal(reg)
		if err != nil {
			return xerrors.Errorf("failed to encode registration: %v", err)
		}

		addr, err = putObject(tx, data)
		if err != nil {
			return err
		}

		return index.Set(key, []byte(addr.String()))
	})
	if err != nil {
		return cid.Undef, storageError(err)
	}

	s.logger.Debug().
		Stringer("election", reg.ElectionID).
		Str("voter", reg.Voter.Hex()).
		Stringer("status", reg.Status).
		Stringer("address", addr).
		Msg("registration stored")

	return addr, nil
}

// Registration implements content.Content. It reads the index entry of the
// voter.
func (s *Store) Registration(ctx context.Context, id types.ElectionID,
	voter common.Address) (types.VoterRegistration, bool, error) {

	err := ctx.Err()
	if err != nil {
		return types.VoterRegistration{}, false, content.ContextError(err)
	}

	var reg types.VoterRegistration
	found := false

	err = s.db.View(func(tx kv.ReadableTx) error {
		index := tx.GetBucket(indexBucket)
		if index == nil {
			return nil
		}

		current := index.Get(indexKey(id, voter))
		if current == nil {
			return nil
		}

		decoded, err := decodeRegistration(tx, current)
		if err != nil {
			return err
		}

		reg = decoded
		found = true

		return nil
	})
	if err != nil {
		return types.VoterRegistration{}, false, storageError(err)
	}

	return reg, found, nil
}

// ListByElection implements content.Content. The registrations are sorted by
// registration time.
func (s *Store) ListByElection(ctx context.Context, id types.ElectionID) ([]types.VoterRegistration, error) {
	err := ctx.Err()
	if err != nil {
		return nil, content.ContextError(err)
	}

	regs := []types.VoterRegistration{}

	err = s.db.View(func(tx kv.ReadableTx) error {
		index := tx.GetBucket(indexBucket)
		if index == nil {
			return nil
		}

		return index.Scan(electionPrefix(id), func(k, v []byte) error {
			reg, err := decodeRegistration(tx, v)
			if err != nil {
				return err
			}

			regs = append(regs, reg)

			return nil
		})
	})
	if err != nil {
		return nil, storageError(err)
	}

	content.SortRegistrations(regs)

	return regs, nil
}

// History returns every version of the registration of the voter, from the
// most recent to the oldest.
func (s *Store) History(ctx context.Context, reg types.VoterRegistration) ([]types.VoterRegistration, error) {
	err := ctx.Err()
	if err != nil {
		return nil, content.ContextError(err)
	}

	var history []types.VoterRegistration

	err = s.db.View(func(tx kv.ReadableTx) error {
		index := tx.GetBucket(indexBucket)
		if index == nil {
			return nil
		}

		next := index.Get(indexKey(reg.ElectionID, reg.Voter))

		for next != nil {
			version, err := decodeRegistration(tx, next)
			if err != nil {
				return err
			}

			history = append(history, version)

			next = nil
			if version.Supersedes != "" {
				next = []byte(version.Supersedes)
			}
		}

		return nil
	})
	if err != nil {
		return nil, storageError(err)
	}

	return history, nil
}

func putObject(tx kv.WritableTx, data []byte) (cid.Cid, error) {
	addr, err := content.Address(data)
	if err != nil {
		return cid.Undef, err
	}

	bucket, err := tx.GetBucketOrCreate(objectsBucket)
	if err != nil {
		return cid.Undef, xerrors.Errorf("failed to open bucket: %v", err)
	}

	if bucket.Get(addr.Bytes()) != nil {
		return addr, nil
	}

	err = bucket.Set(addr.Bytes(), data)
	if err != nil {
		return cid.Undef, xerrors.Errorf("failed to store object: %v", err)
	}

	return addr, nil
}

func getObject(tx kv.ReadableTx, addr cid.Cid) ([]byte, error) {
	if !addr.Defined() {
		return nil, types.Validation("undefined content address")
	}

	bucket := tx.GetBucket(objectsBucket)
	if bucket == nil {
		return nil, types.NotFound("object %s not found", addr)
	}

	data := bucket.Get(addr.Bytes())
	if data == nil {
		return nil, types.NotFound("object %s not found", addr)
	}

	err := content.Verify(addr, data)
	if err != nil {
		return nil, err
	}

	return append([]byte{}, data...), nil
}

func decodeRegistration(tx kv.ReadableTx, text []byte) (types.VoterRegistration, error) {
	addr, err := content.ParseAddress(string(text))
	if err != nil {
		return types.VoterRegistration{}, err
	}

	data, err := getObject(tx, addr)
	if err != nil {
		return types.VoterRegistration{}, err
	}

	var reg types.VoterRegistration

	err = json.Unmarshal(data, &reg)
	if err != nil {
		return types.VoterRegistration{}, types.Rejected(err, "object %s is not a registration", addr)
	}

	return reg, nil
}

func checkChange(current, next types.RegistrationStatus) error {
	if next == types.RegistrationPending && current != types.RegistrationPending {
		return types.State("voter already has a registration with status %s", current)
	}

	return lifecycle.CheckRegistrationChange(current, next)
}

func storageError(err error) error {
	if types.KindOf(err) != 0 {
		return err
	}

	return types.Unreachable(err, "content storage failed")
}

func electionPrefix(id types.ElectionID) []byte {
	return []byte(fmt.Sprintf("%020d/", uint64(id)))
}

func indexKey(id types.ElectionID, voter common.Address) []byte {
	return append(electionPrefix(id), voter.Bytes()...)
}

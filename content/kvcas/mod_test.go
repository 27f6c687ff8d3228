package kvcas

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/elector/content"
	"go.dedis.ch/elector/core/store/kv"
	"go.dedis.ch/elector/internal/testing/fake"
	"go.dedis.ch/elector/types"
)

var (
	admin = common.HexToAddress("0xa0")
	alice = common.HexToAddress("0xb1")
	bob   = common.HexToAddress("0xb2")
	t0    = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
)

func TestStore_StoreFetch(t *testing.T) {
	store, _ := makeStore(t)
	ctx := context.Background()

	addr, err := store.Store(ctx, []byte("description"))
	require.NoError(t, err)

	again, err := store.Store(ctx, []byte("description"))
	require.NoError(t, err)
	require.True(t, addr.Equals(again))

	data, err := store.Fetch(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, []byte("description"), data)

	other, err := content.Address([]byte("unknown"))
	require.NoError(t, err)

	_, err = store.Fetch(ctx, other)
	require.ErrorIs(t, err, types.ErrNotFound)

	_, err = store.Fetch(ctx, cid.Undef)
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestStore_Fetch_Corrupted(t *testing.T) {
	store, _ := makeStore(t)
	ctx := context.Background()

	addr, err := store.Store(ctx, []byte("description"))
	require.NoError(t, err)

	err = store.db.Update(func(tx kv.WritableTx) error {
		return tx.GetBucket(objectsBucket).Set(addr.Bytes(), []byte("tampered"))
	})
	require.NoError(t, err)

	_, err = store.Fetch(ctx, addr)
	require.ErrorIs(t, err, types.ErrRejected)
}

func TestStore_StoreRegistration(t *testing.T) {
	store, clock := makeStore(t)
	ctx := context.Background()

	first, err := store.StoreRegistration(ctx, types.VoterRegistration{
		ElectionID:       1,
		Voter:            alice,
		Status:           types.RegistrationPending,
		VerificationData: []byte("id card"),
	})
	require.NoError(t, err)

	clock.Advance(time.Minute)

	second, err := store.StoreRegistration(ctx, types.VoterRegistration{
		ElectionID: 1,
		Voter:      alice,
		Status:     types.RegistrationApproved,
		Approver:   &admin,
	})
	require.NoError(t, err)
	require.False(t, first.Equals(second))

	regs, err := store.ListByElection(ctx, 1)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	require.Equal(t, types.RegistrationApproved, regs[0].Status)
	require.Equal(t, first.String(), regs[0].Supersedes)
	require.Equal(t, t0, regs[0].RegisteredAt)
	require.Equal(t, t0.Add(time.Minute), regs[0].UpdatedAt)
	require.NotEmpty(t, regs[0].ID)

	history, err := store.History(ctx, regs[0])
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, types.RegistrationPending, history[1].Status)
	require.Equal(t, []byte("id card"), history[1].VerificationData)
	require.Equal(t, regs[0].ID, history[1].ID)

	data, err := store.Fetch(ctx, first)
	require.NoError(t, err)
	require.Contains(t, string(data), `"status":"pending"`)
}

func TestStore_StoreRegistration_Invalid(t *testing.T) {
	store, _ := makeStore(t)
	ctx := context.Background()

	_, err := store.StoreRegistration(ctx, types.VoterRegistration{ElectionID: 1, Voter: alice})
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = store.StoreRegistration(ctx, types.VoterRegistration{
		ElectionID: 1,
		Voter:      alice,
		Status:     types.RegistrationBlacklisted,
	})
	require.NoError(t, err)

	_, err = store.StoreRegistration(ctx, types.VoterRegistration{
		ElectionID: 1,
		Voter:      alice,
		Status:     types.RegistrationApproved,
	})
	require.ErrorIs(t, err, types.ErrState)

	_, err = store.StoreRegistration(ctx, types.VoterRegistration{
		ElectionID: 1,
		Voter:      bob,
		Status:     types.RegistrationRejected,
	})
	require.NoError(t, err)

	_, err = store.StoreRegistration(ctx, types.VoterRegistration{
		ElectionID: 1,
		Voter:      bob,
		Status:     types.RegistrationPending,
	})
	require.ErrorIs(t, err, types.ErrState)
}

func TestStore_ListByElection(t *testing.T) {
	store, clock := makeStore(t)
	ctx := context.Background()

	regs, err := store.ListByElection(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, regs)

	register(t, store, 1, bob)
	clock.Advance(time.Second)
	register(t, store, 1, alice)
	register(t, store, 2, alice)
	register(t, store, 10, alice)

	regs, err = store.ListByElection(ctx, 1)
	require.NoError(t, err)
	require.Len(t, regs, 2)
	require.Equal(t, bob, regs[0].Voter)
	require.Equal(t, alice, regs[1].Voter)

	regs, err = store.ListByElection(ctx, 10)
	require.NoError(t, err)
	require.Len(t, regs, 1)
}

func TestStore_Registration(t *testing.T) {
	store, clock := makeStore(t)
	ctx := context.Background()

	_, found, err := store.Registration(ctx, 1, alice)
	require.NoError(t, err)
	require.False(t, found)

	register(t, store, 1, alice)
	register(t, store, 10, bob)

	clock.Advance(time.Minute)

	_, err = store.StoreRegistration(ctx, types.VoterRegistration{
		ElectionID: 1,
		Voter:      alice,
		Status:     types.RegistrationApproved,
		Approver:   &admin,
	})
	require.NoError(t, err)

	reg, found, err := store.Registration(ctx, 1, alice)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, types.RegistrationApproved, reg.Status)
	require.NotEmpty(t, reg.Supersedes)

	_, found, err = store.Registration(ctx, 1, bob)
	require.NoError(t, err)
	require.False(t, found)

	reg, found, err = store.Registration(ctx, 10, bob)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, bob, reg.Voter)
}

func TestStore_Canceled(t *testing.T) {
	store, _ := makeStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Store(ctx, []byte("a"))
	require.ErrorIs(t, err, types.ErrUnreachable)

	_, err = store.Fetch(ctx, cid.Undef)
	require.ErrorIs(t, err, types.ErrUnreachable)

	_, err = store.StoreRegistration(ctx, types.VoterRegistration{})
	require.ErrorIs(t, err, types.ErrUnreachable)

	_, err = store.ListByElection(ctx, 1)
	require.ErrorIs(t, err, types.ErrUnreachable)

	_, _, err = store.Registration(ctx, 1, alice)
	require.ErrorIs(t, err, types.ErrUnreachable)

	_, err = store.History(ctx, types.VoterRegistration{})
	require.ErrorIs(t, err, types.ErrUnreachable)
}

func TestStore_Closed(t *testing.T) {
	db, err := kv.New(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)

	store := NewStore(db)
	require.NoError(t, db.Close())

	_, err = store.Store(context.Background(), []byte("a"))
	require.ErrorIs(t, err, types.ErrUnreachable)
}

// -----------------------------------------------------------------------------
// Utility functions

func makeStore(t *testing.T) (*Store, *fake.Clock) {
	db, err := kv.New(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	clock := fake.NewClock(t0)

	return NewStore(db, WithClock(clock)), clock
}

func register(t *testing.T, store *Store, id types.ElectionID, voter common.Address) {
	_, err := store.StoreRegistration(context.Background(), types.VoterRegistration{
		ElectionID: id,
		Voter:      voter,
		Status:     types.RegistrationPending,
	})
	require.NoError(t, err)
}

package tally

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/elector/cache"
	"go.dedis.ch/elector/cache/mem"
	"go.dedis.ch/elector/core/store/kv"
	"go.dedis.ch/elector/internal/retry"
	"go.dedis.ch/elector/internal/testing/fake"
	"go.dedis.ch/elector/internal/testing/faulty"
	"go.dedis.ch/elector/ledger"
	"go.dedis.ch/elector/ledger/native"
	"go.dedis.ch/elector/types"
)

var (
	admin = common.HexToAddress("0xa0")
	alice = common.HexToAddress("0xb1")
	bob   = common.HexToAddress("0xb2")
	carol = common.HexToAddress("0xb3")
	t0    = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
)

func TestEngine_Finalize(t *testing.T) {
	env := makeEnv(t, map[common.Address]types.CandidateID{alice: 2, bob: 2, carol: 3})
	ctx := context.Background()

	res, err := env.engine.Finalize(ctx, 1, admin)
	require.NoError(t, err)
	require.Equal(t, types.ElectionID(1), res.ElectionID)
	require.Equal(t, types.CandidateID(2), res.Winner)
	require.True(t, res.Receipt.Accepted)
	require.False(t, res.Replayed)
	require.Equal(t, 1, env.ledger.Writes())

	e, err := env.native.GetElectionDetails(ctx, 1)
	require.NoError(t, err)
	require.True(t, e.Finalized)
	require.Equal(t, types.StatusFinalized, e.Status)
	require.Equal(t, types.CandidateID(2), e.Winner)
	require.Equal(t, res.Receipt.TxID, e.FinalizeTx)

	entry, found, err := env.store.Get(ctx, cache.ElectionKey(1))
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, entry.Election.Finalized)

	res, err = env.engine.Finalize(ctx, 1, admin)
	require.NoError(t, err)
	require.True(t, res.Replayed)
	require.Equal(t, types.CandidateID(2), res.Winner)
	require.Equal(t, e.FinalizeTx, res.Receipt.TxID)
	require.Equal(t, 1, env.ledger.Writes())

	_, err = env.engine.Finalize(ctx, 1, alice)
	require.ErrorIs(t, err, types.ErrPermission)
}

func TestEngine_Finalize_TieBreak(t *testing.T) {
	env := makeEnv(t, map[common.Address]types.CandidateID{alice: 3, bob: 2})

	res, err := env.engine.Finalize(context.Background(), 1, admin)
	require.NoError(t, err)
	require.Equal(t, types.CandidateID(2), res.Winner)

	env = makeEnv(t, map[common.Address]types.CandidateID{alice: 3, bob: 1, carol: 2})

	res, err = env.engine.Finalize(context.Background(), 1, admin)
	require.NoError(t, err)
	require.Equal(t, types.CandidateID(1), res.Winner)
}

func TestEngine_Finalize_Guards(t *testing.T) {
	env := makeEnv(t, map[common.Address]types.CandidateID{alice: 1})
	ctx := context.Background()

	_, err := env.engine.Finalize(ctx, 1, alice)
	require.ErrorIs(t, err, types.ErrPermission)

	_, err = env.engine.Finalize(ctx, 2, admin)
	require.ErrorIs(t, err, types.ErrNotFound)

	env.clock.Set(t0.Add(90 * time.Minute))

	_, err = env.engine.Finalize(ctx, 1, admin)
	require.ErrorIs(t, err, types.ErrState)

	env = makeEnv(t, nil)

	_, err = env.engine.Finalize(ctx, 1, admin)
	require.ErrorIs(t, err, types.ErrState)
	require.Contains(t, err.Error(), "without votes")

	require.Equal(t, 0, env.ledger.Writes())
}

func TestEngine_Finalize_Ambiguous(t *testing.T) {
	env := makeEnv(t, map[common.Address]types.CandidateID{alice: 1})
	ctx := context.Background()

	env.ledger.FailNextWrites(1, types.Timeout(nil, "slow"), true)

	res, err := env.engine.Finalize(ctx, 1, admin)
	require.NoError(t, err)
	require.Equal(t, types.CandidateID(1), res.Winner)
	require.True(t, res.Replayed)
	require.Equal(t, 2, env.ledger.Writes())
}

func TestEngine_Finalize_LostAnswer(t *testing.T) {
	env := makeEnv(t, map[common.Address]types.CandidateID{alice: 1})
	ctx := context.Background()

	// The ledger applied the call but the caller only sees a refusal.
	env.ledger.FailNextWrites(1, types.Rejected(nil, "already finalized"), true)

	res, err := env.engine.Finalize(ctx, 1, admin)
	require.NoError(t, err)
	require.Equal(t, types.CandidateID(1), res.Winner)
	require.True(t, res.Replayed)
}

func TestEngine_Finalize_Failures(t *testing.T) {
	env := makeEnv(t, map[common.Address]types.CandidateID{alice: 1})
	ctx := context.Background()

	env.ledger.FailNextWrites(1, types.Rejected(nil, "refused"), false)

	_, err := env.engine.Finalize(ctx, 1, admin)
	require.ErrorIs(t, err, types.ErrRejected)

	env.ledger.FailWrites(types.Unreachable(nil, "down"))

	_, err = env.engine.Finalize(ctx, 1, admin)
	require.ErrorIs(t, err, types.ErrUnreachable)
	require.Equal(t, 4, env.ledger.Writes())

	env.ledger.FailReads(types.Unreachable(nil, "down"))

	_, err = env.engine.Finalize(ctx, 1, admin)
	require.ErrorIs(t, err, types.ErrUnreachable)
	require.Contains(t, err.Error(), "failed to read election")

	e, err := env.native.GetElectionDetails(ctx, 1)
	require.NoError(t, err)
	require.False(t, e.Finalized)
}

func TestTally(t *testing.T) {
	e := types.Election{
		ID:         1,
		Status:     types.StatusActive,
		TotalVotes: 4,
		Candidates: []types.Candidate{
			{ID: 1, VoteCount: 1},
			{ID: 2, VoteCount: 3},
		},
	}

	res := Tally(e)
	require.Equal(t, types.ElectionID(1), res.ElectionID)
	require.Equal(t, types.StatusActive, res.Status)
	require.Equal(t, uint64(4), res.TotalVotes)
	require.Equal(t, 0.25, res.Candidates[0].Share)
	require.Equal(t, 0.75, res.Candidates[1].Share)
	require.Equal(t, types.CandidateID(2), res.Leader)
	require.False(t, res.Final)

	e.Finalized = true
	e.Status = types.StatusFinalized
	e.Winner = 1

	res = Tally(e)
	require.True(t, res.Final)
	require.Equal(t, types.CandidateID(1), res.Leader)

	res = Tally(types.Election{Candidates: []types.Candidate{{ID: 1}}})
	require.Equal(t, types.CandidateID(0), res.Leader)
	require.Equal(t, 0.0, res.Candidates[0].Share)
}

func TestEngine_Finalize_Canceled(t *testing.T) {
	env := makeEnv(t, map[common.Address]types.CandidateID{alice: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := cancelAfterSubmit{Ledger: env.ledger, cancel: cancel}
	engine := NewEngine(l, env.store, WithClock(env.clock),
		WithPolicy(retry.Policy{Attempts: 3, Delay: time.Millisecond}))

	res, err := engine.Finalize(ctx, 1, admin)
	require.NoError(t, err)
	require.Equal(t, types.CandidateID(1), res.Winner)

	e, err := env.native.GetElectionDetails(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, e.Finalized)

	_, found, err := env.store.Get(context.Background(), cache.ElectionKey(1))
	require.NoError(t, err)
	require.False(t, found)
}

// -----------------------------------------------------------------------------
// Utility functions

type env struct {
	engine *Engine
	native *native.Ledger
	ledger *faulty.Ledger
	store  *mem.Cache
	clock  *fake.Clock
}

// makeEnv creates an ended election with three candidates and the given
// votes.
func makeEnv(t *testing.T, votes map[common.Address]types.CandidateID) env {
	db, err := kv.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	clock := fake.NewClock(t0)
	l := native.NewLedger(db, native.WithClock(clock))
	ctx := context.Background()

	call, err := ledger.CreateElection(admin, types.ElectionSpec{
		Title:       "Board",
		VotingStart: t0.Add(time.Hour),
		VotingEnd:   t0.Add(2 * time.Hour),
		Candidates:  []types.Candidate{{Name: "Alice"}, {Name: "Bob"}, {Name: "Carol"}},
	})
	require.NoError(t, err)

	for _, call := range []ledger.Call{call, ledger.OpenRegistration(admin, 1)} {
		_, err = l.Submit(ctx, call)
		require.NoError(t, err)
	}

	clock.Set(t0.Add(90 * time.Minute))

	for voter, candidate := range votes {
		_, err = l.Submit(ctx, ledger.Vote(voter, 1, candidate))
		require.NoError(t, err)
	}

	clock.Set(t0.Add(3 * time.Hour))

	wrapped := faulty.NewLedger(l)
	store := mem.NewCache(clock)

	return env{
		engine: NewEngine(wrapped, store, WithClock(clock),
			WithPolicy(retry.Policy{Attempts: 3, Delay: time.Millisecond})),
		native: l,
		ledger: wrapped,
		store:  store,
		clock:  clock,
	}
}

// cancelAfterSubmit cancels the context of the caller once the call is
// submitted.
type cancelAfterSubmit struct {
	*faulty.Ledger
	cancel context.CancelFunc
}

func (l cancelAfterSubmit) Submit(ctx context.Context, call ledger.Call) (types.Receipt, error) {
	receipt, err := l.Ledger.Submit(ctx, call)
	l.cancel()

	return receipt, err
}

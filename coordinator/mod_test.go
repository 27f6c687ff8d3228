package coordinator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/elector/cache/mem"
	"go.dedis.ch/elector/content/kvcas"
	"go.dedis.ch/elector/core/store/kv"
	"go.dedis.ch/elector/internal/retry"
	"go.dedis.ch/elector/internal/testing/fake"
	"go.dedis.ch/elector/internal/testing/faulty"
	"go.dedis.ch/elector/ledger/native"
	"go.dedis.ch/elector/types"
)

var (
	admin = common.HexToAddress("0xa0")
	alice = common.HexToAddress("0xb1")
	bob   = common.HexToAddress("0xb2")
	t0    = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

	unreachable = types.Unreachable(fake.GetError(), "down")
)

func TestCoordinator_Scenario(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	view, err := env.coord.CreateElection(ctx, admin, makeSpec(), []byte("board of 2024"))
	require.NoError(t, err)
	require.Equal(t, types.ElectionID(1), view.ID)
	require.Equal(t, types.StatusDraft, view.Status)
	require.Equal(t, types.SourceLedger, view.Source)
	require.NotEmpty(t, view.DescriptionRef)
	require.Len(t, view.Candidates, 2)

	desc, err := env.coord.Description(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("board of 2024"), desc)

	view, err = env.coord.Advance(ctx, 1, admin, types.StatusRegistration)
	require.NoError(t, err)
	require.Equal(t, types.StatusRegistration, view.Status)

	reg, err := env.coord.RegisterVoter(ctx, 1, alice, []byte("passport"))
	require.NoError(t, err)
	require.Equal(t, types.RegistrationPending, reg.Status)
	require.NotEmpty(t, reg.ID)

	reg, err = env.coord.ApproveVoter(ctx, 1, admin, alice)
	require.NoError(t, err)
	require.Equal(t, types.RegistrationApproved, reg.Status)
	require.Equal(t, &admin, reg.Approver)
	require.Equal(t, []byte("passport"), reg.VerificationData)

	regs, err := env.coord.ListRegistrations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	require.Equal(t, types.RegistrationApproved, regs[0].Status)

	res, err := env.coord.CheckEligibility(ctx, 1, alice)
	require.NoError(t, err)
	require.True(t, res.Approved())
	require.Equal(t, types.SourceLedger, res.Source)

	env.clock.Set(t0.Add(90 * time.Minute))

	receipt, err := env.coord.CastVote(ctx, 1, alice, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), receipt.Election.TotalVotes)

	_, err = env.coord.CastVote(ctx, 1, alice, 2)
	require.ErrorIs(t, err, types.ErrAlreadyVoted)

	view, err = env.coord.GetElection(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), view.TotalVotes)
	require.Equal(t, uint64(1), view.Candidates[0].VoteCount)
	require.Equal(t, uint64(0), view.Candidates[1].VoteCount)

	env.clock.Set(t0.Add(3 * time.Hour))

	final, err := env.coord.Finalize(ctx, 1, admin)
	require.NoError(t, err)
	require.Equal(t, types.CandidateID(1), final.Winner)

	results, err := env.coord.Results(ctx, 1)
	require.NoError(t, err)
	require.True(t, results.Final)
	require.Equal(t, types.CandidateID(1), results.Leader)
	require.Equal(t, uint64(1), results.TotalVotes)
}

func TestCoordinator_ReadOnly(t *testing.T) {
	env := makeEnv(t, WithMode(ModeReadOnly))
	ctx := context.Background()

	require.Equal(t, ModeReadOnly, env.coord.Mode())

	_, err := env.coord.CreateElection(ctx, admin, makeSpec(), nil)
	require.ErrorIs(t, err, types.ErrState)
	require.EqualError(t, err, "the coordinator is read-only")

	_, err = env.coord.CastVote(ctx, 1, alice, 1)
	require.ErrorIs(t, err, types.ErrState)

	_, err = env.coord.Finalize(ctx, 1, admin)
	require.ErrorIs(t, err, types.ErrState)

	_, err = env.coord.ApproveVoter(ctx, 1, admin, alice)
	require.ErrorIs(t, err, types.ErrState)

	views, err := env.coord.ListElections(ctx)
	require.NoError(t, err)
	require.Empty(t, views)

	require.Equal(t, 0, env.ledger.Writes())
}

func TestCoordinator_ListElections(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.coord.CreateElection(ctx, admin, makeSpec(), nil)
		require.NoError(t, err)
	}

	views, err := env.coord.ListElections(ctx)
	require.NoError(t, err)
	require.Len(t, views, 3)

	for i, view := range views {
		require.Equal(t, types.ElectionID(i+1), view.ID)
		require.Equal(t, types.SourceLedger, view.Source)
		require.False(t, view.Stale)
	}

	env.ledger.FailReads(unreachable)

	views, err = env.coord.ListElections(ctx)
	require.NoError(t, err)
	require.Len(t, views, 3)

	for i, view := range views {
		require.Equal(t, types.ElectionID(i+1), view.ID)
		require.Equal(t, types.SourceCache, view.Source)
		require.True(t, view.Stale)
	}

	env.ledger.FailReads(types.Rejected(nil, "bad request"))

	_, err = env.coord.ListElections(ctx)
	require.ErrorIs(t, err, types.ErrRejected)
}

func TestCoordinator_GetElection(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	_, err := env.coord.GetElection(ctx, 1)
	require.ErrorIs(t, err, types.ErrNotFound)

	_, err = env.coord.CreateElection(ctx, admin, makeSpec(), nil)
	require.NoError(t, err)

	env.ledger.FailReads(unreachable)

	view, err := env.coord.GetElection(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, types.SourceCache, view.Source)
	require.True(t, view.Stale)
	require.Equal(t, "Board", view.Title)

	_, err = env.coord.GetElection(ctx, 2)
	require.ErrorIs(t, err, types.ErrUnreachable)

	env.clock.Set(t0.Add(3 * time.Hour))

	// The effective status is computed from the clock even on a snapshot.
	view, err = env.coord.GetElection(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, types.StatusDraft, view.Status)
}

func TestCoordinator_Advance(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	_, err := env.coord.CreateElection(ctx, admin, makeSpec(), nil)
	require.NoError(t, err)

	_, err = env.coord.Advance(ctx, 1, bob, types.StatusRegistration)
	require.ErrorIs(t, err, types.ErrPermission)

	_, err = env.coord.Advance(ctx, 1, admin, types.StatusEnded)
	require.ErrorIs(t, err, types.ErrState)

	_, err = env.coord.Advance(ctx, 1, admin, types.StatusFinalized)
	require.ErrorIs(t, err, types.ErrState)

	_, err = env.coord.Advance(ctx, 2, admin, types.StatusRegistration)
	require.ErrorIs(t, err, types.ErrNotFound)

	env.ledger.FailWrites(unreachable)

	_, err = env.coord.Advance(ctx, 1, admin, types.StatusRegistration)
	require.ErrorIs(t, err, types.ErrUnreachable)
	require.Equal(t, 4, env.ledger.Writes())
}

func TestCoordinator_AddCandidate(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	_, err := env.coord.CreateElection(ctx, admin, makeSpec(), nil)
	require.NoError(t, err)

	candidate, err := env.coord.AddCandidate(ctx, 1, admin, types.CandidateSpec{Name: "Carol"})
	require.NoError(t, err)
	require.Equal(t, types.CandidateID(3), candidate.ID)
	require.Equal(t, "Carol", candidate.Name)

	view, err := env.coord.GetElection(ctx, 1)
	require.NoError(t, err)
	require.Len(t, view.Candidates, 3)

	_, err = env.coord.AddCandidate(ctx, 1, bob, types.CandidateSpec{Name: "Dave"})
	require.ErrorIs(t, err, types.ErrPermission)

	_, err = env.coord.AddCandidate(ctx, 1, admin, types.CandidateSpec{Name: " "})
	require.ErrorIs(t, err, types.ErrValidation)

	env.clock.Set(t0.Add(time.Hour))

	_, err = env.coord.AddCandidate(ctx, 1, admin, types.CandidateSpec{Name: "Dave"})
	require.ErrorIs(t, err, types.ErrState)
}

func TestCoordinator_CreateElection(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	spec := makeSpec()
	spec.Title = ""

	_, err := env.coord.CreateElection(ctx, admin, spec, nil)
	require.ErrorIs(t, err, types.ErrValidation)

	view, err := env.coord.CreateElection(ctx, admin, makeSpec(), nil)
	require.NoError(t, err)
	require.Empty(t, view.DescriptionRef)

	_, err = env.coord.Description(ctx, 1)
	require.ErrorIs(t, err, types.ErrNotFound)

	env.content.FailWrites(unreachable)

	_, err = env.coord.CreateElection(ctx, admin, makeSpec(), []byte("text"))
	require.ErrorIs(t, err, types.ErrUnreachable)
	require.Contains(t, err.Error(), "failed to store description")
}

func TestCoordinator_RegisterVoter(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	_, err := env.coord.CreateElection(ctx, admin, makeSpec(), nil)
	require.NoError(t, err)

	_, err = env.coord.RegisterVoter(ctx, 1, alice, nil)
	require.ErrorIs(t, err, types.ErrState)

	_, err = env.coord.Advance(ctx, 1, admin, types.StatusRegistration)
	require.NoError(t, err)

	env.content.FailWrites(unreachable)

	// The ledger accepted the registration so the content store is only
	// best-effort.
	reg, err := env.coord.RegisterVoter(ctx, 1, alice, nil)
	require.NoError(t, err)
	require.Equal(t, types.RegistrationPending, reg.Status)

	_, err = env.coord.RegisterVoter(ctx, 1, alice, nil)
	require.ErrorIs(t, err, types.ErrState)
}

func TestCoordinator_Decide(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	_, err := env.coord.CreateElection(ctx, admin, makeSpec(), nil)
	require.NoError(t, err)

	_, err = env.coord.Advance(ctx, 1, admin, types.StatusRegistration)
	require.NoError(t, err)

	_, err = env.coord.RegisterVoter(ctx, 1, bob, nil)
	require.NoError(t, err)

	_, err = env.coord.ApproveVoter(ctx, 1, bob, bob)
	require.ErrorIs(t, err, types.ErrPermission)

	reg, err := env.coord.RejectVoter(ctx, 1, admin, bob)
	require.NoError(t, err)
	require.Equal(t, types.RegistrationRejected, reg.Status)

	res, err := env.coord.CheckEligibility(ctx, 1, bob)
	require.NoError(t, err)
	require.Equal(t, types.RegistrationRejected, res.Status)

	reg, err = env.coord.BlacklistVoter(ctx, 1, admin, bob)
	require.NoError(t, err)
	require.Equal(t, types.RegistrationBlacklisted, reg.Status)

	writes := env.ledger.Writes()

	_, err = env.coord.ApproveVoter(ctx, 1, admin, bob)
	require.ErrorIs(t, err, types.ErrState)
	require.Equal(t, writes, env.ledger.Writes())

	res, err = env.coord.CheckEligibility(ctx, 1, bob)
	require.NoError(t, err)
	require.False(t, res.Approved())
}

func TestCoordinator_CheckEligibilities(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	_, err := env.coord.CreateElection(ctx, admin, makeSpec(), nil)
	require.NoError(t, err)

	_, err = env.coord.Advance(ctx, 1, admin, types.StatusRegistration)
	require.NoError(t, err)

	_, err = env.coord.RegisterVoter(ctx, 1, alice, nil)
	require.NoError(t, err)

	_, err = env.coord.ApproveVoter(ctx, 1, admin, alice)
	require.NoError(t, err)

	results, err := env.coord.CheckEligibilities(ctx, 1, []common.Address{alice, bob})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].Approved())
	require.Equal(t, types.RegistrationNone, results[1].Status)
}

func TestCoordinator_Watch(t *testing.T) {
	env := makeEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := env.coord.CreateElection(ctx, admin, makeSpec(), nil)
	require.NoError(t, err)

	_, err = env.coord.Advance(ctx, 1, admin, types.StatusRegistration)
	require.NoError(t, err)

	env.clock.Set(t0.Add(30 * time.Minute))

	updates := env.coord.Watch(ctx, 1, time.Millisecond)

	update := <-updates
	require.NoError(t, update.Err)
	require.Equal(t, types.StatusRegistration, update.Election.Status)
	require.Equal(t, 30*time.Minute, update.Remaining)

	env.clock.Set(t0.Add(90 * time.Minute))

	require.Eventually(t, func() bool {
		update := <-updates
		return update.Election.Status == types.StatusActive && update.Remaining == 30*time.Minute
	}, time.Second, time.Millisecond)

	cancel()

	require.Eventually(t, func() bool {
		_, more := <-updates
		return !more
	}, time.Second, time.Millisecond)
}

func TestCoordinator_WatchFinalized(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	_, err := env.coord.CreateElection(ctx, admin, makeSpec(), nil)
	require.NoError(t, err)

	_, err = env.coord.Advance(ctx, 1, admin, types.StatusRegistration)
	require.NoError(t, err)

	_, err = env.coord.RegisterVoter(ctx, 1, alice, nil)
	require.NoError(t, err)

	_, err = env.coord.ApproveVoter(ctx, 1, admin, alice)
	require.NoError(t, err)

	env.clock.Set(t0.Add(90 * time.Minute))

	_, err = env.coord.CastVote(ctx, 1, alice, 2)
	require.NoError(t, err)

	env.clock.Set(t0.Add(3 * time.Hour))

	_, err = env.coord.Finalize(ctx, 1, admin)
	require.NoError(t, err)

	updates := env.coord.Watch(ctx, 1, time.Hour)

	update := <-updates
	require.NoError(t, update.Err)
	require.True(t, update.Election.Finalized)
	require.Equal(t, types.CandidateID(2), update.Election.Winner)
	require.Zero(t, update.Remaining)

	_, more := <-updates
	require.False(t, more)
}

func TestCoordinator_WatchError(t *testing.T) {
	env := makeEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := env.coord.Watch(ctx, 1, time.Hour)

	update := <-updates
	require.ErrorIs(t, update.Err, types.ErrNotFound)
}

// -----------------------------------------------------------------------------
// Utility functions

type env struct {
	coord   *Coordinator
	ledger  *faulty.Ledger
	content *faulty.Content
	clock   *fake.Clock
}

func makeEnv(t *testing.T, opts ...Option) env {
	db, err := kv.New(filepath.Join(t.TempDir(), "elector.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	clock := fake.NewClock(t0)

	l := faulty.NewLedger(native.NewLedger(db, native.WithClock(clock)))
	c := faulty.NewContent(kvcas.NewStore(db, kvcas.WithClock(clock)))

	opts = append([]Option{
		WithClock(clock),
		WithPolicy(retry.Policy{Attempts: 3, Delay: time.Millisecond}),
	}, opts...)

	return env{
		coord:   NewCoordinator(l, c, mem.NewCache(clock), opts...),
		ledger:  l,
		content: c,
		clock:   clock,
	}
}

func makeSpec() types.ElectionSpec {
	return types.ElectionSpec{
		Title:               "Board",
		VotingStart:         t0.Add(time.Hour),
		VotingEnd:           t0.Add(2 * time.Hour),
		RequireRegistration: true,
		Candidates:          []types.Candidate{{Name: "Alice"}, {Name: "Bob"}},
	}
}

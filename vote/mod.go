// Package vote implements the submission of a vote.
//
// A vote is checked against the election before any write: the election must
// accept votes, the candidate must belong to it, the voter must be approved
// when the election requires a registration and the ledger must not hold a
// vote of the voter yet. The submission is retried on transport failures with
// the same transaction identifier, so that an attempt that reached the ledger
// is never applied twice.
package vote

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.dedis.ch/elector"
	"go.dedis.ch/elector/cache"
	"go.dedis.ch/elector/internal/keylock"
	"go.dedis.ch/elector/internal/retry"
	"go.dedis.ch/elector/ledger"
	"go.dedis.ch/elector/lifecycle"
	"go.dedis.ch/elector/types"
	"golang.org/x/xerrors"
)

var promVotes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "elector_votes_total",
	Help: "number of votes submitted per outcome",
}, []string{"outcome"})

func init() {
	elector.PromCollectors = append(elector.PromCollectors, promVotes)
}

// Resolver is the interface of the eligibility resolver used by the pipeline.
type Resolver interface {
	Resolve(ctx context.Context, id types.ElectionID, voter common.Address) (types.EligibilityResult, error)
}

// Pipeline submits the votes to the ledger.
type Pipeline struct {
	ledger   ledger.Ledger
	resolver Resolver
	cache    cache.Cache
	machine  lifecycle.Machine
	policy   retry.Policy
	inflight *keylock.Set
	logger   zerolog.Logger
}

// Option is the type of option to set some fields of the pipeline.
type Option func(*Pipeline)

// WithPolicy is an option to set the retry policy of the ledger operations.
func WithPolicy(policy retry.Policy) Option {
	return func(p *Pipeline) {
		p.policy = policy
	}
}

// WithClock is an option to set the clock of the pipeline.
func WithClock(clock lifecycle.Clock) Option {
	return func(p *Pipeline) {
		p.machine = lifecycle.NewMachine(clock)
	}
}

// NewPipeline returns a new vote pipeline.
func NewPipeline(l ledger.Ledger, resolver Resolver, ch cache.Cache, opts ...Option) *Pipeline {
	p := &Pipeline{
		ledger:   l,
		resolver: resolver,
		cache:    ch,
		machine:  lifecycle.NewMachine(nil),
		policy:   retry.Default,
		inflight: keylock.NewSet(),
		logger:   elector.Logger.With().Str("component", "vote").Logger(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// CastVote submits the vote of the voter for the candidate. A second call for
// the same voter and election made while the first one is in flight returns
// an error of kind InProgress.
func (p *Pipeline) CastVote(ctx context.Context, id types.ElectionID, voter common.Address,
	candidate types.CandidateID) (types.VoteReceipt, error) {

	release, ok := p.inflight.TryAcquire(fmt.Sprintf("%d/%s", id, voter.Hex()))
	if !ok {
		return types.VoteReceipt{}, types.InProgress("a vote of %s for election %d is already in flight",
			voter.Hex(), id)
	}

	defer release()

	receipt, err := p.castVote(ctx, id, voter, candidate)
	if err != nil {
		promVotes.WithLabelValues(types.KindOf(err).String()).Inc()

		return types.VoteReceipt{}, err
	}

	promVotes.WithLabelValues("accepted").Inc()

	return receipt, nil
}

func (p *Pipeline) castVote(ctx context.Context, id types.ElectionID, voter common.Address,
	candidate types.CandidateID) (types.VoteReceipt, error) {

	e, err := p.readElection(ctx, id)
	if err != nil {
		return types.VoteReceipt{}, err
	}

	err = p.machine.CheckVote(e)
	if err != nil {
		return types.VoteReceipt{}, err
	}

	_, found := e.Candidate(candidate)
	if !found {
		return types.VoteReceipt{}, types.NotFound("candidate %d not found in election %d", candidate, id)
	}

	if e.RequireRegistration {
		res, err := p.resolver.Resolve(ctx, id, voter)
		if err != nil {
			return types.VoteReceipt{}, xerrors.Errorf("failed to resolve eligibility: %w", err)
		}

		if !res.Approved() {
			return types.VoteReceipt{}, types.NotEligible("voter %s is not approved for election %d (%s from %s)",
				voter.Hex(), id, res.Status, res.Source)
		}
	}

	voted, err := p.hasVoted(ctx, id, voter)
	if err != nil {
		return types.VoteReceipt{}, err
	}

	if voted {
		return types.VoteReceipt{}, alreadyVoted(id, voter)
	}

	call := ledger.Vote(voter, id, candidate)

	var receipt types.Receipt

	attempts, err := p.policy.Run(ctx, "vote", func() error {
		receipt, err = p.ledger.Submit(ctx, call)
		return err
	})

	if xerrors.Is(err, types.ErrRejected) {
		return types.VoteReceipt{}, p.explainRejection(ctx, id, voter, err)
	}

	if err != nil {
		p.logger.Warn().Err(err).
			Str("tx", call.ID).
			Int("attempts", attempts).
			Msg("vote submission failed")

		return types.VoteReceipt{}, xerrors.Errorf("failed to submit vote: %w", err)
	}

	now := p.machine.Now()

	p.logger.Info().
		Stringer("election", id).
		Str("voter", voter.Hex()).
		Str("tx", receipt.TxID).
		Bool("replayed", receipt.Replayed).
		Msg("vote accepted")

	view := p.refresh(ctx, e, candidate, now)

	return types.VoteReceipt{
		Record: types.VoteRecord{
			ElectionID:  id,
			Voter:       voter,
			CandidateID: candidate,
			CastAt:      now,
		},
		Receipt:  receipt,
		Election: view,
		Attempts: attempts,
	}, nil
}

// explainRejection reads the ledger again to tell a duplicate vote from any
// other refusal.
func (p *Pipeline) explainRejection(ctx context.Context, id types.ElectionID,
	voter common.Address, cause error) error {

	voted, err := p.hasVoted(ctx, id, voter)
	if err == nil && voted {
		return alreadyVoted(id, voter)
	}

	return &types.Error{
		Kind:    types.KindState,
		Message: "vote refused by the ledger",
		Err:     cause,
	}
}

// refresh applies the vote to a copy of the election and stores it in the
// cache until the ledger is read again. The view of the ledger replaces the
// optimistic one when the read succeeds.
func (p *Pipeline) refresh(ctx context.Context, e types.Election, candidate types.CandidateID,
	now time.Time) types.ElectionView {

	optimistic := e.Clone()
	optimistic.TotalVotes++

	for i := range optimistic.Candidates {
		if optimistic.Candidates[i].ID == candidate {
			optimistic.Candidates[i].VoteCount++
		}
	}

	p.store(ctx, cache.ElectionEntry(optimistic, types.SourceOptimistic, now))

	fresh, err := p.ledger.GetElectionDetails(ctx, e.ID)
	if err != nil {
		p.logger.Warn().Err(err).Stringer("election", e.ID).Msg("failed to read election after vote")

		return p.machine.View(optimistic, types.SourceOptimistic, false)
	}

	p.store(ctx, cache.ElectionEntry(fresh, types.SourceLedger, p.machine.Now()))

	return p.machine.View(fresh, types.SourceLedger, false)
}

func (p *Pipeline) store(ctx context.Context, entry cache.Entry) {
	_, err := p.cache.Set(ctx, entry.Key, entry)
	if err != nil {
		p.logger.Warn().Err(err).Str("key", entry.Key).Msg("failed to store snapshot")
	}
}

func (p *Pipeline) readElection(ctx context.Context, id types.ElectionID) (types.Election, error) {
	var e types.Election

	_, err := p.policy.Run(ctx, "election", func() error {
		var err error
		e, err = p.ledger.GetElectionDetails(ctx, id)
		return err
	})
	if err != nil {
		return e, xerrors.Errorf("failed to read election: %w", err)
	}

	return e, nil
}

func (p *Pipeline) hasVoted(ctx context.Context, id types.ElectionID, voter common.Address) (bool, error) {
	var voted bool

	_, err := p.policy.Run(ctx, "voted", func() error {
		var err error
		voted, err = p.ledger.HasVoted(ctx, id, voter)
		return err
	})
	if err != nil {
		return false, xerrors.Errorf("failed to read vote record: %w", err)
	}

	return voted, nil
}

func alreadyVoted(id types.ElectionID, voter common.Address) error {
	return types.AlreadyVoted("voter %s already voted in election %d", voter.Hex(), id)
}

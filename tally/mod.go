// Package tally implements the finalization of an election and the
// computation of its results.
//
// The winner is the candidate with the most votes, the lowest candidate
// identifier winning a tie. Finalizing an election that is already finalized
// returns the recorded winner without writing to the ledger.
package tally

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.dedis.ch/elector"
	"go.dedis.ch/elector/cache"
	"go.dedis.ch/elector/internal/retry"
	"go.dedis.ch/elector/ledger"
	"go.dedis.ch/elector/lifecycle"
	"go.dedis.ch/elector/types"
	"golang.org/x/xerrors"
)

var promFinalizations = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "elector_finalizations_total",
	Help: "number of finalizations per outcome",
}, []string{"outcome"})

func init() {
	elector.PromCollectors = append(elector.PromCollectors, promFinalizations)
}

// Engine finalizes the elections.
type Engine struct {
	ledger  ledger.Ledger
	cache   cache.Cache
	machine lifecycle.Machine
	policy  retry.Policy
	logger  zerolog.Logger
}

// Option is the type of option to set some fields of the engine.
type Option func(*Engine)

// WithPolicy is an option to set the retry policy of the ledger operations.
func WithPolicy(policy retry.Policy) Option {
	return func(e *Engine) {
		e.policy = policy
	}
}

// WithClock is an option to set the clock of the engine.
func WithClock(clock lifecycle.Clock) Option {
	return func(e *Engine) {
		e.machine = lifecycle.NewMachine(clock)
	}
}

// NewEngine returns a new finalization engine.
func NewEngine(l ledger.Ledger, ch cache.Cache, opts ...Option) *Engine {
	e := &Engine{
		ledger:  l,
		cache:   ch,
		machine: lifecycle.NewMachine(nil),
		policy:  retry.Default,
		logger:  elector.Logger.With().Str("component", "tally").Logger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Finalize records the winner of the election on the ledger.
func (eng *Engine) Finalize(ctx context.Context, id types.ElectionID,
	requester common.Address) (types.FinalizeResult, error) {

	res, err := eng.finalize(ctx, id, requester)
	if err != nil {
		promFinalizations.WithLabelValues(types.KindOf(err).String()).Inc()
		return res, err
	}

	outcome := "finalized"
	if res.Replayed {
		outcome = "replayed"
	}

	promFinalizations.WithLabelValues(outcome).Inc()

	return res, nil
}

func (eng *Engine) finalize(ctx context.Context, id types.ElectionID,
	requester common.Address) (types.FinalizeResult, error) {

	e, err := eng.readElection(ctx, id)
	if err != nil {
		return types.FinalizeResult{}, err
	}

	err = eng.machine.CheckFinalize(e, requester)
	if xerrors.Is(err, lifecycle.ErrAlreadyFinalized) {
		return recorded(e), nil
	}

	if err != nil {
		return types.FinalizeResult{}, err
	}

	winner, _ := e.Leader()

	call := ledger.FinalizeElection(requester, id, winner)

	var receipt types.Receipt

	attempts, err := eng.policy.Run(ctx, "finalize", func() error {
		receipt, err = eng.ledger.Submit(ctx, call)
		return err
	})

	if xerrors.Is(err, types.ErrRejected) {
		// A previous attempt whose answer was lost may have finalized the
		// election already.
		current, readErr := eng.readElection(ctx, id)
		if readErr == nil && current.Finalized {
			eng.store(ctx, current)

			return recorded(current), nil
		}

		return types.FinalizeResult{}, xerrors.Errorf("failed to finalize: %w", err)
	}

	if err != nil {
		eng.logger.Warn().Err(err).
			Str("tx", call.ID).
			Int("attempts", attempts).
			Msg("finalization failed")

		return types.FinalizeResult{}, xerrors.Errorf("failed to finalize: %w", err)
	}

	eng.logger.Info().
		Stringer("election", id).
		Stringer("winner", winner).
		Str("tx", receipt.TxID).
		Msg("election finalized")

	final := e.Clone()
	final.Status = types.StatusFinalized
	final.Finalized = true
	final.Winner = winner
	final.FinalizeTx = receipt.TxID

	eng.store(ctx, final)

	return types.FinalizeResult{
		ElectionID: id,
		Winner:     winner,
		Receipt:    receipt,
		Replayed:   receipt.Replayed,
	}, nil
}

func (eng *Engine) readElection(ctx context.Context, id types.ElectionID) (types.Election, error) {
	var e types.Election

	_, err := eng.policy.Run(ctx, "election", func() error {
		var err error
		e, err = eng.ledger.GetElectionDetails(ctx, id)
		return err
	})
	if err != nil {
		return e, xerrors.Errorf("failed to read election: %w", err)
	}

	return e, nil
}

func (eng *Engine) store(ctx context.Context, e types.Election) {
	entry := cache.ElectionEntry(e, types.SourceLedger, eng.machine.Now())

	_, err := eng.cache.Set(ctx, entry.Key, entry)
	if err != nil {
		eng.logger.Warn().Err(err).Str("key", entry.Key).Msg("failed to store snapshot")
	}
}

func recorded(e types.Election) types.FinalizeResult {
	return types.FinalizeResult{
		ElectionID: e.ID,
		Winner:     e.Winner,
		Receipt: types.Receipt{
			TxID:     e.FinalizeTx,
			Accepted: true,
			Replayed: true,
			Output:   e.Winner.String(),
		},
		Replayed: true,
	}
}

// Tally returns the results of the election. The leader is only set once at
// least one vote is cast, and it is the recorded winner of a finalized
// election.
func Tally(e types.Election) types.Results {
	res := types.Results{
		ElectionID: e.ID,
		Status:     e.Status,
		TotalVotes: e.TotalVotes,
		Candidates: make([]types.CandidateResult, len(e.Candidates)),
		Final:      e.Finalized,
	}

	for i, c := range e.Candidates {
		res.Candidates[i] = types.CandidateResult{Candidate: c}

		if e.TotalVotes > 0 {
			res.Candidates[i].Share = float64(c.VoteCount) / float64(e.TotalVotes)
		}
	}

	switch {
	case e.Finalized:
		res.Leader = e.Winner
	case e.TotalVotes > 0:
		res.Leader, _ = e.Leader()
	}

	return res
}

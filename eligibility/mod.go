// Package eligibility resolves whether a voter may vote in an election.
//
// The resolver asks the stores in a strict order and stops at the first one
// that answers: the ledger is authoritative, the content store holds the
// off-chain registrations and the local cache remembers the last answer of
// either. Answers are never merged. An upstream answer refreshes the cache
// and a failed read never erases it.
package eligibility

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.dedis.ch/elector"
	"go.dedis.ch/elector/cache"
	"go.dedis.ch/elector/content"
	"go.dedis.ch/elector/internal/keylock"
	"go.dedis.ch/elector/internal/retry"
	"go.dedis.ch/elector/ledger"
	"go.dedis.ch/elector/lifecycle"
	"go.dedis.ch/elector/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"
)

// maxParallel is the number of voters resolved in parallel by ResolveMany.
const maxParallel = 8

var promAnswers = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "elector_eligibility_answers_total",
	Help: "number of eligibility answers per source",
}, []string{"source"})

func init() {
	elector.PromCollectors = append(elector.PromCollectors, promAnswers)
}

// Resolver answers the eligibility of the voters.
type Resolver struct {
	ledger  ledger.Ledger
	content content.Content
	cache   cache.Cache
	policy  retry.Policy
	clock   lifecycle.Clock
	group   singleflight.Group
	locks   *keylock.Locker
	logger  zerolog.Logger
}

// Option is the type of option to set some fields of the resolver.
type Option func(*Resolver)

// WithPolicy is an option to set the retry policy of the ledger reads.
func WithPolicy(policy retry.Policy) Option {
	return func(r *Resolver) {
		r.policy = policy
	}
}

// WithClock is an option to set the clock that dates the answers.
func WithClock(clock lifecycle.Clock) Option {
	return func(r *Resolver) {
		r.clock = clock
	}
}

// NewResolver returns a resolver that reads the stores.
func NewResolver(l ledger.Ledger, c content.Content, ch cache.Cache, opts ...Option) *Resolver {
	r := &Resolver{
		ledger:  l,
		content: c,
		cache:   ch,
		policy:  retry.Default,
		clock:   lifecycle.SystemClock{},
		locks:   keylock.New(),
		logger:  elector.Logger.With().Str("component", "resolver").Logger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns the eligibility of the voter. Concurrent calls for the same
// voter share the same resolution. When the caller leading the resolution
// gives up, the others resolve again with their own context. An error is
// returned when the ledger refuses the read or when the context is done.
func (r *Resolver) Resolve(ctx context.Context, id types.ElectionID,
	voter common.Address) (types.EligibilityResult, error) {

	key := cache.EligibilityKey(id, voter)

	for {
		ch := r.group.DoChan(key, func() (interface{}, error) {
			res, err := r.resolve(ctx, id, voter)
			if err != nil && ctx.Err() != nil {
				return nil, abandonedError{err: err}
			}

			return res, err
		})

		select {
		case <-ctx.Done():
			return types.EligibilityResult{}, ledger.ContextError(ctx.Err())
		case res := <-ch:
			var abandoned abandonedError
			if xerrors.As(res.Err, &abandoned) {
				if ctx.Err() == nil {
					continue
				}

				return types.EligibilityResult{}, abandoned.err
			}

			if res.Err != nil {
				return types.EligibilityResult{}, res.Err
			}

			return res.Val.(types.EligibilityResult), nil
		}
	}
}

// abandonedError is the result of a resolution interrupted because the context
// of the caller that started it is done.
type abandonedError struct {
	err error
}

func (e abandonedError) Error() string {
	return e.err.Error()
}

func (e abandonedError) Unwrap() error {
	return e.err
}

// ResolveMany resolves the voters in parallel. The results are in the order
// of the voters.
func (r *Resolver) ResolveMany(ctx context.Context, id types.ElectionID,
	voters []common.Address) ([]types.EligibilityResult, error) {

	results := make([]types.EligibilityResult, len(voters))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for i, voter := range voters {
		i, voter := i, voter

		g.Go(func() error {
			res, err := r.Resolve(ctx, id, voter)
			if err != nil {
				return xerrors.Errorf("failed to resolve %s: %w", voter.Hex(), err)
			}

			results[i] = res

			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return nil, err
	}

	return results, nil
}

// Record writes a known answer to the cache, for instance after a successful
// registration write. The same rules as the answers of the stores apply.
func (r *Resolver) Record(ctx context.Context, res types.EligibilityResult) {
	r.writeThrough(ctx, res)
}

func (r *Resolver) resolve(ctx context.Context, id types.ElectionID,
	voter common.Address) (types.EligibilityResult, error) {

	res := types.EligibilityResult{
		ElectionID: id,
		Voter:      voter,
		ObservedAt: r.clock.Now(),
	}

	status, supported, err := r.fromLedger(ctx, id, voter)
	if ctx.Err() != nil {
		return res, ledger.ContextError(ctx.Err())
	}

	switch {
	case err == nil && supported:
		res.Status = status
		res.Source = types.SourceLedger

		r.answer(ctx, res)

		return res, nil
	case err != nil && !types.IsRetryable(err):
		return res, err
	case err != nil:
		r.logger.Warn().Err(err).
			Stringer("election", id).
			Str("voter", voter.Hex()).
			Msg("ledger unavailable, falling back to content")
	}

	reg, found, err := r.content.Registration(ctx, id, voter)
	if ctx.Err() != nil {
		return res, content.ContextError(ctx.Err())
	}

	if err == nil {
		res.Source = types.SourceContent
		res.Status = types.RegistrationNone

		if found {
			res.Status = reg.Status
		} else {
			res.Reason = "no registration in the content store"
		}

		r.answer(ctx, res)

		return res, nil
	}

	r.logger.Warn().Err(err).
		Stringer("election", id).
		Str("voter", voter.Hex()).
		Msg("content store unavailable, falling back to cache")

	entry, found, err := r.cache.Get(ctx, cache.EligibilityKey(id, voter))
	if err != nil {
		r.logger.Warn().Err(err).Msg("cache unavailable")
	}

	if err != nil || !found {
		res.Source = types.SourceNone
		res.Status = types.RegistrationNone
		res.Reason = "no store could answer"

		promAnswers.WithLabelValues(res.Source.String()).Inc()

		return res, nil
	}

	res.Source = types.SourceCache
	res.Status = entry.Status
	res.Stale = true
	res.ObservedAt = entry.ObservedAt
	res.Reason = "answer of the " + entry.Source.String() + " from the cache"

	promAnswers.WithLabelValues(res.Source.String()).Inc()

	return res, nil
}

// fromLedger reads the status of the voter on the ledger. The boolean is
// false when the ledger offers no way to read it.
func (r *Resolver) fromLedger(ctx context.Context, id types.ElectionID,
	voter common.Address) (types.RegistrationStatus, bool, error) {

	caps := r.ledger.Capabilities()

	var status types.RegistrationStatus

	switch {
	case caps.VoterStatus:
		_, err := r.policy.Run(ctx, "voter status", func() error {
			var err error
			status, err = r.ledger.GetVoterStatus(ctx, id, voter)
			return err
		})

		return status, true, err
	case caps.AllowList:
		_, err := r.policy.Run(ctx, "voter allowed", func() error {
			allowed, err := r.ledger.IsVoterAllowed(ctx, id, voter)

			status = types.RegistrationNone
			if allowed {
				status = types.RegistrationApproved
			}

			return err
		})

		return status, true, err
	default:
		return types.RegistrationNone, false, nil
	}
}

func (r *Resolver) answer(ctx context.Context, res types.EligibilityResult) {
	promAnswers.WithLabelValues(res.Source.String()).Inc()

	r.writeThrough(ctx, res)
}

// writeThrough stores the answer in the cache unless the context is done. The
// writes of a key are serialized.
func (r *Resolver) writeThrough(ctx context.Context, res types.EligibilityResult) {
	key := cache.EligibilityKey(res.ElectionID, res.Voter)

	unlock := r.locks.Lock(key)
	defer unlock()

	if ctx.Err() != nil {
		return
	}

	_, err := r.cache.Set(ctx, key, cache.Entry{
		Source:     res.Source,
		Status:     res.Status,
		ObservedAt: res.ObservedAt,
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("failed to refresh cache")
	}
}

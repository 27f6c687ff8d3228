// Package coordinator implements the facade that the user interface calls to
// manage elections.
//
// The coordinator keeps no state of its own: the ledger holds the record of
// the elections, the content store the off-chain registrations and the local
// cache the last known answers. Reads retry the ledger and degrade to the
// cached snapshots as a last resort, while writes retry and then fail.
package coordinator

import (
	"context"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"go.dedis.ch/elector"
	"go.dedis.ch/elector/cache"
	"go.dedis.ch/elector/content"
	"go.dedis.ch/elector/eligibility"
	"go.dedis.ch/elector/internal/retry"
	"go.dedis.ch/elector/ledger"
	"go.dedis.ch/elector/lifecycle"
	"go.dedis.ch/elector/tally"
	"go.dedis.ch/elector/types"
	"go.dedis.ch/elector/vote"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// maxParallel is the number of elections read in parallel when listing.
const maxParallel = 8

// Coordinator is the facade of the election operations.
type Coordinator struct {
	ledger   ledger.Ledger
	content  content.Content
	cache    cache.Cache
	resolver *eligibility.Resolver
	pipeline *vote.Pipeline
	engine   *tally.Engine
	machine  lifecycle.Machine
	policy   retry.Policy
	mode     Mode
	logger   zerolog.Logger
}

type template struct {
	clock  lifecycle.Clock
	policy retry.Policy
	mode   Mode
}

// Option is the type of option to set some fields of the coordinator.
type Option func(*template)

// WithClock is an option to set the clock of the coordinator.
func WithClock(clock lifecycle.Clock) Option {
	return func(tmpl *template) {
		tmpl.clock = clock
	}
}

// WithPolicy is an option to set the retry policy of the ledger operations.
func WithPolicy(policy retry.Policy) Option {
	return func(tmpl *template) {
		tmpl.policy = policy
	}
}

// WithMode is an option to set the backend mode.
func WithMode(mode Mode) Option {
	return func(tmpl *template) {
		tmpl.mode = mode
	}
}

// NewCoordinator returns a coordinator of the stores.
func NewCoordinator(l ledger.Ledger, c content.Content, ch cache.Cache, opts ...Option) *Coordinator {
	tmpl := template{
		clock:  lifecycle.SystemClock{},
		policy: retry.Default,
		mode:   ModeLive,
	}

	for _, opt := range opts {
		opt(&tmpl)
	}

	resolver := eligibility.NewResolver(l, c, ch,
		eligibility.WithClock(tmpl.clock),
		eligibility.WithPolicy(tmpl.policy))

	return &Coordinator{
		ledger:   l,
		content:  c,
		cache:    ch,
		resolver: resolver,
		pipeline: vote.NewPipeline(l, resolver, ch, vote.WithClock(tmpl.clock), vote.WithPolicy(tmpl.policy)),
		engine:   tally.NewEngine(l, ch, tally.WithClock(tmpl.clock), tally.WithPolicy(tmpl.policy)),
		machine:  lifecycle.NewMachine(tmpl.clock),
		policy:   tmpl.policy,
		mode:     tmpl.mode,
		logger:   elector.Logger.With().Str("component", "coordinator").Logger(),
	}
}

// Mode returns the backend mode of the coordinator.
func (c *Coordinator) Mode() Mode {
	return c.mode
}

// ListElections returns every election sorted by identifier. When the ledger
// cannot be reached, the cached snapshots are returned instead.
func (c *Coordinator) ListElections(ctx context.Context) ([]types.ElectionView, error) {
	views, err := c.listFromLedger(ctx)
	if err == nil {
		return views, nil
	}

	if !types.IsRetryable(err) || ctx.Err() != nil {
		return nil, err
	}

	c.logger.Warn().Err(err).Msg("ledger unavailable, listing cached elections")

	entries, cacheErr := c.cache.ListByPrefix(ctx, cache.ElectionPrefix)
	if cacheErr != nil {
		c.logger.Warn().Err(cacheErr).Msg("cache unavailable")
		return nil, err
	}

	views = []types.ElectionView{}
	for _, entry := range entries {
		if entry.Election != nil {
			views = append(views, c.machine.View(*entry.Election, types.SourceCache, true))
		}
	}

	sort.Slice(views, func(i, j int) bool {
		return views[i].ID < views[j].ID
	})

	return views, nil
}

func (c *Coordinator) listFromLedger(ctx context.Context) ([]types.ElectionView, error) {
	var count uint64

	_, err := c.policy.Run(ctx, "count", func() error {
		var err error
		count, err = c.ledger.ElectionCount(ctx)
		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to count elections: %w", err)
	}

	views := make([]types.ElectionView, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for i := range views {
		i := i

		g.Go(func() error {
			e, err := c.readElection(gctx, types.ElectionID(i+1))
			if err != nil {
				return err
			}

			views[i] = c.machine.View(e, types.SourceLedger, false)

			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		return nil, err
	}

	return views, nil
}

// GetElection returns the election. When the ledger cannot be reached, the
// cached snapshot is returned instead.
func (c *Coordinator) GetElection(ctx context.Context, id types.ElectionID) (types.ElectionView, error) {
	e, err := c.readElection(ctx, id)
	if err == nil {
		return c.machine.View(e, types.SourceLedger, false), nil
	}

	if !types.IsRetryable(err) || ctx.Err() != nil {
		return types.ElectionView{}, err
	}

	entry, found, cacheErr := c.cache.Get(ctx, cache.ElectionKey(id))
	if cacheErr != nil || !found || entry.Election == nil {
		return types.ElectionView{}, err
	}

	c.logger.Warn().Err(err).Stringer("election", id).Msg("ledger unavailable, using cached election")

	return c.machine.View(*entry.Election, types.SourceCache, true), nil
}

// Description returns the description of the election from the content
// store.
func (c *Coordinator) Description(ctx context.Context, id types.ElectionID) ([]byte, error) {
	view, err := c.GetElection(ctx, id)
	if err != nil {
		return nil, err
	}

	if view.DescriptionRef == "" {
		return nil, types.NotFound("election %d has no description", id)
	}

	addr, err := content.ParseAddress(view.DescriptionRef)
	if err != nil {
		return nil, err
	}

	return c.content.Fetch(ctx, addr)
}

// Results returns the tally of the election.
func (c *Coordinator) Results(ctx context.Context, id types.ElectionID) (types.Results, error) {
	view, err := c.GetElection(ctx, id)
	if err != nil {
		return types.Results{}, err
	}

	return tally.Tally(view.Election), nil
}

// CheckEligibility returns the eligibility of the voter.
func (c *Coordinator) CheckEligibility(ctx context.Context, id types.ElectionID,
	voter common.Address) (types.EligibilityResult, error) {

	return c.resolver.Resolve(ctx, id, voter)
}

// CheckEligibilities returns the eligibility of the voters.
func (c *Coordinator) CheckEligibilities(ctx context.Context, id types.ElectionID,
	voters []common.Address) ([]types.EligibilityResult, error) {

	return c.resolver.ResolveMany(ctx, id, voters)
}

// CastVote submits the vote of the voter.
func (c *Coordinator) CastVote(ctx context.Context, id types.ElectionID, voter common.Address,
	candidate types.CandidateID) (types.VoteReceipt, error) {

	err := c.writable()
	if err != nil {
		return types.VoteReceipt{}, err
	}

	return c.pipeline.CastVote(ctx, id, voter, candidate)
}

// Finalize records the winner of the election.
func (c *Coordinator) Finalize(ctx context.Context, id types.ElectionID,
	requester common.Address) (types.FinalizeResult, error) {

	err := c.writable()
	if err != nil {
		return types.FinalizeResult{}, err
	}

	return c.engine.Finalize(ctx, id, requester)
}

// CreateElection creates a new election administered by the requester. The
// description, when not empty, is stored in the content store and referenced
// by the election.
func (c *Coordinator) CreateElection(ctx context.Context, requester common.Address,
	spec types.ElectionSpec, description []byte) (types.ElectionView, error) {

	err := c.writable()
	if err != nil {
		return types.ElectionView{}, err
	}

	err = spec.Validate()
	if err != nil {
		return types.ElectionView{}, err
	}

	if len(description) > 0 {
		addr, err := c.content.Store(ctx, description)
		if err != nil {
			return types.ElectionView{}, xerrors.Errorf("failed to store description: %w", err)
		}

		spec.DescriptionRef = addr.String()
	}

	call, err := ledger.CreateElection(requester, spec)
	if err != nil {
		return types.ElectionView{}, err
	}

	receipt, err := c.submit(ctx, "create election", call)
	if err != nil {
		return types.ElectionView{}, err
	}

	id, err := types.ParseElectionID(receipt.Output)
	if err != nil {
		return types.ElectionView{}, types.Rejected(err, "invalid election id in receipt")
	}

	c.logger.Info().Stringer("election", id).Str("title", spec.Title).Msg("election created")

	return c.GetElection(ctx, id)
}

// Advance moves the election to the next status.
func (c *Coordinator) Advance(ctx context.Context, id types.ElectionID, requester common.Address,
	to types.Status) (types.ElectionView, error) {

	err := c.writable()
	if err != nil {
		return types.ElectionView{}, err
	}

	e, err := c.readElection(ctx, id)
	if err != nil {
		return types.ElectionView{}, err
	}

	err = c.machine.CheckTransition(e, to, requester)
	if err != nil {
		return types.ElectionView{}, err
	}

	_, err = c.submit(ctx, "advance", ledger.Advance(requester, id, to))
	if err != nil {
		return types.ElectionView{}, err
	}

	c.logger.Info().Stringer("election", id).Stringer("status", to).Msg("election advanced")

	return c.GetElection(ctx, id)
}

// AddCandidate adds a candidate to the election.
func (c *Coordinator) AddCandidate(ctx context.Context, id types.ElectionID, requester common.Address,
	spec types.CandidateSpec) (types.Candidate, error) {

	err := c.writable()
	if err != nil {
		return types.Candidate{}, err
	}

	err = spec.Validate()
	if err != nil {
		return types.Candidate{}, err
	}

	e, err := c.readElection(ctx, id)
	if err != nil {
		return types.Candidate{}, err
	}

	err = c.machine.CheckAddCandidate(e, requester)
	if err != nil {
		return types.Candidate{}, err
	}

	call, err := ledger.AddCandidate(requester, id, spec)
	if err != nil {
		return types.Candidate{}, err
	}

	receipt, err := c.submit(ctx, "add candidate", call)
	if err != nil {
		return types.Candidate{}, err
	}

	candidateID, err := types.ParseCandidateID(receipt.Output)
	if err != nil {
		return types.Candidate{}, types.Rejected(err, "invalid candidate id in receipt")
	}

	// The snapshot of the election is refreshed by the read.
	_, err = c.readElection(ctx, id)
	if err != nil {
		c.logger.Warn().Err(err).Stringer("election", id).Msg("failed to read election after update")
	}

	return types.Candidate{
		ID:         candidateID,
		Name:       spec.Name,
		DetailsRef: spec.DetailsRef,
	}, nil
}

// RegisterVoter registers the voter to the election. The verification data is
// kept in the content store alongside the registration.
func (c *Coordinator) RegisterVoter(ctx context.Context, id types.ElectionID, voter common.Address,
	verification []byte) (types.VoterRegistration, error) {

	err := c.writable()
	if err != nil {
		return types.VoterRegistration{}, err
	}

	e, err := c.readElection(ctx, id)
	if err != nil {
		return types.VoterRegistration{}, err
	}

	current := types.RegistrationNone

	if c.ledger.Capabilities().VoterStatus {
		_, err = c.policy.Run(ctx, "voter status", func() error {
			current, err = c.ledger.GetVoterStatus(ctx, id, voter)
			return err
		})
		if err != nil {
			return types.VoterRegistration{}, xerrors.Errorf("failed to read voter status: %w", err)
		}
	}

	err = c.machine.CheckRegister(e, current)
	if err != nil {
		return types.VoterRegistration{}, err
	}

	_, err = c.submit(ctx, "register voter", ledger.RegisterVoter(voter, id))
	if err != nil {
		return types.VoterRegistration{}, err
	}

	reg := types.VoterRegistration{
		ElectionID:       id,
		Voter:            voter,
		Status:           types.RegistrationPending,
		VerificationData: verification,
	}

	return c.mirror(ctx, reg), nil
}

// ApproveVoter approves the registration of the voter.
func (c *Coordinator) ApproveVoter(ctx context.Context, id types.ElectionID, requester,
	voter common.Address) (types.VoterRegistration, error) {

	return c.decide(ctx, id, requester, voter, types.RegistrationApproved)
}

// RejectVoter rejects the registration of the voter. The admin can revisit
// the decision later.
func (c *Coordinator) RejectVoter(ctx context.Context, id types.ElectionID, requester,
	voter common.Address) (types.VoterRegistration, error) {

	return c.decide(ctx, id, requester, voter, types.RegistrationRejected)
}

// BlacklistVoter rejects the registration of the voter for good.
func (c *Coordinator) BlacklistVoter(ctx context.Context, id types.ElectionID, requester,
	voter common.Address) (types.VoterRegistration, error) {

	return c.decide(ctx, id, requester, voter, types.RegistrationBlacklisted)
}

// ListRegistrations returns the registrations of the election from the
// content store.
func (c *Coordinator) ListRegistrations(ctx context.Context, id types.ElectionID) ([]types.VoterRegistration, error) {
	var regs []types.VoterRegistration

	_, err := c.policy.Run(ctx, "registrations", func() error {
		var err error
		regs, err = c.content.ListByElection(ctx, id)
		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to list registrations: %w", err)
	}

	return regs, nil
}

func (c *Coordinator) decide(ctx context.Context, id types.ElectionID, requester, voter common.Address,
	status types.RegistrationStatus) (types.VoterRegistration, error) {

	err := c.writable()
	if err != nil {
		return types.VoterRegistration{}, err
	}

	e, err := c.readElection(ctx, id)
	if err != nil {
		return types.VoterRegistration{}, err
	}

	if !e.IsAdmin(requester) {
		return types.VoterRegistration{}, types.Permission("only the admin can decide on the registrations of election %d", id)
	}

	reg := types.VoterRegistration{
		ElectionID: id,
		Voter:      voter,
		Status:     status,
		Approver:   &requester,
	}

	current, found, err := c.content.Registration(ctx, id, voter)
	if err != nil {
		c.logger.Warn().Err(err).Msg("content store unavailable, the ledger decides alone")
	}

	if found {
		err = lifecycle.CheckRegistrationChange(current.Status, status)
		if err != nil {
			return types.VoterRegistration{}, err
		}

		reg.VerificationData = current.VerificationData
	}

	var call ledger.Call

	switch status {
	case types.RegistrationApproved:
		call = ledger.AddAllowedVoter(requester, id, voter)
	default:
		call = ledger.RejectVoter(requester, id, voter, status == types.RegistrationBlacklisted)
	}

	_, err = c.submit(ctx, "decide registration", call)
	if err != nil {
		return types.VoterRegistration{}, err
	}

	c.logger.Info().
		Stringer("election", id).
		Str("voter", voter.Hex()).
		Stringer("status", status).
		Msg("registration decided")

	return c.mirror(ctx, reg), nil
}

// mirror stores the registration in the content store and records the new
// status in the cache. The ledger being authoritative, a failure of the
// content store is only logged.
func (c *Coordinator) mirror(ctx context.Context, reg types.VoterRegistration) types.VoterRegistration {
	now := c.machine.Now()

	reg.UpdatedAt = now

	c.resolver.Record(ctx, types.EligibilityResult{
		ElectionID: reg.ElectionID,
		Voter:      reg.Voter,
		Status:     reg.Status,
		Source:     types.SourceOptimistic,
		ObservedAt: now,
	})

	_, err := c.content.StoreRegistration(ctx, reg)
	if err != nil {
		c.logger.Warn().Err(err).
			Stringer("election", reg.ElectionID).
			Str("voter", reg.Voter.Hex()).
			Msg("registration not mirrored in the content store")

		return reg
	}

	stored, found, err := c.content.Registration(ctx, reg.ElectionID, reg.Voter)
	if err != nil || !found {
		return reg
	}

	return stored
}

// Watch re-evaluates the election at every interval and sends its view with
// the time left before the next time-driven transition. The channel is closed
// when the context is done or after the election is finalized.
func (c *Coordinator) Watch(ctx context.Context, id types.ElectionID, interval time.Duration) <-chan Update {
	out := make(chan Update, 1)

	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			update := Update{}

			update.Election, update.Err = c.GetElection(ctx, id)
			if update.Err == nil {
				update.Remaining = c.machine.Remaining(update.Election.Election)
			}

			select {
			case out <- update:
			case <-ctx.Done():
				return
			}

			if update.Err == nil && update.Election.Finalized {
				return
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Update is a value sent by Watch.
type Update struct {
	Election  types.ElectionView
	Remaining time.Duration
	Err       error
}

func (c *Coordinator) writable() error {
	if c.mode == ModeReadOnly {
		return types.State("the coordinator is read-only")
	}

	return nil
}

// readElection reads the election on the ledger with the retry policy and
// refreshes its snapshot in the cache.
func (c *Coordinator) readElection(ctx context.Context, id types.ElectionID) (types.Election, error) {
	var e types.Election

	_, err := c.policy.Run(ctx, "election", func() error {
		var err error
		e, err = c.ledger.GetElectionDetails(ctx, id)
		return err
	})
	if err != nil {
		return e, xerrors.Errorf("failed to read election %d: %w", id, err)
	}

	if ctx.Err() == nil {
		entry := cache.ElectionEntry(e, types.SourceLedger, c.machine.Now())

		_, err = c.cache.Set(ctx, entry.Key, entry)
		if err != nil {
			c.logger.Warn().Err(err).Str("key", entry.Key).Msg("failed to store snapshot")
		}
	}

	return e, nil
}

func (c *Coordinator) submit(ctx context.Context, op string, call ledger.Call) (types.Receipt, error) {
	var receipt types.Receipt

	attempts, err := c.policy.Run(ctx, op, func() error {
		var err error
		receipt, err = c.ledger.Submit(ctx, call)
		return err
	})
	if err != nil {
		c.logger.Warn().Err(err).
			Str("operation", op).
			Str("tx", call.ID).
			Int("attempts", attempts).
			Msg("ledger write failed")

		return receipt, xerrors.Errorf("failed to %s: %w", op, err)
	}

	return receipt, nil
}

// Package native implements an in-process ledger.
//
// The world state and the transaction log are stored in a key/value database.
// A call is executed by the native execution service running the election
// contract on a staging snapshot: the changes of an accepted call are applied
// to the state and the receipt is appended to the log in the same database
// transaction, while a refused call only leaves its receipt. A call submitted
// again with the same identifier replays the logged receipt.
package native

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.dedis.ch/elector"
	"go.dedis.ch/elector/contracts/election"
	"go.dedis.ch/elector/core"
	"go.dedis.ch/elector/core/execution"
	"go.dedis.ch/elector/core/execution/native"
	"go.dedis.ch/elector/core/store/kv"
	"go.dedis.ch/elector/core/store/mem"
	"go.dedis.ch/elector/ledger"
	"go.dedis.ch/elector/lifecycle"
	"go.dedis.ch/elector/types"
	"golang.org/x/xerrors"
)

var (
	stateBucket = []byte("state")
	logBucket   = []byte("txs")
)

var promTransactions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "elector_ledger_transactions_total",
	Help: "transactions submitted to the native ledger by outcome",
}, []string{"outcome"})

func init() {
	elector.PromCollectors = append(elector.PromCollectors, promTransactions)
}

// Entry is a record of the transaction log.
type Entry struct {
	Command  election.Command `json:"command"`
	Identity common.Address   `json:"identity"`
	Time     time.Time        `json:"time"`
	Receipt  types.Receipt    `json:"receipt"`
}

// Event is the notification of a transaction appended to the log.
type Event struct {
	Call    ledger.Call
	Receipt types.Receipt
}

// Ledger is an in-process ledger backed by a key/value database.
//
// - implements ledger.Ledger
type Ledger struct {
	db      kv.DB
	exec    execution.Service
	clock   lifecycle.Clock
	caps    ledger.Capabilities
	watcher *core.Watcher
	logger  zerolog.Logger
}

// Option is the type of option to set some fields of the ledger.
type Option func(*Ledger)

// WithClock is an option to set the clock that gives the time of the
// transactions.
func WithClock(clock lifecycle.Clock) Option {
	return func(l *Ledger) {
		l.clock = clock
	}
}

// WithCapabilities is an option to restrict the capabilities announced by the
// ledger.
func WithCapabilities(caps ledger.Capabilities) Option {
	return func(l *Ledger) {
		l.caps = caps
	}
}

// NewLedger returns a ledger using the database.
func NewLedger(db kv.DB, opts ...Option) *Ledger {
	exec := native.NewExecution()
	election.RegisterContract(exec, election.NewContract())

	l := &Ledger{
		db:      db,
		exec:    exec,
		clock:   lifecycle.SystemClock{},
		caps:    ledger.AllCapabilities(),
		watcher: core.NewWatcher(),
		logger:  elector.Logger.With().Str("component", "ledger").Logger(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Capabilities implements ledger.Ledger.
func (l *Ledger) Capabilities() ledger.Capabilities {
	return l.caps
}

// ElectionCount implements ledger.Ledger.
func (l *Ledger) ElectionCount(ctx context.Context) (uint64, error) {
	var count uint64

	err := l.read(ctx, func(state election.State) error {
		var err error
		count, err = state.Count()
		return err
	})

	return count, err
}

// GetElectionDetails implements ledger.Ledger.
func (l *Ledger) GetElectionDetails(ctx context.Context, id types.ElectionID) (types.Election, error) {
	var e types.Election

	err := l.read(ctx, func(state election.State) error {
		var err error
		e, err = state.Election(id)
		return err
	})

	return e, err
}

// GetCandidate implements ledger.Ledger.
func (l *Ledger) GetCandidate(ctx context.Context, id types.ElectionID,
	candidate types.CandidateID) (types.Candidate, error) {

	e, err := l.GetElectionDetails(ctx, id)
	if err != nil {
		return types.Candidate{}, err
	}

	c, found := e.Candidate(candidate)
	if !found {
		return types.Candidate{}, types.NotFound("candidate %d not found in election %d", candidate, id)
	}

	return c, nil
}

// HasVoted implements ledger.Ledger.
func (l *Ledger) HasVoted(ctx context.Context, id types.ElectionID, voter common.Address) (bool, error) {
	var voted bool

	err := l.read(ctx, func(state election.State) error {
		_, err := state.Election(id)
		if err != nil {
			return err
		}

		_, voted, err = state.Vote(id, voter)
		return err
	})

	return voted, err
}

// IsVoterAllowed implements ledger.Ledger.
func (l *Ledger) IsVoterAllowed(ctx context.Context, id types.ElectionID, voter common.Address) (bool, error) {
	if !l.caps.AllowList {
		return false, ledger.ErrUnsupported
	}

	status, err := l.voterStatus(ctx, id, voter)
	if err != nil {
		return false, err
	}

	return status == types.RegistrationApproved, nil
}

// GetVoterStatus implements ledger.Ledger. The status is projected on the
// codes known by a ledger, which makes a blacklisted voter appear rejected.
func (l *Ledger) GetVoterStatus(ctx context.Context, id types.ElectionID,
	voter common.Address) (types.RegistrationStatus, error) {

	if !l.caps.VoterStatus {
		return 0, ledger.ErrUnsupported
	}

	status, err := l.voterStatus(ctx, id, voter)
	if err != nil {
		return 0, err
	}

	return types.RegistrationFromCode(status.Code())
}

// Submit implements ledger.Ledger. It executes the call, or replays the
// receipt when the identifier is already in the log.
func (l *Ledger) Submit(ctx context.Context, call ledger.Call) (types.Receipt, error) {
	err := ctx.Err()
	if err != nil {
		return types.Receipt{}, ledger.ContextError(err)
	}

	if call.ID == "" {
		return types.Receipt{}, types.Validation("transaction without identifier")
	}

	var receipt types.Receipt

	err = l.db.Update(func(tx kv.WritableTx) error {
		log, err := tx.GetBucketOrCreate(logBucket)
		if err != nil {
			return err
		}

		prev := log.Get(call.GetID())
		if prev != nil {
			var entry Entry

			err = json.Unmarshal(prev, &entry)
			if err != nil {
				return xerrors.Errorf("failed to decode log entry: %v", err)
			}

			receipt = entry.Receipt
			receipt.Replayed = true

			return nil
		}

		bucket, err := tx.GetBucketOrCreate(stateBucket)
		if err != nil {
			return err
		}

		state := kv.NewSnapshot(bucket)
		staging := mem.NewOverlay(state)

		step := execution.Step{
			Current: call,
			Time:    l.clock.Now(),
		}

		res, err := l.exec.Execute(staging, step)
		if err != nil {
			return xerrors.Errorf("failed to execute: %v", err)
		}

		if res.Accepted {
			err = staging.Apply(state)
			if err != nil {
				return err
			}
		}

		receipt = types.Receipt{
			TxID:     call.ID,
			Accepted: res.Accepted,
			Message:  res.Message,
			Output:   string(res.Output),
		}

		entry := Entry{
			Command:  call.Command(),
			Identity: call.Identity,
			Time:     step.Time,
			Receipt:  receipt,
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return xerrors.Errorf("failed to encode log entry: %v", err)
		}

		err = log.Set(call.GetID(), data)
		if err != nil {
			return xerrors.Errorf("failed to append log entry: %v", err)
		}

		tx.OnCommit(func() {
			l.watcher.Notify(Event{Call: call, Receipt: receipt})
		})

		return nil
	})
	if err != nil {
		return types.Receipt{}, types.Unreachable(err, "ledger storage failed")
	}

	l.logger.Debug().
		Str("tx", receipt.TxID).
		Str("command", string(call.Command())).
		Bool("accepted", receipt.Accepted).
		Bool("replayed", receipt.Replayed).
		Msg("transaction submitted")

	switch {
	case receipt.Replayed:
		promTransactions.WithLabelValues("replayed").Inc()
	case receipt.Accepted:
		promTransactions.WithLabelValues("accepted").Inc()
	default:
		promTransactions.WithLabelValues("rejected").Inc()
	}

	if !receipt.Accepted {
		return receipt, ledger.RejectedError(receipt)
	}

	return receipt, nil
}

// Entry returns the log entry of the transaction.
func (l *Ledger) Entry(ctx context.Context, txID string) (Entry, error) {
	var entry Entry

	err := ctx.Err()
	if err != nil {
		return entry, ledger.ContextError(err)
	}

	err = l.db.View(func(tx kv.ReadableTx) error {
		log := tx.GetBucket(logBucket)
		if log == nil {
			return types.NotFound("transaction %s not found", txID)
		}

		data := log.Get([]byte(txID))
		if data == nil {
			return types.NotFound("transaction %s not found", txID)
		}

		return json.Unmarshal(data, &entry)
	})

	return entry, err
}

// Watch returns a channel populated with the transactions appended to the log
// until the context is done.
func (l *Ledger) Watch(ctx context.Context) <-chan Event {
	events := l.watcher.Subscribe(ctx, 100)
	out := make(chan Event, 1)

	go func() {
		defer close(out)

		for evt := range events {
			select {
			case out <- evt.(Event):
			case <-ctx.Done():
			}
		}
	}()

	return out
}

func (l *Ledger) voterStatus(ctx context.Context, id types.ElectionID,
	voter common.Address) (types.RegistrationStatus, error) {

	var status types.RegistrationStatus

	err := l.read(ctx, func(state election.State) error {
		_, err := state.Election(id)
		if err != nil {
			return err
		}

		status, err = state.VoterStatus(id, voter)
		return err
	})

	return status, err
}

func (l *Ledger) read(ctx context.Context, fn func(election.State) error) error {
	err := ctx.Err()
	if err != nil {
		return ledger.ContextError(err)
	}

	err = l.db.View(func(tx kv.ReadableTx) error {
		return fn(election.NewState(kv.NewSnapshot(tx.GetBucket(stateBucket))))
	})
	if err != nil {
		if types.KindOf(err) != 0 {
			return err
		}

		return types.Unreachable(err, "ledger storage failed")
	}

	return nil
}

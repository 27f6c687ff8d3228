// Package faulty provides wrappers of the store adapters that inject
// failures. The wrappers forward to a real implementation until they are told
// to fail, which lets the unit tests exercise the degradation paths of the
// components.
package faulty

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-cid"
	"go.dedis.ch/elector/cache"
	"go.dedis.ch/elector/content"
	"go.dedis.ch/elector/ledger"
	"go.dedis.ch/elector/types"
)

// Fault holds the programmed failures of a wrapper and counts the calls.
type Fault struct {
	sync.Mutex

	readErr  error
	writeErr error
	writes   []writeFault
	gate     chan struct{}
	reads    int
	written  int
}

type writeFault struct {
	err     error
	applied bool
}

// FailReads makes every read return the error. A nil error restores the
// reads.
func (f *Fault) FailReads(err error) {
	f.Lock()
	f.readErr = err
	f.Unlock()
}

// FailWrites makes every write return the error. A nil error restores the
// writes.
func (f *Fault) FailWrites(err error) {
	f.Lock()
	f.writeErr = err
	f.Unlock()
}

// FailNextWrites makes the next n writes return the error. When applied is
// true, the write is forwarded before the error is returned, like an answer
// lost on the way back.
func (f *Fault) FailNextWrites(n int, err error, applied bool) {
	f.Lock()
	for i := 0; i < n; i++ {
		f.writes = append(f.writes, writeFault{err: err, applied: applied})
	}
	f.Unlock()
}

// Block makes the reads wait until the returned function is called or the
// context of the read is done.
func (f *Fault) Block() func() {
	gate := make(chan struct{})

	f.Lock()
	f.gate = gate
	f.Unlock()

	once := sync.Once{}

	return func() {
		once.Do(func() {
			f.Lock()
			f.gate = nil
			f.Unlock()

			close(gate)
		})
	}
}

// Reads returns the number of reads.
func (f *Fault) Reads() int {
	f.Lock()
	defer f.Unlock()

	return f.reads
}

// Writes returns the number of writes.
func (f *Fault) Writes() int {
	f.Lock()
	defer f.Unlock()

	return f.written
}

func (f *Fault) read(ctx context.Context) error {
	f.Lock()
	f.reads++
	gate := f.gate
	err := f.readErr
	f.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return err
}

// write returns whether the write must be forwarded, and the error of the
// write.
func (f *Fault) write() (bool, error) {
	f.Lock()
	defer f.Unlock()

	f.written++

	if len(f.writes) > 0 {
		next := f.writes[0]
		f.writes = f.writes[1:]

		return next.applied, next.err
	}

	if f.writeErr != nil {
		return false, f.writeErr
	}

	return true, nil
}

// Ledger is a ledger wrapper.
//
// - implements ledger.Ledger
type Ledger struct {
	Fault

	ledger ledger.Ledger
}

// NewLedger returns a wrapper of the ledger.
func NewLedger(l ledger.Ledger) *Ledger {
	return &Ledger{ledger: l}
}

// Capabilities implements ledger.Ledger.
func (l *Ledger) Capabilities() ledger.Capabilities {
	return l.ledger.Capabilities()
}

// ElectionCount implements ledger.Ledger.
func (l *Ledger) ElectionCount(ctx context.Context) (uint64, error) {
	err := l.read(ctx)
	if err != nil {
		return 0, err
	}

	return l.ledger.ElectionCount(ctx)
}

// GetElectionDetails implements ledger.Ledger.
func (l *Ledger) GetElectionDetails(ctx context.Context, id types.ElectionID) (types.Election, error) {
	err := l.read(ctx)
	if err != nil {
		return types.Election{}, err
	}

	return l.ledger.GetElectionDetails(ctx, id)
}

// GetCandidate implements ledger.Ledger.
func (l *Ledger) GetCandidate(ctx context.Context, id types.ElectionID,
	candidate types.CandidateID) (types.Candidate, error) {

	err := l.read(ctx)
	if err != nil {
		return types.Candidate{}, err
	}

	return l.ledger.GetCandidate(ctx, id, candidate)
}

// HasVoted implements ledger.Ledger.
func (l *Ledger) HasVoted(ctx context.Context, id types.ElectionID, voter common.Address) (bool, error) {
	err := l.read(ctx)
	if err != nil {
		return false, err
	}

	return l.ledger.HasVoted(ctx, id, voter)
}

// IsVoterAllowed implements ledger.Ledger.
func (l *Ledger) IsVoterAllowed(ctx context.Context, id types.ElectionID, voter common.Address) (bool, error) {
	err := l.read(ctx)
	if err != nil {
		return false, err
	}

	return l.ledger.IsVoterAllowed(ctx, id, voter)
}

// GetVoterStatus implements ledger.Ledger.
func (l *Ledger) GetVoterStatus(ctx context.Context, id types.ElectionID,
	voter common.Address) (types.RegistrationStatus, error) {

	err := l.read(ctx)
	if err != nil {
		return 0, err
	}

	return l.ledger.GetVoterStatus(ctx, id, voter)
}

// Submit implements ledger.Ledger.
func (l *Ledger) Submit(ctx context.Context, call ledger.Call) (types.Receipt, error) {
	forward, err := l.write()
	if err != nil && !forward {
		return types.Receipt{}, err
	}

	receipt, submitErr := l.ledger.Submit(ctx, call)
	if err != nil {
		return types.Receipt{}, err
	}

	return receipt, submitErr
}

// Content is a content store wrapper.
//
// - implements content.Content
type Content struct {
	Fault

	content content.Content
}

// NewContent returns a wrapper of the content store.
func NewContent(c content.Content) *Content {
	return &Content{content: c}
}

// Store implements content.Content.
func (c *Content) Store(ctx context.Context, data []byte) (cid.Cid, error) {
	_, err := c.write()
	if err != nil {
		return cid.Undef, err
	}

	return c.content.Store(ctx, data)
}

// Fetch implements content.Content.
func (c *Content) Fetch(ctx context.Context, addr cid.Cid) ([]byte, error) {
	err := c.read(ctx)
	if err != nil {
		return nil, err
	}

	return c.content.Fetch(ctx, addr)
}

// StoreRegistration implements content.Content.
func (c *Content) StoreRegistration(ctx context.Context, reg types.VoterRegistration) (cid.Cid, error) {
	_, err := c.write()
	if err != nil {
		return cid.Undef, err
	}

	return c.content.StoreRegistration(ctx, reg)
}

// Registration implements content.Content.
func (c *Content) Registration(ctx context.Context, id types.ElectionID,
	voter common.Address) (types.VoterRegistration, bool, error) {

	err := c.read(ctx)
	if err != nil {
		return types.VoterRegistration{}, false, err
	}

	return c.content.Registration(ctx, id, voter)
}

// ListByElection implements content.Content.
func (c *Content) ListByElection(ctx context.Context, id types.ElectionID) ([]types.VoterRegistration, error) {
	err := c.read(ctx)
	if err != nil {
		return nil, err
	}

	return c.content.ListByElection(ctx, id)
}

// Cache is a cache wrapper.
//
// - implements cache.Cache
type Cache struct {
	Fault

	cache cache.Cache
}

// NewCache returns a wrapper of the cache.
func NewCache(c cache.Cache) *Cache {
	return &Cache{cache: c}
}

// Get implements cache.Cache.
func (c *Cache) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	err := c.read(ctx)
	if err != nil {
		return cache.Entry{}, false, err
	}

	return c.cache.Get(ctx, key)
}

// Set implements cache.Cache.
func (c *Cache) Set(ctx context.Context, key string, entry cache.Entry) (bool, error) {
	_, err := c.write()
	if err != nil {
		return false, err
	}

	return c.cache.Set(ctx, key, entry)
}

// Update implements cache.Cache.
func (c *Cache) Update(ctx context.Context, key string, fn cache.UpdateFn) (bool, error) {
	_, err := c.write()
	if err != nil {
		return false, err
	}

	return c.cache.Update(ctx, key, fn)
}

// ListByPrefix implements cache.Cache.
func (c *Cache) ListByPrefix(ctx context.Context, prefix string) ([]cache.Entry, error) {
	err := c.read(ctx)
	if err != nil {
		return nil, err
	}

	return c.cache.ListByPrefix(ctx, prefix)
}

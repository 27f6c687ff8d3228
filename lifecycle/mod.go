// Package lifecycle implements the election state machine.
//
// An election moves strictly forward through Draft, Registration, Active,
// Ended and Finalized. The stored status is advanced by an administrator and
// the clock: a Registration election becomes Active at the voting start and an
// Active election becomes Ended at the voting end. The functions of this
// package are used both by the ledger contract and by the client components,
// so that both sides enforce the same rules.
package lifecycle

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/elector/types"
	"golang.org/x/xerrors"
)

// ErrAlreadyFinalized is returned by the finalization guard when the
// administrator finalizes an election a second time. The caller treats it as
// an idempotent no-op.
var ErrAlreadyFinalized = xerrors.New("election already finalized")

// Clock is the source of the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is a clock using the system time.
//
// - implements lifecycle.Clock
type SystemClock struct{}

// Now implements lifecycle.Clock.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Effective returns the status of the election at the given time. The time
// rules never skip a status and never move a draft or a finalized election.
func Effective(e types.Election, now time.Time) types.Status {
	status := e.Status

	if status == types.StatusRegistration && !now.Before(e.VotingStart) {
		status = types.StatusActive
	}

	if status == types.StatusActive && !now.Before(e.VotingEnd) {
		status = types.StatusEnded
	}

	return status
}

// Apply returns a copy of the election with the effective status at the given
// time.
func Apply(e types.Election, now time.Time) types.Election {
	clone := e.Clone()
	clone.Status = Effective(e, now)
	clone.Finalized = clone.Status == types.StatusFinalized

	return clone
}

// CheckTransition verifies that the requester can move the election to the
// given status. Only a single step forward is allowed and finalization has its
// own guard.
func CheckTransition(e types.Election, to types.Status, requester common.Address, now time.Time) error {
	if !to.Valid() {
		return types.Validation("unknown target status %d", to)
	}

	if to == types.StatusFinalized {
		return types.State("an election is finalized through the finalize operation")
	}

	if !e.IsAdmin(requester) {
		return types.Permission("only the admin can change the status of election %d", e.ID)
	}

	current := Effective(e, now)

	if current == to {
		return types.State("election %d is already %s", e.ID, to)
	}

	next, ok := current.Next()
	if !ok || next != to {
		return types.State("election %d cannot move from %s to %s", e.ID, current, to)
	}

	return nil
}

// CheckAddCandidate verifies that a candidate can be added. Candidates are
// only accepted before the voting start, whatever the stored status says.
func CheckAddCandidate(e types.Election, requester common.Address, now time.Time) error {
	if !now.Before(e.VotingStart) {
		return types.State("candidates cannot be added to election %d once voting started", e.ID)
	}

	if !e.IsAdmin(requester) {
		return types.Permission("only the admin can add candidates to election %d", e.ID)
	}

	return nil
}

// CheckVote verifies that the election accepts votes.
func CheckVote(e types.Election, now time.Time) error {
	status := Effective(e, now)
	if status != types.StatusActive {
		return types.State("election %d does not accept votes (status %s)", e.ID, status)
	}

	return nil
}

// CheckFinalize verifies that the requester can finalize the election. It
// returns ErrAlreadyFinalized when the admin retries on a finalized election.
func CheckFinalize(e types.Election, requester common.Address, now time.Time) error {
	status := Effective(e, now)

	if status == types.StatusFinalized {
		if !e.IsAdmin(requester) {
			return types.Permission("only the admin can finalize election %d", e.ID)
		}

		return ErrAlreadyFinalized
	}

	if status != types.StatusEnded {
		return types.State("election %d must be ended to be finalized (status %s)", e.ID, status)
	}

	if e.TotalVotes == 0 {
		return types.State("election %d cannot be finalized without votes", e.ID)
	}

	if !e.IsAdmin(requester) {
		return types.Permission("only the admin can finalize election %d", e.ID)
	}

	return nil
}

// CheckRegister verifies that a voter can register to the election.
func CheckRegister(e types.Election, current types.RegistrationStatus, now time.Time) error {
	status := Effective(e, now)
	if status != types.StatusRegistration && status != types.StatusActive {
		return types.State("election %d does not accept registrations (status %s)", e.ID, status)
	}

	if current != types.RegistrationNone {
		return types.State("voter already registered to election %d (%s)", e.ID, current)
	}

	return nil
}

// CheckRegistrationChange verifies that the admin can move a registration to
// the next status. A blacklisted registration never changes.
func CheckRegistrationChange(current, next types.RegistrationStatus) error {
	if !next.Valid() || next == types.RegistrationNone {
		return types.Validation("invalid registration status '%s'", next)
	}

	if current.Terminal() {
		return types.State("registration is %s and cannot change", current)
	}

	return nil
}

// Machine gates the operations of an election with the time of a clock.
type Machine struct {
	clock Clock
}

// NewMachine returns a new state machine using the clock.
func NewMachine(clock Clock) Machine {
	if clock == nil {
		clock = SystemClock{}
	}

	return Machine{
		clock: clock,
	}
}

// Now returns the current time of the machine.
func (m Machine) Now() time.Time {
	return m.clock.Now()
}

// Status returns the effective status of the election.
func (m Machine) Status(e types.Election) types.Status {
	return Effective(e, m.clock.Now())
}

// View returns the election with its effective status.
func (m Machine) View(e types.Election, source types.Source, stale bool) types.ElectionView {
	return types.ElectionView{
		Election: Apply(e, m.clock.Now()),
		Source:   source,
		Stale:    stale,
	}
}

// CheckTransition verifies an admin transition at the current time.
func (m Machine) CheckTransition(e types.Election, to types.Status, requester common.Address) error {
	return CheckTransition(e, to, requester, m.clock.Now())
}

// CheckAddCandidate verifies a candidate addition at the current time.
func (m Machine) CheckAddCandidate(e types.Election, requester common.Address) error {
	return CheckAddCandidate(e, requester, m.clock.Now())
}

// CheckVote verifies that the election accepts votes at the current time.
func (m Machine) CheckVote(e types.Election) error {
	return CheckVote(e, m.clock.Now())
}

// CheckFinalize verifies a finalization at the current time.
func (m Machine) CheckFinalize(e types.Election, requester common.Address) error {
	return CheckFinalize(e, requester, m.clock.Now())
}

// CheckRegister verifies a voter registration at the current time.
func (m Machine) CheckRegister(e types.Election, current types.RegistrationStatus) error {
	return CheckRegister(e, current, m.clock.Now())
}

// Remaining returns the time left before the next time-driven transition of
// the election, or zero when none is pending.
func (m Machine) Remaining(e types.Election) time.Duration {
	now := m.clock.Now()

	switch Effective(e, now) {
	case types.StatusRegistration:
		return e.VotingStart.Sub(now)
	case types.StatusActive:
		return e.VotingEnd.Sub(now)
	default:
		return 0
	}
}

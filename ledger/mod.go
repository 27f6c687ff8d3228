// Package ledger defines the adapter of the ledger that holds the
// authoritative record of the elections.
//
// An adapter does not retry nor interpret: it translates the failures of its
// transport into the error kinds Unreachable, Timeout and Rejected and lets
// the caller decide. Writes are submitted as calls carrying an identifier
// generated by the client, so that a call submitted twice is only applied
// once and the second submission replays the receipt of the first one.
package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/elector/types"
	"golang.org/x/xerrors"
)

// Capabilities tells which optional reads a ledger supports. They are fixed
// when the adapter is created.
type Capabilities struct {
	// VoterStatus is true when GetVoterStatus is supported.
	VoterStatus bool `json:"voterStatus" yaml:"voterStatus"`

	// AllowList is true when IsVoterAllowed is supported.
	AllowList bool `json:"allowList" yaml:"allowList"`
}

// AllCapabilities returns the capabilities of a complete ledger.
func AllCapabilities() Capabilities {
	return Capabilities{
		VoterStatus: true,
		AllowList:   true,
	}
}

// Ledger is the interface of the adapter of a ledger.
type Ledger interface {
	// Capabilities returns the optional reads supported by the ledger.
	Capabilities() Capabilities

	// ElectionCount returns the number of elections, which is also the
	// identifier of the most recent one.
	ElectionCount(ctx context.Context) (uint64, error)

	// GetElectionDetails returns the stored record of the election.
	GetElectionDetails(ctx context.Context, id types.ElectionID) (types.Election, error)

	// GetCandidate returns a candidate of the election.
	GetCandidate(ctx context.Context, id types.ElectionID, candidate types.CandidateID) (types.Candidate, error)

	// HasVoted returns true if the ledger holds a vote record of the voter.
	HasVoted(ctx context.Context, id types.ElectionID, voter common.Address) (bool, error)

	// IsVoterAllowed returns true if the voter is approved.
	IsVoterAllowed(ctx context.Context, id types.ElectionID, voter common.Address) (bool, error)

	// GetVoterStatus returns the status of the voter as known by the ledger.
	GetVoterStatus(ctx context.Context, id types.ElectionID, voter common.Address) (types.RegistrationStatus, error)

	// Submit applies the call to the ledger and returns the receipt. A refused
	// call returns the receipt alongside an error of kind Rejected.
	Submit(ctx context.Context, call Call) (types.Receipt, error)
}

// ErrUnsupported is returned by an adapter for a read outside of its
// capabilities.
var ErrUnsupported = types.Rejected(nil, "operation not supported by the ledger")

// ContextError translates the error of a done context into an adapter error.
func ContextError(err error) error {
	if xerrors.Is(err, context.DeadlineExceeded) {
		return types.Timeout(err, "ledger deadline exceeded")
	}

	return types.Unreachable(err, "ledger request interrupted")
}

// RejectedError returns the error of a refused call.
func RejectedError(receipt types.Receipt) error {
	return types.Rejected(nil, "transaction %s rejected: %s", receipt.TxID, receipt.Message)
}

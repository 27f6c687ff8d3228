// Package election implements the ledger contract that holds the
// authoritative record of the elections.
//
// The contract keeps the elections, the voter statuses and the vote records in
// the ledger state. It enforces the lifecycle rules with the same functions as
// the clients so that a transaction accepted by a client check is accepted by
// the ledger, and the other way around.
package election

import (
	"go.dedis.ch/elector/core/execution"
	"go.dedis.ch/elector/core/execution/native"
	"go.dedis.ch/elector/core/store"
	"go.dedis.ch/elector/core/store/prefixed"
	"golang.org/x/xerrors"
)

const (
	// ContractName is the name of the contract.
	ContractName = "go.dedis.ch/elector.Election"

	// CmdArg is the argument's name to indicate the kind of command we want to
	// run on the contract. Should be one of the Command type.
	CmdArg = "election:command"

	// ElectionArg is the argument's name in the transaction that contains the
	// decimal identifier of the election.
	ElectionArg = "election:id"

	// CandidateArg is the argument's name in the transaction that contains the
	// decimal identifier of a candidate.
	CandidateArg = "election:candidate"

	// VoterArg is the argument's name in the transaction that contains the
	// address of the voter targeted by an admin command.
	VoterArg = "election:voter"

	// PayloadArg is the argument's name in the transaction that contains the
	// JSON parameters of a new election or candidate.
	PayloadArg = "election:payload"

	// StatusArg is the argument's name in the transaction that contains the
	// target status of a transition, or of a voter rejection.
	StatusArg = "election:status"

	// WinnerArg is the argument's name in the transaction that contains the
	// winner computed by the client. The ledger refuses to finalize when it
	// disagrees.
	WinnerArg = "election:winner"

	statePrefix = "election"
)

// Command defines a type of command for the election contract.
type Command string

const (
	// CmdCreateElection creates a draft election administered by the sender.
	CmdCreateElection Command = "CREATE_ELECTION"

	// CmdAddCandidate appends a candidate to the ballot.
	CmdAddCandidate Command = "ADD_CANDIDATE"

	// CmdAdvance moves the election one status forward.
	CmdAdvance Command = "ADVANCE"

	// CmdRegisterVoter registers the sender as a pending voter.
	CmdRegisterVoter Command = "REGISTER_VOTER"

	// CmdAddAllowedVoter approves a voter.
	CmdAddAllowedVoter Command = "ADD_ALLOWED_VOTER"

	// CmdRejectVoter rejects or blacklists a voter.
	CmdRejectVoter Command = "REJECT_VOTER"

	// CmdVote records the vote of the sender.
	CmdVote Command = "VOTE"

	// CmdFinalize records the winner of an ended election.
	CmdFinalize Command = "FINALIZE"
)

// commands defines the commands of the election contract. This interface
// helps in testing the contract.
type commands interface {
	createElection(snap store.Snapshot, step execution.Step) ([]byte, error)
	addCandidate(snap store.Snapshot, step execution.Step) ([]byte, error)
	advance(snap store.Snapshot, step execution.Step) ([]byte, error)
	registerVoter(snap store.Snapshot, step execution.Step) ([]byte, error)
	addAllowedVoter(snap store.Snapshot, step execution.Step) ([]byte, error)
	rejectVoter(snap store.Snapshot, step execution.Step) ([]byte, error)
	vote(snap store.Snapshot, step execution.Step) ([]byte, error)
	finalize(snap store.Snapshot, step execution.Step) ([]byte, error)
}

// RegisterContract registers the election contract to the given execution
// service.
func RegisterContract(exec *native.Service, c Contract) {
	exec.Set(ContractName, c)
}

// Contract is a smart contract that executes the election commands.
//
// - implements native.Contract
type Contract struct {
	// cmd provides the commands that can be executed by this smart contract
	cmd commands
}

// NewContract creates a new election contract.
func NewContract() Contract {
	contract := Contract{}
	contract.cmd = electionCommand{Contract: &contract}

	return contract
}

// Execute implements native.Contract. It runs the command of the transaction
// in the namespace of the contract.
func (c Contract) Execute(snap store.Snapshot, step execution.Step) ([]byte, error) {
	cmd := step.Current.GetArg(CmdArg)
	if len(cmd) == 0 {
		return nil, xerrors.Errorf("'%s' not found in tx arg", CmdArg)
	}

	var fn func(store.Snapshot, execution.Step) ([]byte, error)

	switch Command(cmd) {
	case CmdCreateElection:
		fn = c.cmd.createElection
	case CmdAddCandidate:
		fn = c.cmd.addCandidate
	case CmdAdvance:
		fn = c.cmd.advance
	case CmdRegisterVoter:
		fn = c.cmd.registerVoter
	case CmdAddAllowedVoter:
		fn = c.cmd.addAllowedVoter
	case CmdRejectVoter:
		fn = c.cmd.rejectVoter
	case CmdVote:
		fn = c.cmd.vote
	case CmdFinalize:
		fn = c.cmd.finalize
	default:
		return nil, xerrors.Errorf("unknown command: %s", cmd)
	}

	out, err := fn(prefixed.NewSnapshot(statePrefix, snap), step)
	if err != nil {
		return nil, xerrors.Errorf("failed to %s: %w", cmd, err)
	}

	return out, nil
}

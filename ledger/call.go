package ledger

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/xid"
	"go.dedis.ch/elector/contracts/election"
	"go.dedis.ch/elector/core/execution/native"
	"go.dedis.ch/elector/core/txn"
	"go.dedis.ch/elector/types"
	"golang.org/x/xerrors"
)

// Call is a transaction for the election contract. The identifier is
// generated once and stays the same when the call is submitted again.
//
// - implements txn.Transaction
type Call struct {
	ID       string            `json:"id"`
	Identity common.Address    `json:"identity"`
	Args     map[string][]byte `json:"args"`
}

// NewCall returns a call of the command with a new unique identifier.
func NewCall(identity common.Address, cmd election.Command, args ...txn.Arg) Call {
	call := Call{
		ID:       xid.New().String(),
		Identity: identity,
		Args: map[string][]byte{
			native.ContractArg: []byte(election.ContractName),
			election.CmdArg:    []byte(cmd),
		},
	}

	for _, arg := range args {
		call.Args[arg.Key] = arg.Value
	}

	return call
}

// GetID implements txn.Transaction. It returns the identifier of the call.
func (c Call) GetID() []byte {
	return []byte(c.ID)
}

// GetIdentity implements txn.Transaction. It returns the sender of the call.
func (c Call) GetIdentity() common.Address {
	return c.Identity
}

// GetArg implements txn.Transaction. It returns the value of the argument, or
// nil if it does not exist.
func (c Call) GetArg(key string) []byte {
	return c.Args[key]
}

// Command returns the command of the call.
func (c Call) Command() election.Command {
	return election.Command(c.Args[election.CmdArg])
}

// Election returns the election targeted by the call, if any.
func (c Call) Election() string {
	return string(c.Args[election.ElectionArg])
}

// CreateElection returns the call to create an election administered by the
// sender.
func CreateElection(admin common.Address, spec types.ElectionSpec) (Call, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return Call{}, xerrors.Errorf("failed to encode election: %v", err)
	}

	return NewCall(admin, election.CmdCreateElection, txn.Arg{Key: election.PayloadArg, Value: data}), nil
}

// AddCandidate returns the call to add a candidate to the election.
func AddCandidate(admin common.Address, id types.ElectionID, spec types.CandidateSpec) (Call, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return Call{}, xerrors.Errorf("failed to encode candidate: %v", err)
	}

	return NewCall(admin, election.CmdAddCandidate, electionArg(id),
		txn.Arg{Key: election.PayloadArg, Value: data}), nil
}

// Advance returns the call to move the election to the status.
func Advance(admin common.Address, id types.ElectionID, to types.Status) Call {
	return NewCall(admin, election.CmdAdvance, electionArg(id),
		txn.Arg{Key: election.StatusArg, Value: []byte(to.String())})
}

// OpenRegistration returns the call to publish a draft election.
func OpenRegistration(admin common.Address, id types.ElectionID) Call {
	return Advance(admin, id, types.StatusRegistration)
}

// StartVoting returns the call to open the voting before the voting start.
func StartVoting(admin common.Address, id types.ElectionID) Call {
	return Advance(admin, id, types.StatusActive)
}

// EndVoting returns the call to close the voting before the voting end.
func EndVoting(admin common.Address, id types.ElectionID) Call {
	return Advance(admin, id, types.StatusEnded)
}

// RegisterVoter returns the call that registers the sender to the election.
func RegisterVoter(voter common.Address, id types.ElectionID) Call {
	return NewCall(voter, election.CmdRegisterVoter, electionArg(id))
}

// AddAllowedVoter returns the call that approves the voter.
func AddAllowedVoter(admin common.Address, id types.ElectionID, voter common.Address) Call {
	return NewCall(admin, election.CmdAddAllowedVoter, electionArg(id), voterArg(voter))
}

// RejectVoter returns the call that rejects the voter, or blacklists it.
func RejectVoter(admin common.Address, id types.ElectionID, voter common.Address, blacklist bool) Call {
	status := types.RegistrationRejected
	if blacklist {
		status = types.RegistrationBlacklisted
	}

	return NewCall(admin, election.CmdRejectVoter, electionArg(id), voterArg(voter),
		txn.Arg{Key: election.StatusArg, Value: []byte(status.String())})
}

// Vote returns the call that records the vote of the sender.
func Vote(voter common.Address, id types.ElectionID, candidate types.CandidateID) Call {
	return NewCall(voter, election.CmdVote, electionArg(id),
		txn.Arg{Key: election.CandidateArg, Value: []byte(candidate.String())})
}

// FinalizeElection returns the call that records the winner of the election.
// The ledger refuses it if it computes a different winner.
func FinalizeElection(admin common.Address, id types.ElectionID, winner types.CandidateID) Call {
	return NewCall(admin, election.CmdFinalize, electionArg(id),
		txn.Arg{Key: election.WinnerArg, Value: []byte(winner.String())})
}

func electionArg(id types.ElectionID) txn.Arg {
	return txn.Arg{Key: election.ElectionArg, Value: []byte(id.String())}
}

func voterArg(voter common.Address) txn.Arg {
	return txn.Arg{Key: election.VoterArg, Value: []byte(voter.Hex())}
}

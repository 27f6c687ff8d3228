package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/elector/contracts/election"
	"go.dedis.ch/elector/core/execution/native"
	"go.dedis.ch/elector/internal/testing/fake"
	"go.dedis.ch/elector/types"
)

var (
	admin = common.HexToAddress("0xa0")
	voter = common.HexToAddress("0xb0")
)

func TestNewCall(t *testing.T) {
	call := NewCall(admin, election.CmdVote)
	require.Len(t, call.ID, 20)
	require.Equal(t, []byte(call.ID), call.GetID())
	require.Equal(t, admin, call.GetIdentity())
	require.Equal(t, []byte(election.ContractName), call.GetArg(native.ContractArg))
	require.Equal(t, election.CmdVote, call.Command())
	require.Nil(t, call.GetArg("unknown"))

	other := NewCall(admin, election.CmdVote)
	require.NotEqual(t, call.ID, other.ID)
}

func TestCreateElection(t *testing.T) {
	spec := types.ElectionSpec{
		Title:       "Board",
		VotingStart: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC),
		VotingEnd:   time.Date(2024, time.March, 2, 12, 0, 0, 0, time.UTC),
	}

	call, err := CreateElection(admin, spec)
	require.NoError(t, err)
	require.Equal(t, election.CmdCreateElection, call.Command())
	require.Contains(t, string(call.GetArg(election.PayloadArg)), `"title":"Board"`)
	require.Empty(t, call.Election())
}

func TestAddCandidate(t *testing.T) {
	call, err := AddCandidate(admin, 3, types.CandidateSpec{Name: "Carol"})
	require.NoError(t, err)
	require.Equal(t, election.CmdAddCandidate, call.Command())
	require.Equal(t, "3", call.Election())
	require.Equal(t, `{"name":"Carol"}`, string(call.GetArg(election.PayloadArg)))
}

func TestAdvance(t *testing.T) {
	require.Equal(t, []byte("registration"), OpenRegistration(admin, 1).GetArg(election.StatusArg))
	require.Equal(t, []byte("active"), StartVoting(admin, 1).GetArg(election.StatusArg))
	require.Equal(t, []byte("ended"), EndVoting(admin, 1).GetArg(election.StatusArg))
	require.Equal(t, election.CmdAdvance, EndVoting(admin, 1).Command())
}

func TestVoterCalls(t *testing.T) {
	call := RegisterVoter(voter, 2)
	require.Equal(t, voter, call.Identity)
	require.Equal(t, election.CmdRegisterVoter, call.Command())

	call = AddAllowedVoter(admin, 2, voter)
	require.Equal(t, []byte(voter.Hex()), call.GetArg(election.VoterArg))

	call = RejectVoter(admin, 2, voter, false)
	require.Equal(t, []byte("rejected"), call.GetArg(election.StatusArg))

	call = RejectVoter(admin, 2, voter, true)
	require.Equal(t, []byte("blacklisted"), call.GetArg(election.StatusArg))

	call = Vote(voter, 2, 7)
	require.Equal(t, []byte("7"), call.GetArg(election.CandidateArg))
	require.Equal(t, "2", call.Election())

	call = FinalizeElection(admin, 2, 1)
	require.Equal(t, []byte("1"), call.GetArg(election.WinnerArg))
}

func TestContextError(t *testing.T) {
	err := ContextError(context.DeadlineExceeded)
	require.ErrorIs(t, err, types.ErrTimeout)

	err = ContextError(context.Canceled)
	require.ErrorIs(t, err, types.ErrUnreachable)

	err = ContextError(fake.GetError())
	require.EqualError(t, err, fake.Err("ledger request interrupted"))
}

func TestRejectedError(t *testing.T) {
	err := RejectedError(types.Receipt{TxID: "abc", Message: "nope"})
	require.ErrorIs(t, err, types.ErrRejected)
	require.EqualError(t, err, "transaction abc rejected: nope")
}

package election

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/elector/core/store"
	"go.dedis.ch/elector/core/store/prefixed"
	"go.dedis.ch/elector/types"
	"golang.org/x/xerrors"
)

var countKey = []byte("count")

func electionKey(id types.ElectionID) []byte {
	return []byte(fmt.Sprintf("e/%d", id))
}

func statusKey(id types.ElectionID, voter common.Address) []byte {
	return []byte(fmt.Sprintf("s/%d/%s", id, voter.Hex()))
}

func voteKey(id types.ElectionID, voter common.Address) []byte {
	return []byte(fmt.Sprintf("v/%d/%s", id, voter.Hex()))
}

// State provides the read access to the state of the contract.
type State struct {
	store.Readable
}

// NewState returns the state of the contract stored in the readable.
func NewState(r store.Readable) State {
	return State{Readable: prefixed.NewReadable(statePrefix, r)}
}

// Count returns the number of elections, which is also the identifier of the
// last one.
func (s State) Count() (uint64, error) {
	value, err := s.Get(countKey)
	if err != nil {
		return 0, xerrors.Errorf("failed to read count: %v", err)
	}

	if len(value) == 0 {
		return 0, nil
	}

	if len(value) != 8 {
		return 0, xerrors.Errorf("invalid count length %d", len(value))
	}

	return binary.BigEndian.Uint64(value), nil
}

// Election returns the election with the given identifier.
func (s State) Election(id types.ElectionID) (types.Election, error) {
	value, err := s.Get(electionKey(id))
	if err != nil {
		return types.Election{}, xerrors.Errorf("failed to read election: %v", err)
	}

	if len(value) == 0 {
		return types.Election{}, types.NotFound("election %d not found", id)
	}

	var e types.Election

	err = json.Unmarshal(value, &e)
	if err != nil {
		return types.Election{}, xerrors.Errorf("failed to decode election: %v", err)
	}

	return e, nil
}

// VoterStatus returns the registration status of the voter. A voter unknown to
// the ledger has the status None.
func (s State) VoterStatus(id types.ElectionID, voter common.Address) (types.RegistrationStatus, error) {
	value, err := s.Get(statusKey(id, voter))
	if err != nil {
		return 0, xerrors.Errorf("failed to read voter status: %v", err)
	}

	if len(value) == 0 {
		return types.RegistrationNone, nil
	}

	status := types.RegistrationStatus(value[0])
	if len(value) != 1 || !status.Valid() {
		return 0, xerrors.Errorf("invalid voter status %x", value)
	}

	return status, nil
}

// Vote returns the vote record of the voter, if any.
func (s State) Vote(id types.ElectionID, voter common.Address) (types.VoteRecord, bool, error) {
	value, err := s.Get(voteKey(id, voter))
	if err != nil {
		return types.VoteRecord{}, false, xerrors.Errorf("failed to read vote: %v", err)
	}

	if len(value) == 0 {
		return types.VoteRecord{}, false, nil
	}

	var record types.VoteRecord

	err = json.Unmarshal(value, &record)
	if err != nil {
		return types.VoteRecord{}, false, xerrors.Errorf("failed to decode vote: %v", err)
	}

	return record, true, nil
}

func writeCount(snap store.Snapshot, count uint64) error {
	buffer := make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, count)

	return snap.Set(countKey, buffer)
}

func writeElection(snap store.Snapshot, e types.Election) error {
	data, err := json.Marshal(e)
	if err != nil {
		return xerrors.Errorf("failed to encode election: %v", err)
	}

	err = snap.Set(electionKey(e.ID), data)
	if err != nil {
		return xerrors.Errorf("failed to store election: %v", err)
	}

	return nil
}

func writeVoterStatus(snap store.Snapshot, id types.ElectionID, voter common.Address,
	status types.RegistrationStatus) error {

	err := snap.Set(statusKey(id, voter), []byte{byte(status)})
	if err != nil {
		return xerrors.Errorf("failed to store voter status: %v", err)
	}

	return nil
}

func writeVote(snap store.Snapshot, record types.VoteRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return xerrors.Errorf("failed to encode vote: %v", err)
	}

	err = snap.Set(voteKey(record.ElectionID, record.Voter), data)
	if err != nil {
		return xerrors.Errorf("failed to store vote: %v", err)
	}

	return nil
}

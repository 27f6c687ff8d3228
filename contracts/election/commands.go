package election

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/elector/core/execution"
	"go.dedis.ch/elector/core/store"
	"go.dedis.ch/elector/lifecycle"
	"go.dedis.ch/elector/types"
	"golang.org/x/xerrors"
)

// electionCommand implements the commands of the election contract.
//
// - implements commands
type electionCommand struct {
	*Contract
}

// createElection implements commands. It stores a new draft election with the
// sender as the admin and returns its identifier.
func (electionCommand) createElection(snap store.Snapshot, step execution.Step) ([]byte, error) {
	var spec types.ElectionSpec

	err := json.Unmarshal(step.Current.GetArg(PayloadArg), &spec)
	if err != nil {
		return nil, types.Validation("invalid election payload: %v", err)
	}

	err = spec.Validate()
	if err != nil {
		return nil, err
	}

	state := State{Readable: snap}

	count, err := state.Count()
	if err != nil {
		return nil, err
	}

	registrationStart := spec.RegistrationStart
	if registrationStart.IsZero() {
		registrationStart = step.Time
	}

	e := types.Election{
		ID:                  types.ElectionID(count + 1),
		Title:               spec.Title,
		DescriptionRef:      spec.DescriptionRef,
		RegistrationStart:   registrationStart,
		VotingStart:         spec.VotingStart,
		VotingEnd:           spec.VotingEnd,
		Status:              types.StatusDraft,
		Admin:               step.Current.GetIdentity(),
		RequireRegistration: spec.RequireRegistration,
		Candidates:          make([]types.Candidate, len(spec.Candidates)),
		CreatedAt:           step.Time,
	}

	for i, c := range spec.Candidates {
		e.Candidates[i] = types.Candidate{
			ID:         types.CandidateID(i + 1),
			Name:       c.Name,
			DetailsRef: c.DetailsRef,
		}
	}

	err = writeElection(snap, e)
	if err != nil {
		return nil, err
	}

	err = writeCount(snap, count+1)
	if err != nil {
		return nil, xerrors.Errorf("failed to store count: %v", err)
	}

	return []byte(e.ID.String()), nil
}

// addCandidate implements commands. It appends a candidate to the ballot and
// returns its identifier.
func (electionCommand) addCandidate(snap store.Snapshot, step execution.Step) ([]byte, error) {
	e, err := loadElection(snap, step)
	if err != nil {
		return nil, err
	}

	err = lifecycle.CheckAddCandidate(e, step.Current.GetIdentity(), step.Time)
	if err != nil {
		return nil, err
	}

	var spec types.CandidateSpec

	err = json.Unmarshal(step.Current.GetArg(PayloadArg), &spec)
	if err != nil {
		return nil, types.Validation("invalid candidate payload: %v", err)
	}

	err = spec.Validate()
	if err != nil {
		return nil, err
	}

	candidate := types.Candidate{
		ID:         types.CandidateID(len(e.Candidates) + 1),
		Name:       spec.Name,
		DetailsRef: spec.DetailsRef,
	}

	e.Candidates = append(e.Candidates, candidate)

	err = writeElection(snap, e)
	if err != nil {
		return nil, err
	}

	return []byte(candidate.ID.String()), nil
}

// advance implements commands. It moves the election to the next status.
func (electionCommand) advance(snap store.Snapshot, step execution.Step) ([]byte, error) {
	e, err := loadElection(snap, step)
	if err != nil {
		return nil, err
	}

	to, err := types.ParseStatus(string(step.Current.GetArg(StatusArg)))
	if err != nil {
		return nil, err
	}

	err = lifecycle.CheckTransition(e, to, step.Current.GetIdentity(), step.Time)
	if err != nil {
		return nil, err
	}

	e.Status = to

	err = writeElection(snap, e)
	if err != nil {
		return nil, err
	}

	return nil, nil
}

// registerVoter implements commands. It registers the sender as a pending
// voter.
func (electionCommand) registerVoter(snap store.Snapshot, step execution.Step) ([]byte, error) {
	e, err := loadElection(snap, step)
	if err != nil {
		return nil, err
	}

	voter := step.Current.GetIdentity()

	current, err := State{Readable: snap}.VoterStatus(e.ID, voter)
	if err != nil {
		return nil, err
	}

	err = lifecycle.CheckRegister(e, current, step.Time)
	if err != nil {
		return nil, err
	}

	return nil, writeVoterStatus(snap, e.ID, voter, types.RegistrationPending)
}

// addAllowedVoter implements commands. It approves the voter of the
// transaction.
func (electionCommand) addAllowedVoter(snap store.Snapshot, step execution.Step) ([]byte, error) {
	return nil, changeVoterStatus(snap, step, types.RegistrationApproved)
}

// rejectVoter implements commands. It rejects the voter of the transaction,
// or blacklists it when asked.
func (electionCommand) rejectVoter(snap store.Snapshot, step execution.Step) ([]byte, error) {
	next := types.RegistrationRejected

	arg := step.Current.GetArg(StatusArg)
	if len(arg) > 0 {
		status, err := types.ParseRegistrationStatus(string(arg))
		if err != nil {
			return nil, err
		}

		if status != types.RegistrationRejected && status != types.RegistrationBlacklisted {
			return nil, types.Validation("cannot reject a voter with status '%s'", status)
		}

		next = status
	}

	return nil, changeVoterStatus(snap, step, next)
}

// vote implements commands. It records the vote of the sender and increments
// the count of the candidate.
func (electionCommand) vote(snap store.Snapshot, step execution.Step) ([]byte, error) {
	e, err := loadElection(snap, step)
	if err != nil {
		return nil, err
	}

	err = lifecycle.CheckVote(e, step.Time)
	if err != nil {
		return nil, err
	}

	candidateID, err := types.ParseCandidateID(string(step.Current.GetArg(CandidateArg)))
	if err != nil {
		return nil, err
	}

	index := -1
	for i, c := range e.Candidates {
		if c.ID == candidateID {
			index = i
		}
	}

	if index < 0 {
		return nil, types.NotFound("candidate %d not found in election %d", candidateID, e.ID)
	}

	voter := step.Current.GetIdentity()
	state := State{Readable: snap}

	if e.RequireRegistration {
		status, err := state.VoterStatus(e.ID, voter)
		if err != nil {
			return nil, err
		}

		if status != types.RegistrationApproved {
			return nil, types.NotEligible("voter %s is %s in election %d", voter.Hex(), status, e.ID)
		}
	}

	_, voted, err := state.Vote(e.ID, voter)
	if err != nil {
		return nil, err
	}

	if voted {
		return nil, types.AlreadyVoted("voter %s already voted in election %d", voter.Hex(), e.ID)
	}

	record := types.VoteRecord{
		ElectionID:  e.ID,
		Voter:       voter,
		CandidateID: candidateID,
		CastAt:      step.Time,
	}

	err = writeVote(snap, record)
	if err != nil {
		return nil, err
	}

	e.Candidates[index].VoteCount++
	e.TotalVotes++

	err = writeElection(snap, e)
	if err != nil {
		return nil, err
	}

	return nil, nil
}

// finalize implements commands. It records the winner of the election and
// returns its identifier.
func (electionCommand) finalize(snap store.Snapshot, step execution.Step) ([]byte, error) {
	e, err := loadElection(snap, step)
	if err != nil {
		return nil, err
	}

	err = lifecycle.CheckFinalize(e, step.Current.GetIdentity(), step.Time)
	if xerrors.Is(err, lifecycle.ErrAlreadyFinalized) {
		return nil, types.State("election %d is already finalized", e.ID)
	}
	if err != nil {
		return nil, err
	}

	winner, found := e.Leader()
	if !found {
		return nil, types.State("election %d has no candidate", e.ID)
	}

	arg := step.Current.GetArg(WinnerArg)
	if len(arg) > 0 {
		expected, err := types.ParseCandidateID(string(arg))
		if err != nil {
			return nil, err
		}

		if expected != winner {
			return nil, types.State("winner mismatch: expected %d but ledger has %d", expected, winner)
		}
	}

	e.Status = types.StatusFinalized
	e.Finalized = true
	e.Winner = winner
	e.FinalizeTx = string(step.Current.GetID())

	err = writeElection(snap, e)
	if err != nil {
		return nil, err
	}

	return []byte(winner.String()), nil
}

func loadElection(snap store.Snapshot, step execution.Step) (types.Election, error) {
	id, err := types.ParseElectionID(string(step.Current.GetArg(ElectionArg)))
	if err != nil {
		return types.Election{}, err
	}

	return State{Readable: snap}.Election(id)
}

func changeVoterStatus(snap store.Snapshot, step execution.Step, next types.RegistrationStatus) error {
	e, err := loadElection(snap, step)
	if err != nil {
		return err
	}

	if !e.IsAdmin(step.Current.GetIdentity()) {
		return types.Permission("only the admin can change voter statuses of election %d", e.ID)
	}

	voter, err := parseVoter(step.Current.GetArg(VoterArg))
	if err != nil {
		return err
	}

	state := State{Readable: snap}

	current, err := state.VoterStatus(e.ID, voter)
	if err != nil {
		return err
	}

	err = lifecycle.CheckRegistrationChange(current, next)
	if err != nil {
		return err
	}

	return writeVoterStatus(snap, e.ID, voter, next)
}

func parseVoter(arg []byte) (common.Address, error) {
	return types.ParseIdentity(string(arg))
}

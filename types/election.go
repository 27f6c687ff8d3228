// Package types defines the data model shared by the components: elections,
// candidates, voter registrations and vote records, alongside the error
// taxonomy.
//
// Values of this package are plain data. Components always return copies so
// that a caller never holds a reference into the internals of a store.
package types

import (
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ElectionID is the identifier of an election. The ledger assigns them
// sequentially starting from 1.
type ElectionID uint64

// String implements fmt.Stringer.
func (id ElectionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseElectionID parses a decimal election identifier.
func ParseElectionID(text string) (ElectionID, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(text), 10, 64)
	if err != nil || value == 0 {
		return 0, Validation("invalid election id '%s'", text)
	}

	return ElectionID(value), nil
}

// CandidateID is the identifier of a candidate, unique within its election,
// starting from 1 in insertion order.
type CandidateID uint64

// String implements fmt.Stringer.
func (id CandidateID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseCandidateID parses a decimal candidate identifier.
func ParseCandidateID(text string) (CandidateID, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(text), 10, 64)
	if err != nil || value == 0 {
		return 0, Validation("invalid candidate id '%s'", text)
	}

	return CandidateID(value), nil
}

// ParseIdentity parses the hexadecimal form of an address that identifies a
// voter or an administrator.
func ParseIdentity(text string) (common.Address, error) {
	text = strings.TrimSpace(text)

	if !common.IsHexAddress(text) {
		return common.Address{}, Validation("invalid identity '%s'", text)
	}

	addr := common.HexToAddress(text)
	if addr == (common.Address{}) {
		return common.Address{}, Validation("zero identity is not allowed")
	}

	return addr, nil
}

// Candidate is a choice of an election ballot.
type Candidate struct {
	ID         CandidateID `json:"id"`
	Name       string      `json:"name"`
	DetailsRef string      `json:"detailsRef,omitempty"`
	VoteCount  uint64      `json:"voteCount"`
}

// Election is the ledger record of an election.
type Election struct {
	ID                  ElectionID     `json:"id"`
	Title               string         `json:"title"`
	DescriptionRef      string         `json:"descriptionRef,omitempty"`
	RegistrationStart   time.Time      `json:"registrationStart"`
	VotingStart         time.Time      `json:"votingStart"`
	VotingEnd           time.Time      `json:"votingEnd"`
	Status              Status         `json:"status"`
	Admin               common.Address `json:"admin"`
	RequireRegistration bool           `json:"requireRegistration"`
	Candidates          []Candidate    `json:"candidates"`
	TotalVotes          uint64         `json:"totalVotes"`
	Finalized           bool           `json:"finalized"`
	Winner              CandidateID    `json:"winner,omitempty"`
	FinalizeTx          string         `json:"finalizeTx,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
}

// Clone returns a deep copy of the election.
func (e Election) Clone() Election {
	clone := e
	clone.Candidates = append([]Candidate(nil), e.Candidates...)

	return clone
}

// Candidate returns the candidate with the given identifier.
func (e Election) Candidate(id CandidateID) (Candidate, bool) {
	for _, c := range e.Candidates {
		if c.ID == id {
			return c, true
		}
	}

	return Candidate{}, false
}

// IsAdmin returns true if the identity is the administrator of the election.
func (e Election) IsAdmin(identity common.Address) bool {
	return e.Admin == identity
}

// SumVotes returns the sum of the vote counts of the candidates.
func (e Election) SumVotes() uint64 {
	sum := uint64(0)
	for _, c := range e.Candidates {
		sum += c.VoteCount
	}

	return sum
}

// Leader returns the candidate with the most votes. A tie is broken in favor
// of the lowest candidate identifier. It returns false if there is no
// candidate.
func (e Election) Leader() (CandidateID, bool) {
	var leader *Candidate

	for i, c := range e.Candidates {
		if leader == nil || c.VoteCount > leader.VoteCount ||
			(c.VoteCount == leader.VoteCount && c.ID < leader.ID) {
			leader = &e.Candidates[i]
		}
	}

	if leader == nil {
		return 0, false
	}

	return leader.ID, true
}

// Consistent returns true when the total matches the per-candidate counts and
// the finalized flag matches the status.
func (e Election) Consistent() bool {
	return e.TotalVotes == e.SumVotes() && e.Finalized == (e.Status == StatusFinalized)
}

// ElectionSpec holds the parameters to create an election.
type ElectionSpec struct {
	Title               string      `json:"title"`
	DescriptionRef      string      `json:"descriptionRef,omitempty"`
	RegistrationStart   time.Time   `json:"registrationStart"`
	VotingStart         time.Time   `json:"votingStart"`
	VotingEnd           time.Time   `json:"votingEnd"`
	RequireRegistration bool        `json:"requireRegistration"`
	Candidates          []Candidate `json:"candidates,omitempty"`
}

// Validate checks the parameters of the election.
func (s ElectionSpec) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return Validation("election title is required")
	}

	if s.VotingStart.IsZero() || s.VotingEnd.IsZero() {
		return Validation("voting start and end are required")
	}

	if !s.VotingStart.Before(s.VotingEnd) {
		return Validation("voting start must be before voting end")
	}

	if !s.RegistrationStart.IsZero() && s.RegistrationStart.After(s.VotingStart) {
		return Validation("registration start must not be after voting start")
	}

	for _, c := range s.Candidates {
		err := c.validate()
		if err != nil {
			return err
		}
	}

	return nil
}

func (c Candidate) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return Validation("candidate name is required")
	}

	return nil
}

// CandidateSpec holds the parameters to add a candidate.
type CandidateSpec struct {
	Name       string `json:"name"`
	DetailsRef string `json:"detailsRef,omitempty"`
}

// Validate checks the parameters of the candidate.
func (s CandidateSpec) Validate() error {
	return Candidate{Name: s.Name}.validate()
}

// ElectionView is an election as presented to a client, with the effective
// status computed from the clock and the origin of the data.
type ElectionView struct {
	Election
	Source Source `json:"source"`
	Stale  bool   `json:"stale"`
}

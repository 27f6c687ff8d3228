package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// VoterRegistration is the off-chain record of a voter registration. A status
// change produces a new version that supersedes the previous one.
type VoterRegistration struct {
	ID               string             `json:"id"`
	ElectionID       ElectionID         `json:"electionId"`
	Voter            common.Address     `json:"voter"`
	Status           RegistrationStatus `json:"status"`
	VerificationData []byte             `json:"verificationData,omitempty"`
	RegisteredAt     time.Time          `json:"registeredAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
	Approver         *common.Address    `json:"approver,omitempty"`
	Supersedes       string             `json:"supersedes,omitempty"`
}

// VoteRecord is the record of an accepted vote. At most one exists per voter
// and election.
type VoteRecord struct {
	ElectionID  ElectionID     `json:"electionId"`
	Voter       common.Address `json:"voter"`
	CandidateID CandidateID    `json:"candidateId"`
	CastAt      time.Time      `json:"castAt"`
}

// EligibilityResult is the answer of the eligibility resolver.
type EligibilityResult struct {
	ElectionID ElectionID         `json:"electionId"`
	Voter      common.Address     `json:"voter"`
	Status     RegistrationStatus `json:"status"`
	Source     Source             `json:"source"`
	Reason     string             `json:"reason,omitempty"`
	Stale      bool               `json:"stale"`
	ObservedAt time.Time          `json:"observedAt"`
}

// Approved returns true if the voter is allowed to vote.
func (r EligibilityResult) Approved() bool {
	return r.Status == RegistrationApproved
}

// Receipt is the outcome of a ledger write.
type Receipt struct {
	TxID     string `json:"txId"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
	Replayed bool   `json:"replayed,omitempty"`
	Output   string `json:"output,omitempty"`
}

// VoteReceipt is the result of a successful vote.
type VoteReceipt struct {
	Record   VoteRecord   `json:"record"`
	Receipt  Receipt      `json:"receipt"`
	Election ElectionView `json:"election"`
	Attempts int          `json:"attempts"`
}

// FinalizeResult is the result of a successful finalization.
type FinalizeResult struct {
	ElectionID ElectionID  `json:"electionId"`
	Winner     CandidateID `json:"winner"`
	Receipt    Receipt     `json:"receipt"`
	Replayed   bool        `json:"replayed"`
}

// CandidateResult is the tally of a single candidate.
type CandidateResult struct {
	Candidate
	Share float64 `json:"share"`
}

// Results is the tally of an election.
type Results struct {
	ElectionID ElectionID        `json:"electionId"`
	Status     Status            `json:"status"`
	TotalVotes uint64            `json:"totalVotes"`
	Candidates []CandidateResult `json:"candidates"`
	Leader     CandidateID       `json:"leader,omitempty"`
	Final      bool              `json:"final"`
}

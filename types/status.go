package types

import (
	"golang.org/x/xerrors"
)

// Status is the lifecycle status of an election. The statuses are ordered and
// an election only moves forward.
type Status uint8

const (
	// StatusDraft is the status of an election that has been created but not
	// yet published for registration.
	StatusDraft Status = iota

	// StatusRegistration is the status of an election that accepts voter
	// registrations.
	StatusRegistration

	// StatusActive is the status of an election that accepts votes.
	StatusActive

	// StatusEnded is the status of an election that no longer accepts votes
	// and waits to be finalized.
	StatusEnded

	// StatusFinalized is the terminal status of an election with a recorded
	// winner.
	StatusFinalized
)

var statusNames = [...]string{
	StatusDraft:        "draft",
	StatusRegistration: "registration",
	StatusActive:       "active",
	StatusEnded:        "ended",
	StatusFinalized:    "finalized",
}

// ParseStatus returns the status matching the text. Unknown values are
// rejected.
func ParseStatus(text string) (Status, error) {
	for i, name := range statusNames {
		if name == text {
			return Status(i), nil
		}
	}

	return 0, Validation("unknown election status '%s'", text)
}

// Valid returns true if the status is one of the known values.
func (s Status) Valid() bool {
	return int(s) < len(statusNames)
}

// Next returns the status following this one. The second value is false for
// the terminal status.
func (s Status) Next() (Status, bool) {
	if s >= StatusFinalized {
		return s, false
	}

	return s + 1, true
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if !s.Valid() {
		return "unknown"
	}

	return statusNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, xerrors.Errorf("invalid election status %d", s)
	}

	return []byte(statusNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	status, err := ParseStatus(string(text))
	if err != nil {
		return err
	}

	*s = status

	return nil
}

// RegistrationStatus is the status of a voter registration for an election.
type RegistrationStatus uint8

const (
	// RegistrationNone is the implicit status of a voter that never
	// registered.
	RegistrationNone RegistrationStatus = iota

	// RegistrationPending is the status of a registration waiting for an
	// admin decision.
	RegistrationPending

	// RegistrationApproved is the only status that allows a voter to vote in
	// an election requiring registration.
	RegistrationApproved

	// RegistrationRejected is the status of a refused registration. An admin
	// can revisit it.
	RegistrationRejected

	// RegistrationBlacklisted is the terminal status of a registration.
	RegistrationBlacklisted
)

var registrationNames = [...]string{
	RegistrationNone:        "none",
	RegistrationPending:     "pending",
	RegistrationApproved:    "approved",
	RegistrationRejected:    "rejected",
	RegistrationBlacklisted: "blacklisted",
}

// maxLedgerCode is the highest status code the ledger knows about. The
// blacklisted status only exists off-chain.
const maxLedgerCode = 3

// ParseRegistrationStatus returns the registration status matching the text.
// Unknown values are rejected.
func ParseRegistrationStatus(text string) (RegistrationStatus, error) {
	for i, name := range registrationNames {
		if name == text {
			return RegistrationStatus(i), nil
		}
	}

	return 0, Validation("unknown registration status '%s'", text)
}

// RegistrationFromCode converts a ledger status code. Codes outside of the
// ledger range are rejected.
func RegistrationFromCode(code uint8) (RegistrationStatus, error) {
	if code > maxLedgerCode {
		return 0, Rejected(nil, "unknown voter status code %d", code)
	}

	return RegistrationStatus(code), nil
}

// Code returns the ledger status code. The ledger only keeps a projection of
// the status, hence a blacklisted voter is seen as rejected.
func (s RegistrationStatus) Code() uint8 {
	if s == RegistrationBlacklisted {
		return uint8(RegistrationRejected)
	}

	return uint8(s)
}

// Valid returns true if the status is one of the known values.
func (s RegistrationStatus) Valid() bool {
	return int(s) < len(registrationNames)
}

// Terminal returns true when the status can never change again.
func (s RegistrationStatus) Terminal() bool {
	return s == RegistrationBlacklisted
}

// String implements fmt.Stringer.
func (s RegistrationStatus) String() string {
	if !s.Valid() {
		return "unknown"
	}

	return registrationNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s RegistrationStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, xerrors.Errorf("invalid registration status %d", s)
	}

	return []byte(registrationNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *RegistrationStatus) UnmarshalText(text []byte) error {
	status, err := ParseRegistrationStatus(string(text))
	if err != nil {
		return err
	}

	*s = status

	return nil
}

// Source tells which backing store produced a value.
type Source uint8

const (
	// SourceNone means that no store knew about the value.
	SourceNone Source = iota

	// SourceLedger is the authoritative ledger.
	SourceLedger

	// SourceContent is the content-addressed store.
	SourceContent

	// SourceCache is the local fallback cache.
	SourceCache

	// SourceOptimistic tags a value computed locally after a successful write
	// and before the ledger has been read again.
	SourceOptimistic
)

var sourceNames = [...]string{
	SourceNone:       "none",
	SourceLedger:     "ledger",
	SourceContent:    "content",
	SourceCache:      "cache",
	SourceOptimistic: "optimistic",
}

// String implements fmt.Stringer.
func (s Source) String() string {
	if int(s) >= len(sourceNames) {
		return "unknown"
	}

	return sourceNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	if int(s) >= len(sourceNames) {
		return nil, xerrors.Errorf("invalid source %d", s)
	}

	return []byte(sourceNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(text []byte) error {
	for i, name := range sourceNames {
		if name == string(text) {
			*s = Source(i)
			return nil
		}
	}

	return Validation("unknown source '%s'", text)
}

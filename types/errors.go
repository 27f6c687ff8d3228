package types

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind is the closed set of error kinds the coordinator can return. Every kind
// maps to a distinct message category so that a user interface can decide
// what to display and whether a retry makes sense.
type Kind uint8

const (
	// KindNotFound is returned for an unknown election, candidate or
	// registration.
	KindNotFound Kind = iota + 1

	// KindPermission is returned when a non-admin attempts an admin action.
	KindPermission

	// KindState is returned when an operation is invalid for the current
	// lifecycle status.
	KindState

	// KindAlreadyVoted is returned when a vote record already exists.
	KindAlreadyVoted

	// KindNotEligible is returned when the voter is not approved.
	KindNotEligible

	// KindUnreachable is a transport failure: the store could not be
	// contacted.
	KindUnreachable

	// KindTimeout is a transport failure: the store did not answer in time.
	KindTimeout

	// KindRejected is returned when a store refused a request.
	KindRejected

	// KindValidation is returned for malformed input.
	KindValidation

	// KindInProgress is returned when the same voter already has a vote in
	// flight for the election.
	KindInProgress
)

var kindNames = map[Kind]string{
	KindNotFound:     "not_found",
	KindPermission:   "permission",
	KindState:        "state",
	KindAlreadyVoted: "already_voted",
	KindNotEligible:  "not_eligible",
	KindUnreachable:  "unreachable",
	KindTimeout:      "timeout",
	KindRejected:     "rejected",
	KindValidation:   "validation",
	KindInProgress:   "in_progress",
}

var kindCategories = map[Kind]string{
	KindNotFound:     "The requested election, candidate or registration does not exist.",
	KindPermission:   "Only the election administrator can perform this action.",
	KindState:        "This action is not possible at the current stage of the election.",
	KindAlreadyVoted: "A vote has already been recorded for this voter.",
	KindNotEligible:  "The voter is not eligible to vote in this election.",
	KindUnreachable:  "A backing service could not be reached. Please try again.",
	KindTimeout:      "A backing service took too long to answer. Please try again.",
	KindRejected:     "The request was refused by the ledger.",
	KindValidation:   "The request contains invalid data.",
	KindInProgress:   "A vote for this voter is already being submitted.",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	name, found := kindNames[k]
	if !found {
		return "unknown"
	}

	return name
}

// Category returns the human-readable message category of the kind.
func (k Kind) Category() string {
	return kindCategories[k]
}

// Retryable returns true for the transport failures that may disappear on
// their own.
func (k Kind) Retryable() bool {
	return k == KindUnreachable || k == KindTimeout
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	name, found := kindNames[k]
	if !found {
		return nil, xerrors.Errorf("invalid error kind %d", k)
	}

	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}

	return xerrors.Errorf("unknown error kind '%s'", text)
}

// Error is the error type returned by the components.
//
// - implements error
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func newError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// Error implements error. The cause is appended to the message when present.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

// Unwrap returns the cause of the error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is returns true when the target is an error of the same kind with no
// message, which allows the use of the sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}

	return other.Kind == e.Kind && other.Message == ""
}

// Sentinels to compare an error kind with errors.Is.
var (
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrPermission   = &Error{Kind: KindPermission}
	ErrState        = &Error{Kind: KindState}
	ErrAlreadyVoted = &Error{Kind: KindAlreadyVoted}
	ErrNotEligible  = &Error{Kind: KindNotEligible}
	ErrUnreachable  = &Error{Kind: KindUnreachable}
	ErrTimeout      = &Error{Kind: KindTimeout}
	ErrRejected     = &Error{Kind: KindRejected}
	ErrValidation   = &Error{Kind: KindValidation}
	ErrInProgress   = &Error{Kind: KindInProgress}
)

// KindOf returns the kind of the first Error found in the chain, or zero if
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if xerrors.As(err, &e) {
		return e.Kind
	}

	return 0
}

// IsRetryable returns true if the error is a transport failure worth a retry.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// NotFound returns a new error of kind KindNotFound.
func NotFound(format string, args ...interface{}) *Error {
	return newError(KindNotFound, nil, format, args...)
}

// Permission returns a new error of kind KindPermission.
func Permission(format string, args ...interface{}) *Error {
	return newError(KindPermission, nil, format, args...)
}

// State returns a new error of kind KindState.
func State(format string, args ...interface{}) *Error {
	return newError(KindState, nil, format, args...)
}

// AlreadyVoted returns a new error of kind KindAlreadyVoted.
func AlreadyVoted(format string, args ...interface{}) *Error {
	return newError(KindAlreadyVoted, nil, format, args...)
}

// NotEligible returns a new error of kind KindNotEligible.
func NotEligible(format string, args ...interface{}) *Error {
	return newError(KindNotEligible, nil, format, args...)
}

// Validation returns a new error of kind KindValidation.
func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, nil, format, args...)
}

// InProgress returns a new error of kind KindInProgress.
func InProgress(format string, args ...interface{}) *Error {
	return newError(KindInProgress, nil, format, args...)
}

// Unreachable returns a new error of kind KindUnreachable with an optional
// cause.
func Unreachable(cause error, format string, args ...interface{}) *Error {
	return newError(KindUnreachable, cause, format, args...)
}

// Timeout returns a new error of kind KindTimeout with an optional cause.
func Timeout(cause error, format string, args ...interface{}) *Error {
	return newError(KindTimeout, cause, format, args...)
}

// Rejected returns a new error of kind KindRejected with an optional cause.
func Rejected(cause error, format string, args ...interface{}) *Error {
	return newError(KindRejected, cause, format, args...)
}

// internalKind is the kind of an error outside of the taxonomy on the wire.
const internalKind = "internal"

// ErrorMessage is the JSON representation of an error sent to a client.
type ErrorMessage struct {
	Kind      string `json:"kind"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// NewErrorMessage returns the message of the error.
func NewErrorMessage(err error) ErrorMessage {
	kind := KindOf(err)
	if kind == 0 {
		return ErrorMessage{
			Kind:     internalKind,
			Category: "An unexpected error occurred.",
			Message:  err.Error(),
		}
	}

	return ErrorMessage{
		Kind:      kind.String(),
		Category:  kind.Category(),
		Message:   err.Error(),
		Retryable: kind.Retryable(),
	}
}

// Err returns the error described by the message. An unknown kind is
// returned as an opaque error.
func (m ErrorMessage) Err() error {
	var kind Kind

	err := kind.UnmarshalText([]byte(m.Kind))
	if err != nil {
		return xerrors.New(m.Message)
	}

	return &Error{Kind: kind, Message: m.Message}
}

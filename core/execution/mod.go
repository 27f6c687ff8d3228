// Package execution defines the service that applies transactions to a store.
package execution

import (
	"time"

	"go.dedis.ch/elector/core/store"
	"go.dedis.ch/elector/core/txn"
)

// Step is the context of a transaction execution.
type Step struct {
	// Current is the transaction to execute.
	Current txn.Transaction

	// Time is the ledger time at which the transaction is applied.
	Time time.Time
}

// Result is the result of a transaction execution.
type Result struct {
	// Accepted is the success state of the transaction.
	Accepted bool

	// Message gives a chance to the execution to explain why a transaction has
	// failed.
	Message string

	// Output is the value returned by the execution when it is accepted.
	Output []byte
}

// Service is the execution service that defines the primitives to execute a
// transaction.
type Service interface {
	// Execute must apply the transaction to the snapshot and return the result
	// of it.
	Execute(snap store.Snapshot, step Step) (Result, error)
}

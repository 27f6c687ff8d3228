// Package store defines the key/value primitives the contracts are executed
// against. The ledger state, the staging overlay of a transaction and the
// namespaced view of a contract are all snapshots.
package store

// Readable is a store that can be read. A missing key returns a nil value and
// no error.
type Readable interface {
	Get(key []byte) ([]byte, error)
}

// Writable is a store that can be modified.
type Writable interface {
	Set(key []byte, value []byte) error

	Delete(key []byte) error
}

// Snapshot is a view of the state that a contract reads and modifies while it
// executes a transaction. The writes only become visible to others when the
// owner of the snapshot applies them.
type Snapshot interface {
	Readable
	Writable
}

// Transaction is implemented by the database transactions that can notify
// when they are committed. The ledger uses it to publish events only for
// persisted transactions.
type Transaction interface {
	OnCommit(func())
}

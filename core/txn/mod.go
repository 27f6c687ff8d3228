// Package txn defines the abstraction of transactions.
//
// A transaction is a smart contract input. It is uniquely identifiable so that
// a client can submit it again after an ambiguous failure, and it is created
// by an identity used for access control.
package txn

import "github.com/ethereum/go-ethereum/common"

// Transaction is what triggers a smart contract execution by passing it as part
// of the input.
type Transaction interface {
	// GetID returns the unique identifier for the transaction.
	GetID() []byte

	// GetIdentity returns the identity that created the transaction.
	GetIdentity() common.Address

	// GetArg is a getter for the arguments of the transaction.
	GetArg(key string) []byte
}

// Arg is a generic argument that can be stored in a transaction.
type Arg struct {
	Key   string
	Value []byte
}

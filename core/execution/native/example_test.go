package native

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/elector/core/execution"
	"go.dedis.ch/elector/core/store"
	"go.dedis.ch/elector/internal/testing/fake"
)

func ExampleService_Execute() {
	srvc := NewExecution()
	srvc.Set("tally", tallyContract{})

	snap := fake.NewSnapshot()

	step := execution.Step{
		Current: exampleTx{
			args: map[string][]byte{
				ContractArg: []byte("tally"),
				"candidate": []byte("alice"),
			},
		},
	}

	for i := 0; i < 2; i++ {
		res, err := srvc.Execute(snap, step)
		if err != nil {
			panic("failed to execute: " + err.Error())
		}

		fmt.Println(res.Accepted, binary.LittleEndian.Uint64(res.Output))
	}

	step.Current = exampleTx{args: map[string][]byte{ContractArg: []byte("tally")}}

	res, err := srvc.Execute(snap, step)
	if err != nil {
		panic("failed to execute: " + err.Error())
	}

	fmt.Println(res.Accepted, res.Message)

	// Output: true 1
	// true 2
	// false missing candidate
}

// tallyContract is an example contract that counts the ballots of the
// candidate in the transaction.
//
// - implements native.Contract
type tallyContract struct{}

// Execute implements native.Contract. It increases the counter of the
// candidate and returns the new value.
func (tallyContract) Execute(snap store.Snapshot, step execution.Step) ([]byte, error) {
	candidate := step.Current.GetArg("candidate")
	if len(candidate) == 0 {
		return nil, fmt.Errorf("missing candidate")
	}

	value, err := snap.Get(candidate)
	if err != nil {
		return nil, err
	}

	counter := uint64(0)
	if len(value) == 8 {
		counter = binary.LittleEndian.Uint64(value)
	}

	buffer := make([]byte, 8)
	binary.LittleEndian.PutUint64(buffer, counter+1)

	err = snap.Set(candidate, buffer)
	if err != nil {
		return nil, err
	}

	return buffer, nil
}

// exampleTx is a transaction with a fixed set of arguments.
//
// - implements txn.Transaction
type exampleTx struct {
	args map[string][]byte
}

func (tx exampleTx) GetID() []byte {
	return []byte("example")
}

func (tx exampleTx) GetIdentity() common.Address {
	return common.Address{}
}

func (tx exampleTx) GetArg(key string) []byte {
	return tx.args[key]
}

// Package native implements an execution service to run native smart contracts.
//
// A native smart contract is written in Go and packaged with the application.
package native

import (
	"go.dedis.ch/elector/core/execution"
	"go.dedis.ch/elector/core/store"
	"golang.org/x/xerrors"
)

const (
	// ContractArg is the argument key in the transaction to look up a contract.
	ContractArg = "go.dedis.ch/elector.ContractArg"
)

// Contract is the interface to implement to register a smart contract that will
// be executed natively. The returned bytes are the output of an accepted
// transaction.
type Contract interface {
	Execute(store.Snapshot, execution.Step) ([]byte, error)
}

// Service is an execution service for packaged applications. Those
// applications have complete access to the snapshot and can directly update it.
//
// - implements execution.Service
type Service struct {
	contracts map[string]Contract
}

// NewExecution returns a new native execution.
func NewExecution() *Service {
	return &Service{
		contracts: map[string]Contract{},
	}
}

// Set stores the contract using the name as the key. A transaction can trigger
// this contract by using the same name as the contract argument.
func (ns *Service) Set(name string, contract Contract) {
	_, found := ns.contracts[name]
	if found {
		panic(xerrors.Errorf("contract '%s' already registered", name))
	}

	ns.contracts[name] = contract
}

// Execute implements execution.Service. It uses the executor to process the
// incoming transaction and return the result.
func (ns *Service) Execute(snap store.Snapshot, step execution.Step) (execution.Result, error) {
	if step.Current == nil {
		return execution.Result{}, xerrors.New("missing transaction")
	}

	name := string(step.Current.GetArg(ContractArg))

	contract := ns.contracts[name]
	if contract == nil {
		return execution.Result{}, xerrors.Errorf("unknown contract '%s'", name)
	}

	res := execution.Result{
		Accepted: true,
	}

	out, err := contract.Execute(snap, step)
	if err != nil {
		res.Accepted = false
		res.Message = err.Error()
	} else {
		res.Output = out
	}

	return res, nil
}

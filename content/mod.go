// Package content defines the adapter of the content-addressed store that
// keeps the off-chain voter registrations.
//
// An object is addressed by the CIDv1 of its bytes (raw codec, sha2-256), so
// that an object can never change once stored. A registration status change
// produces a new object that supersedes the previous one.
package content

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"go.dedis.ch/elector/types"
	"golang.org/x/xerrors"
)

// Content is the interface of the adapter of a content-addressed store.
type Content interface {
	// Store stores the bytes and returns their address. Storing the same
	// bytes twice returns the same address.
	Store(ctx context.Context, data []byte) (cid.Cid, error)

	// Fetch returns the bytes at the address. The bytes are verified against
	// the address.
	Fetch(ctx context.Context, addr cid.Cid) ([]byte, error)

	// StoreRegistration stores a new version of the registration and returns
	// its address. The previous version of the registration of the voter, if
	// any, is superseded.
	StoreRegistration(ctx context.Context, reg types.VoterRegistration) (cid.Cid, error)

	// Registration returns the current registration of the voter for the
	// election, or false when the store has none.
	Registration(ctx context.Context, id types.ElectionID, voter common.Address) (types.VoterRegistration, bool, error)

	// ListByElection returns the current registration of every voter of the
	// election.
	ListByElection(ctx context.Context, id types.ElectionID) ([]types.VoterRegistration, error)
}

// Address returns the address of the bytes.
func Address(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, types.Validation("failed to hash content: %v", err)
	}

	return cid.NewCidV1(cid.Raw, sum), nil
}

// Verify returns an error of kind Rejected if the bytes do not match the
// address.
func Verify(addr cid.Cid, data []byte) error {
	decoded, err := multihash.Decode(addr.Hash())
	if err != nil {
		return types.Rejected(err, "invalid address %s", addr)
	}

	sum, err := multihash.Sum(data, decoded.Code, decoded.Length)
	if err != nil {
		return types.Rejected(err, "unsupported hash of address %s", addr)
	}

	if !cid.NewCidV1(addr.Prefix().Codec, sum).Equals(addr) {
		return types.Rejected(nil, "content does not match address %s", addr)
	}

	return nil
}

// ContextError translates the error of a done context into an adapter error.
func ContextError(err error) error {
	if xerrors.Is(err, context.DeadlineExceeded) {
		return types.Timeout(err, "content store deadline exceeded")
	}

	return types.Unreachable(err, "content store request interrupted")
}

// ParseAddress parses the text form of an address.
func ParseAddress(text string) (cid.Cid, error) {
	addr, err := cid.Decode(text)
	if err != nil {
		return cid.Undef, types.Validation("invalid content address '%s'", text)
	}

	return addr, nil
}

// SortRegistrations sorts the registrations by registration time, and then by
// voter.
func SortRegistrations(regs []types.VoterRegistration) {
	sort.Slice(regs, func(i, j int) bool {
		if !regs[i].RegisteredAt.Equal(regs[j].RegisteredAt) {
			return regs[i].RegisteredAt.Before(regs[j].RegisteredAt)
		}

		return regs[i].Voter.Hex() < regs[j].Voter.Hex()
	})
}

// Package http implements the ledger adapter over HTTP.
//
// The service exposes any ledger on the proxy and the client implements the
// ledger interface by calling the service. The client translates the failures
// of the transport: a connection failure is Unreachable, an expired deadline
// is a Timeout, a conflict or an unprocessable request is Rejected and an
// unknown resource is NotFound. The span of the caller is propagated in the
// headers of every request.
package http

import (
	"go.dedis.ch/elector/ledger"
	"go.dedis.ch/elector/types"
)

const (
	// BasePath is the path under which the service registers its handlers.
	BasePath = "/ledger"

	// ServiceName is the name of the tracer of the ledger service.
	ServiceName = "elector-ledger"
)

// CountResponse is the response of the election count.
type CountResponse struct {
	Count uint64 `json:"count"`
}

// BoolResponse is the response of a yes or no question.
type BoolResponse struct {
	Value bool `json:"value"`
}

// StatusResponse is the response of a voter status, as a ledger code.
type StatusResponse struct {
	Code uint8 `json:"code"`
}

// SubmitResponse is the response of a transaction submission. The error is
// set when the transaction is refused.
type SubmitResponse struct {
	Receipt types.Receipt       `json:"receipt"`
	Error   *types.ErrorMessage `json:"error,omitempty"`
}

// CapabilitiesResponse is the response of the capabilities of the ledger.
type CapabilitiesResponse struct {
	ledger.Capabilities
}

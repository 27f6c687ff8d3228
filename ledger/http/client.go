package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.dedis.ch/elector"
	"go.dedis.ch/elector/internal/tracing"
	"go.dedis.ch/elector/ledger"
	"go.dedis.ch/elector/types"
	"golang.org/x/xerrors"
)

var promLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "elector_ledger_http_seconds",
	Help:    "latency of the requests to the remote ledger",
	Buckets: prometheus.DefBuckets,
}, []string{"operation"})

func init() {
	elector.PromCollectors = append(elector.PromCollectors, promLatency)
}

const defaultTimeout = 10 * time.Second

// Client is a ledger adapter that calls a remote ledger service.
//
// - implements ledger.Ledger
type Client struct {
	base   string
	client *http.Client
	caps   ledger.Capabilities
	tracer opentracing.Tracer
}

// Option is the type of option to set some fields of the client.
type Option func(*Client)

// WithCapabilities is an option to set the capabilities of the remote ledger.
// The client announces every capability by default.
func WithCapabilities(caps ledger.Capabilities) Option {
	return func(c *Client) {
		c.caps = caps
	}
}

// WithHTTPClient is an option to set the HTTP client of the adapter.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithTracer is an option to set the tracer of the requests.
func WithTracer(tracer opentracing.Tracer) Option {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// NewClient returns a client of the ledger service at the base URL.
func NewClient(base string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimSuffix(base, "/") + BasePath,
		client: &http.Client{Timeout: defaultTimeout},
		caps:   ledger.AllCapabilities(),
		tracer: opentracing.NoopTracer{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FetchCapabilities asks the service for the capabilities of the remote
// ledger. The result is meant to be given to a new client.
func (c *Client) FetchCapabilities(ctx context.Context) (ledger.Capabilities, error) {
	var resp CapabilitiesResponse

	err := c.get(ctx, "capabilities", "/capabilities", &resp)
	if err != nil {
		return ledger.Capabilities{}, err
	}

	return resp.Capabilities, nil
}

// Capabilities implements ledger.Ledger.
func (c *Client) Capabilities() ledger.Capabilities {
	return c.caps
}

// ElectionCount implements ledger.Ledger.
func (c *Client) ElectionCount(ctx context.Context) (uint64, error) {
	var resp CountResponse

	err := c.get(ctx, "count", "/elections", &resp)
	if err != nil {
		return 0, err
	}

	return resp.Count, nil
}

// GetElectionDetails implements ledger.Ledger.
func (c *Client) GetElectionDetails(ctx context.Context, id types.ElectionID) (types.Election, error) {
	var e types.Election

	err := c.get(ctx, "election", fmt.Sprintf("/elections/%d", id), &e)
	if err != nil {
		return types.Election{}, err
	}

	return e, nil
}

// GetCandidate implements ledger.Ledger.
func (c *Client) GetCandidate(ctx context.Context, id types.ElectionID,
	candidate types.CandidateID) (types.Candidate, error) {

	var resp types.Candidate

	err := c.get(ctx, "candidate", fmt.Sprintf("/elections/%d/candidates/%d", id, candidate), &resp)
	if err != nil {
		return types.Candidate{}, err
	}

	return resp, nil
}

// HasVoted implements ledger.Ledger.
func (c *Client) HasVoted(ctx context.Context, id types.ElectionID, voter common.Address) (bool, error) {
	var resp BoolResponse

	err := c.get(ctx, "voted", voterPath(id, voter, "voted"), &resp)
	if err != nil {
		return false, err
	}

	return resp.Value, nil
}

// IsVoterAllowed implements ledger.Ledger.
func (c *Client) IsVoterAllowed(ctx context.Context, id types.ElectionID, voter common.Address) (bool, error) {
	if !c.caps.AllowList {
		return false, ledger.ErrUnsupported
	}

	var resp BoolResponse

	err := c.get(ctx, "allowed", voterPath(id, voter, "allowed"), &resp)
	if err != nil {
		return false, err
	}

	return resp.Value, nil
}

// GetVoterStatus implements ledger.Ledger. A status code unknown to the
// adapter is rejected.
func (c *Client) GetVoterStatus(ctx context.Context, id types.ElectionID,
	voter common.Address) (types.RegistrationStatus, error) {

	if !c.caps.VoterStatus {
		return 0, ledger.ErrUnsupported
	}

	var resp StatusResponse

	err := c.get(ctx, "status", voterPath(id, voter, "status"), &resp)
	if err != nil {
		return 0, err
	}

	return types.RegistrationFromCode(resp.Code)
}

// Submit implements ledger.Ledger.
func (c *Client) Submit(ctx context.Context, call ledger.Call) (types.Receipt, error) {
	data, err := json.Marshal(call)
	if err != nil {
		return types.Receipt{}, xerrors.Errorf("failed to encode call: %v", err)
	}

	status, body, err := c.do(ctx, "submit", http.MethodPost, "/transactions", data)
	if err != nil {
		return types.Receipt{}, err
	}

	if status != http.StatusOK && status != http.StatusConflict {
		return types.Receipt{}, statusError(status, body)
	}

	var resp SubmitResponse

	err = json.Unmarshal(body, &resp)
	if err != nil {
		return types.Receipt{}, types.Rejected(err, "invalid ledger response")
	}

	if resp.Error != nil || !resp.Receipt.Accepted {
		return resp.Receipt, ledger.RejectedError(resp.Receipt)
	}

	return resp.Receipt, nil
}

func (c *Client) get(ctx context.Context, op, path string, out interface{}) error {
	status, body, err := c.do(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	if status != http.StatusOK {
		return statusError(status, body)
	}

	err = json.Unmarshal(body, out)
	if err != nil {
		return types.Rejected(err, "invalid ledger response")
	}

	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, data []byte) (int, []byte, error) {
	var reader io.Reader
	if data != nil {
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, nil, types.Validation("invalid ledger request: %v", err)
	}

	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var parent opentracing.SpanContext
	if span := opentracing.SpanFromContext(ctx); span != nil {
		parent = span.Context()
	}

	span := c.tracer.StartSpan("ledger "+op, opentracing.ChildOf(parent))
	defer span.Finish()

	err = tracing.Inject(c.tracer, span, req)
	if err != nil {
		elector.Logger.Debug().Err(err).Msg("request sent without span")
	}

	timer := prometheus.NewTimer(promLatency.WithLabelValues(op))
	defer timer.ObserveDuration()

	res, err := c.client.Do(req)
	if err != nil {
		span.SetTag("error", true)
		return 0, nil, transportError(ctx, err)
	}

	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, nil, transportError(ctx, err)
	}

	span.SetTag("http.status_code", res.StatusCode)

	return res.StatusCode, body, nil
}

func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ledger.ContextError(ctx.Err())
	}

	var netErr net.Error
	if xerrors.As(err, &netErr) && netErr.Timeout() {
		return types.Timeout(err, "ledger did not answer in time")
	}

	return types.Unreachable(err, "ledger is unreachable")
}

func statusError(status int, body []byte) error {
	msg := types.ErrorMessage{Message: http.StatusText(status)}

	var decoded types.ErrorMessage
	if json.Unmarshal(body, &decoded) == nil && decoded.Message != "" {
		msg.Message = decoded.Message
	}

	switch status {
	case http.StatusNotFound:
		return types.NotFound("%s", msg.Message)
	case http.StatusBadRequest:
		return types.Validation("%s", msg.Message)
	case http.StatusGatewayTimeout:
		return types.Timeout(nil, "%s", msg.Message)
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return types.Unreachable(nil, "%s", msg.Message)
	default:
		return types.Rejected(nil, "%s", msg.Message)
	}
}

func voterPath(id types.ElectionID, voter common.Address, what string) string {
	return fmt.Sprintf("/elections/%d/voters/%s/%s", id, voter.Hex(), what)
}

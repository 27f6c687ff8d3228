package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/elector/core/store/kv"
	"go.dedis.ch/elector/internal/testing/fake"
	"go.dedis.ch/elector/ledger"
	"go.dedis.ch/elector/ledger/native"
	proxyhttp "go.dedis.ch/elector/proxy/http"
	"go.dedis.ch/elector/types"
)

var (
	admin = common.HexToAddress("0xa0")
	alice = common.HexToAddress("0xb1")
	t0    = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
)

func TestClient_Reads(t *testing.T) {
	client, _, _ := makeClient(t)
	ctx := context.Background()

	count, err := client.ElectionCount(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), count)

	_, err = client.GetElectionDetails(ctx, 1)
	require.ErrorIs(t, err, types.ErrNotFound)

	create(t, client)

	e, err := client.GetElectionDetails(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "Board", e.Title)
	require.Equal(t, admin, e.Admin)
	require.Len(t, e.Candidates, 2)

	c, err := client.GetCandidate(ctx, 1, 2)
	require.NoError(t, err)
	require.Equal(t, "Bob", c.Name)

	_, err = client.GetCandidate(ctx, 1, 5)
	require.ErrorIs(t, err, types.ErrNotFound)

	_, err = client.Submit(ctx, ledger.OpenRegistration(admin, 1))
	require.NoError(t, err)

	_, err = client.Submit(ctx, ledger.RegisterVoter(alice, 1))
	require.NoError(t, err)

	status, err := client.GetVoterStatus(ctx, 1, alice)
	require.NoError(t, err)
	require.Equal(t, types.RegistrationPending, status)

	_, err = client.Submit(ctx, ledger.AddAllowedVoter(admin, 1, alice))
	require.NoError(t, err)

	allowed, err := client.IsVoterAllowed(ctx, 1, alice)
	require.NoError(t, err)
	require.True(t, allowed)

	_, err = client.Submit(ctx, ledger.StartVoting(admin, 1))
	require.NoError(t, err)

	voted, err := client.HasVoted(ctx, 1, alice)
	require.NoError(t, err)
	require.False(t, voted)

	_, err = client.Submit(ctx, ledger.Vote(alice, 1, 1))
	require.NoError(t, err)

	voted, err = client.HasVoted(ctx, 1, alice)
	require.NoError(t, err)
	require.True(t, voted)
}

func TestClient_Submit(t *testing.T) {
	client, _, _ := makeClient(t)
	ctx := context.Background()

	call, err := ledger.CreateElection(admin, makeSpec())
	require.NoError(t, err)

	receipt, err := client.Submit(ctx, call)
	require.NoError(t, err)
	require.Equal(t, call.ID, receipt.TxID)
	require.Equal(t, "1", receipt.Output)

	receipt, err = client.Submit(ctx, call)
	require.NoError(t, err)
	require.True(t, receipt.Replayed)

	call, err = ledger.AddCandidate(alice, 1, types.CandidateSpec{Name: "Carol"})
	require.NoError(t, err)

	receipt, err = client.Submit(ctx, call)
	require.ErrorIs(t, err, types.ErrRejected)
	require.False(t, receipt.Accepted)
	require.Equal(t, call.ID, receipt.TxID)
	require.Contains(t, receipt.Message, "only the admin can add candidates")

	_, err = client.Submit(ctx, ledger.Call{})
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestClient_Capabilities(t *testing.T) {
	client, srv, _ := makeClient(t)
	ctx := context.Background()

	caps, err := client.FetchCapabilities(ctx)
	require.NoError(t, err)
	require.Equal(t, ledger.AllCapabilities(), caps)

	client = NewClient(srv.URL, WithCapabilities(ledger.Capabilities{}))
	require.Equal(t, ledger.Capabilities{}, client.Capabilities())

	_, err = client.GetVoterStatus(ctx, 1, alice)
	require.Equal(t, ledger.ErrUnsupported, err)

	_, err = client.IsVoterAllowed(ctx, 1, alice)
	require.Equal(t, ledger.ErrUnsupported, err)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(srv.URL)

	_, err := client.ElectionCount(context.Background())
	require.ErrorIs(t, err, types.ErrUnreachable)
	require.True(t, types.IsRetryable(err))
}

func TestClient_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))

	defer srv.Close()
	defer close(block)

	client := NewClient(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.ElectionCount(ctx)
	require.ErrorIs(t, err, types.ErrTimeout)

	client = NewClient(srv.URL, WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))

	_, err = client.ElectionCount(context.Background())
	require.ErrorIs(t, err, types.ErrTimeout)
}

func TestClient_StatusErrors(t *testing.T) {
	var code int
	var body string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		w.Write([]byte(body))
	}))

	defer srv.Close()

	client := NewClient(srv.URL)
	ctx := context.Background()

	cases := map[int]error{
		http.StatusNotFound:            types.ErrNotFound,
		http.StatusBadRequest:          types.ErrValidation,
		http.StatusConflict:            types.ErrRejected,
		http.StatusUnprocessableEntity: types.ErrRejected,
		http.StatusBadGateway:          types.ErrUnreachable,
		http.StatusServiceUnavailable:  types.ErrUnreachable,
		http.StatusGatewayTimeout:      types.ErrTimeout,
	}

	for status, expected := range cases {
		code = status
		body = `{"message":"oops"}`

		_, err := client.ElectionCount(ctx)
		require.ErrorIs(t, err, expected, status)
		require.EqualError(t, err, "oops")
	}

	code = http.StatusOK
	body = "not json"

	_, err := client.ElectionCount(ctx)
	require.ErrorIs(t, err, types.ErrRejected)

	body = `{"code":4}`

	_, err = client.GetVoterStatus(ctx, 1, alice)
	require.ErrorIs(t, err, types.ErrRejected)
	require.Contains(t, err.Error(), "unknown voter status code 4")
}

func TestClient_Tracing(t *testing.T) {
	tracer := mocktracer.New()

	l := native.NewLedger(makeDB(t))
	srv := makeServer(t, NewService(l, tracer))

	client := NewClient(srv.URL, WithTracer(tracer))

	_, err := client.ElectionCount(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(tracer.FinishedSpans()) == 2 },
		time.Second, 10*time.Millisecond)

	spans := tracer.FinishedSpans()
	require.Equal(t, "ledger count", spans[0].OperationName)
	require.Equal(t, "ledger count", spans[1].OperationName)
	require.Equal(t, spans[1].SpanContext.TraceID, spans[0].SpanContext.TraceID)
}

// -----------------------------------------------------------------------------
// Utility functions

func makeDB(t *testing.T) kv.DB {
	db, err := kv.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

func makeServer(t *testing.T, service *Service) *httptest.Server {
	proxy := proxyhttp.NewHTTP("")
	service.Register(proxy)

	srv := httptest.NewServer(proxy)
	t.Cleanup(srv.Close)

	return srv
}

func makeClient(t *testing.T) (*Client, *httptest.Server, *fake.Clock) {
	clock := fake.NewClock(t0)

	l := native.NewLedger(makeDB(t), native.WithClock(clock))
	srv := makeServer(t, NewService(l, nil))

	return NewClient(srv.URL), srv, clock
}

func makeSpec() types.ElectionSpec {
	return types.ElectionSpec{
		Title:               "Board",
		VotingStart:         t0.Add(time.Hour),
		VotingEnd:           t0.Add(2 * time.Hour),
		RequireRegistration: true,
		Candidates: []types.Candidate{
			{Name: "Alice"},
			{Name: "Bob"},
		},
	}
}

func create(t *testing.T, client *Client) {
	call, err := ledger.CreateElection(admin, makeSpec())
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), call)
	require.NoError(t, err)
}

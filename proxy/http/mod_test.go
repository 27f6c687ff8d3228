package http

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/elector/testing/fake"
	"go.dedis.ch/elector/types"
)

func TestHTTP_Listen(t *testing.T) {
	proxy := NewHTTP("127.0.0.1:0")
	require.Nil(t, proxy.GetAddr())

	proxy.RegisterHandler("/fake", fakeHandler)

	go proxy.Listen()
	defer proxy.Stop()

	require.Eventually(t, func() bool { return proxy.GetAddr() != nil }, time.Second, 10*time.Millisecond)

	res, err := http.Get("http://" + proxy.GetAddr().String() + "/fake")
	require.NoError(t, err)

	output, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	res.Body.Close()

	require.Equal(t, "hello", string(output))
	require.NotEmpty(t, res.Header.Get(RequestIDHeader))
}

func TestHTTP_Listen_BadAddr(t *testing.T) {
	proxy := NewHTTP("bad://xx")

	logger, check := fake.CheckLog("failed to create conn")
	proxy.logger = logger

	proxy.Listen()

	check(t)
	require.Nil(t, proxy.GetAddr())
}

func TestHTTP_Middlewares(t *testing.T) {
	proxy := NewHTTP("")

	logger, check := fake.CheckLog("GET")
	proxy.logger = logger

	proxy.RegisterHandler("GET /elections/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.PathValue("id") + " " + RequestID(r.Context())))
	})

	req := httptest.NewRequest(http.MethodGet, "/elections/3", nil)
	req.Header.Set(RequestIDHeader, "abc")

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "3 abc", rec.Body.String())
	require.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
	check(t)

	rec = httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/elections/3", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Len(t, rec.Header().Get(RequestIDHeader), 20)
}

func TestRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Equal(t, "unknown", RequestID(req.Context()))
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, types.NotEligible("voter is pending"))

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{
		"kind": "not_eligible",
		"category": "The voter is not eligible to vote in this election.",
		"message": "voter is pending",
		"retryable": false
	}`, rec.Body.String())

	require.Equal(t, http.StatusInternalServerError, StatusOf(fakeErr{}))
	require.Equal(t, http.StatusGatewayTimeout, StatusOf(types.Timeout(nil, "slow")))
	require.Equal(t, http.StatusConflict, StatusOf(types.AlreadyVoted("twice")))
}

func TestReadJSON(t *testing.T) {
	var body struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Carol"}`))
	require.NoError(t, ReadJSON(req, &body))
	require.Equal(t, "Carol", body.Name)

	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{"))
	err := ReadJSON(req, &body)
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestRegisterPrometheus(t *testing.T) {
	proxy := NewHTTP("")

	require.NoError(t, RegisterPrometheus(proxy, "/metrics"))
	require.NoError(t, RegisterPrometheus(NewHTTP(""), "/metrics"))

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

// -----------------------------------------------------------------------------
// Utility functions

func fakeHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("hello"))
}

type fakeErr struct{}

func (fakeErr) Error() string {
	return "oops"
}

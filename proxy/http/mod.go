// Package http implements the proxy with the standard HTTP server. Every
// request is tagged with an identifier and logged.
package http

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/elector"
)

type key int

const (
	requestIDKey key = 0
)

// RequestIDHeader is the header holding the identifier of a request.
const RequestIDHeader = "X-Request-Id"

const shutdownTimeout = 10 * time.Second

var promRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "elector_http_requests_total",
	Help: "http requests served by the proxy by method and status code",
}, []string{"method", "code"})

func init() {
	elector.PromCollectors = append(elector.PromCollectors, promRequests)
}

// NewHTTP creates a new proxy http
func NewHTTP(listenAddr string) *HTTP {
	logger := elector.Logger.With().Timestamp().Str("role", "http proxy").Logger()

	nextRequestID := func() string {
		return xid.New().String()
	}

	h := &HTTP{
		mux:        http.NewServeMux(),
		logger:     logger,
		listenAddr: listenAddr,
		quit:       make(chan struct{}, 1),
	}

	h.server = &http.Server{
		Handler: requestID(nextRequestID)(logging(h)(h.mux)),
	}

	return h
}

// HTTP defines a proxy http
//
// - implements proxy.Proxy
type HTTP struct {
	sync.Mutex

	mux        *http.ServeMux
	server     *http.Server
	logger     zerolog.Logger
	listenAddr string
	ln         net.Listener
	quit       chan struct{}
}

// Listen implements proxy.Proxy. This function can be called multiple times
// provided the server is not running, ie. Stop() has been called.
func (h *HTTP) Listen() {
	h.logger.Info().Msg("Client server is starting...")

	ln, err := net.Listen("tcp", h.listenAddr)
	if err != nil {
		h.logger.Error().Err(err).Str("addr", h.listenAddr).Msg("failed to create conn")
		return
	}

	h.Lock()
	h.ln = ln
	h.Unlock()

	done := make(chan struct{})

	go func() {
		<-h.quit
		h.logger.Info().Msg("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		h.server.SetKeepAlivesEnabled(false)
		err := h.server.Shutdown(ctx)
		if err != nil {
			h.logger.Err(err).Msg("Could not gracefully shutdown the server")
		}

		close(done)
	}()

	h.logger.Info().Msgf("Server is ready to handle requests at http://%s", ln.Addr())

	err = h.server.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		h.logger.Err(err).Msgf("Could not listen on %s", h.listenAddr)
	}

	<-done
	h.logger.Info().Msg("Server stopped")
}

// Stop implements proxy.Proxy. It should be called only once in order to make a
// new Listen() successful.
func (h *HTTP) Stop() {
	select {
	case h.quit <- struct{}{}:
	default:
	}
}

// RegisterHandler implements proxy.Proxy
func (h *HTTP) RegisterHandler(path string, handler func(http.ResponseWriter, *http.Request)) {
	h.mux.HandleFunc(path, handler)
}

// GetAddr implements proxy.Proxy. It returns nil until the server listens.
func (h *HTTP) GetAddr() net.Addr {
	h.Lock()
	defer h.Unlock()

	if h.ln == nil {
		return nil
	}

	return h.ln.Addr()
}

// ServeHTTP dispatches the request through the middlewares of the proxy. It
// allows one to use the proxy without listening, for instance in tests.
func (h *HTTP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.server.Handler.ServeHTTP(w, r)
}

// RequestID returns the identifier of the request stored in the context.
func RequestID(ctx context.Context) string {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok {
		return "unknown"
	}

	return requestID
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logging is a utility function that logs the http server events
func logging(h *HTTP) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			defer func() {
				promRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()

				h.logger.Info().Str("requestID", RequestID(r.Context())).
					Str("method", r.Method).
					Str("url", r.URL.Path).
					Int("status", rec.status).
					Dur("duration", time.Since(start)).
					Str("remoteAddr", r.RemoteAddr).
					Str("agent", r.UserAgent()).Msg("")
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

// requestID is a utility function that tags the request with an identifier,
// either the one of the header or a new one.
func requestID(nextRequestID func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = nextRequestID()
			}
			ctx := context.WithValue(r.Context(), requestIDKey, requestID)
			w.Header().Set(RequestIDHeader, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

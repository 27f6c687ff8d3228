package http

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.dedis.ch/elector"
	"go.dedis.ch/elector/proxy"
	"go.dedis.ch/elector/types"
	"golang.org/x/xerrors"
)

// maxBodySize is the largest request body accepted.
const maxBodySize = 1 << 20

var statusByKind = map[types.Kind]int{
	types.KindNotFound:     http.StatusNotFound,
	types.KindPermission:   http.StatusForbidden,
	types.KindState:        http.StatusConflict,
	types.KindAlreadyVoted: http.StatusConflict,
	types.KindNotEligible:  http.StatusForbidden,
	types.KindUnreachable:  http.StatusBadGateway,
	types.KindTimeout:      http.StatusGatewayTimeout,
	types.KindRejected:     http.StatusUnprocessableEntity,
	types.KindValidation:   http.StatusBadRequest,
	types.KindInProgress:   http.StatusTooManyRequests,
}

// StatusOf returns the HTTP status code of the error.
func StatusOf(err error) int {
	status, found := statusByKind[types.KindOf(err)]
	if !found {
		return http.StatusInternalServerError
	}

	return status
}

// WriteJSON writes the value as the JSON body of the response.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		elector.Logger.Warn().Err(err).Msg("failed to write response")
	}
}

// WriteError writes the JSON message of the error with the status code of its
// kind.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusOf(err), types.NewErrorMessage(err))
}

// ReadJSON decodes the JSON body of the request. A malformed body is a
// validation error.
func ReadJSON(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))

	err := decoder.Decode(v)
	if err != nil {
		return types.Validation("invalid request body: %v", err)
	}

	return nil
}

// RegisterPrometheus registers the collectors of the application and the
// prometheus handler on the path of the proxy.
func RegisterPrometheus(p proxy.Proxy, path string) error {
	for _, c := range elector.PromCollectors {
		err := prometheus.DefaultRegisterer.Register(c)
		if err != nil {
			var already prometheus.AlreadyRegisteredError
			if xerrors.As(err, &already) {
				continue
			}

			return xerrors.Errorf("failed to register: %v", err)
		}
	}

	p.RegisterHandler(path, promhttp.Handler().ServeHTTP)

	return nil
}

package http

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/rs/zerolog"
	"go.dedis.ch/elector"
	"go.dedis.ch/elector/internal/tracing"
	"go.dedis.ch/elector/ledger"
	"go.dedis.ch/elector/proxy"
	proxyhttp "go.dedis.ch/elector/proxy/http"
	"go.dedis.ch/elector/types"
)

// Service exposes a ledger over HTTP.
type Service struct {
	ledger ledger.Ledger
	tracer opentracing.Tracer
	logger zerolog.Logger
}

// NewService returns a service for the ledger. The tracer can be nil.
func NewService(l ledger.Ledger, tracer opentracing.Tracer) *Service {
	if tracer == nil {
		tracer = opentracing.NoopTracer{}
	}

	return &Service{
		ledger: l,
		tracer: tracer,
		logger: elector.Logger.With().Str("component", "ledger service").Logger(),
	}
}

// Register registers the handlers of the service on the proxy.
func (s *Service) Register(p proxy.Proxy) {
	p.RegisterHandler("GET "+BasePath+"/capabilities", s.traced("capabilities", s.capabilities))
	p.RegisterHandler("GET "+BasePath+"/elections", s.traced("count", s.count))
	p.RegisterHandler("GET "+BasePath+"/elections/{id}", s.traced("election", s.election))
	p.RegisterHandler("GET "+BasePath+"/elections/{id}/candidates/{candidate}", s.traced("candidate", s.candidate))
	p.RegisterHandler("GET "+BasePath+"/elections/{id}/voters/{voter}/voted", s.traced("voted", s.voted))
	p.RegisterHandler("GET "+BasePath+"/elections/{id}/voters/{voter}/allowed", s.traced("allowed", s.allowed))
	p.RegisterHandler("GET "+BasePath+"/elections/{id}/voters/{voter}/status", s.traced("status", s.status))
	p.RegisterHandler("POST "+BasePath+"/transactions", s.traced("submit", s.submit))
}

func (s *Service) traced(op string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		span := tracing.StartServerSpan(s.tracer, r, "ledger "+op)
		defer span.Finish()

		if r.PathValue("id") != "" {
			span.SetTag(tracing.ElectionTag, r.PathValue("id"))
		}

		ctx := opentracing.ContextWithSpan(r.Context(), span)

		fn(w, r.WithContext(ctx))
	}
}

func (s *Service) capabilities(w http.ResponseWriter, r *http.Request) {
	proxyhttp.WriteJSON(w, http.StatusOK, CapabilitiesResponse{Capabilities: s.ledger.Capabilities()})
}

func (s *Service) count(w http.ResponseWriter, r *http.Request) {
	count, err := s.ledger.ElectionCount(r.Context())
	if err != nil {
		proxyhttp.WriteError(w, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusOK, CountResponse{Count: count})
}

func (s *Service) election(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseElectionID(r.PathValue("id"))
	if err != nil {
		proxyhttp.WriteError(w, err)
		return
	}

	e, err := s.ledger.GetElectionDetails(r.Context(), id)
	if err != nil {
		proxyhttp.WriteError(w, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusOK, e)
}

func (s *Service) candidate(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseElectionID(r.PathValue("id"))
	if err != nil {
		proxyhttp.WriteError(w, err)
		return
	}

	candidateID, err := types.ParseCandidateID(r.PathValue("candidate"))
	if err != nil {
		proxyhttp.WriteError(w, err)
		return
	}

	c, err := s.ledger.GetCandidate(r.Context(), id, candidateID)
	if err != nil {
		proxyhttp.WriteError(w, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusOK, c)
}

func (s *Service) voted(w http.ResponseWriter, r *http.Request) {
	id, voter, err := parseVoterPath(r)
	if err != nil {
		proxyhttp.WriteError(w, err)
		return
	}

	voted, err := s.ledger.HasVoted(r.Context(), id, voter)
	if err != nil {
		proxyhttp.WriteError(w, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusOK, BoolResponse{Value: voted})
}

func (s *Service) allowed(w http.ResponseWriter, r *http.Request) {
	id, voter, err := parseVoterPath(r)
	if err != nil {
		proxyhttp.WriteError(w, err)
		return
	}

	allowed, err := s.ledger.IsVoterAllowed(r.Context(), id, voter)
	if err != nil {
		proxyhttp.WriteError(w, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusOK, BoolResponse{Value: allowed})
}

func (s *Service) status(w http.ResponseWriter, r *http.Request) {
	id, voter, err := parseVoterPath(r)
	if err != nil {
		proxyhttp.WriteError(w, err)
		return
	}

	status, err := s.ledger.GetVoterStatus(r.Context(), id, voter)
	if err != nil {
		proxyhttp.WriteError(w, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusOK, StatusResponse{Code: status.Code()})
}

func (s *Service) submit(w http.ResponseWriter, r *http.Request) {
	var call ledger.Call

	err := proxyhttp.ReadJSON(r, &call)
	if err != nil {
		proxyhttp.WriteError(w, err)
		return
	}

	span := opentracing.SpanFromContext(r.Context())
	if span != nil {
		span.SetTag(tracing.CommandTag, string(call.Command()))
	}

	receipt, err := s.ledger.Submit(r.Context(), call)
	if err != nil && receipt.TxID == "" {
		proxyhttp.WriteError(w, err)
		return
	}

	if err != nil {
		msg := types.NewErrorMessage(err)

		s.logger.Info().Str("tx", receipt.TxID).Str("reason", receipt.Message).Msg("transaction rejected")

		proxyhttp.WriteJSON(w, http.StatusConflict, SubmitResponse{Receipt: receipt, Error: &msg})
		return
	}

	proxyhttp.WriteJSON(w, http.StatusOK, SubmitResponse{Receipt: receipt})
}

func parseVoterPath(r *http.Request) (types.ElectionID, common.Address, error) {
	id, err := types.ParseElectionID(r.PathValue("id"))
	if err != nil {
		return 0, common.Address{}, err
	}

	voter, err := types.ParseIdentity(r.PathValue("voter"))
	if err != nil {
		return 0, common.Address{}, err
	}

	return id, voter, nil
}

// Package api binds the coordinator to HTTP routes that return JSON.
//
// The acting identity of a request is read from the X-Identity header as a
// hexadecimal address. An error is answered with its message and the status
// code of its kind.
package api

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"go.dedis.ch/elector"
	"go.dedis.ch/elector/coordinator"
	"go.dedis.ch/elector/proxy"
	proxyhttp "go.dedis.ch/elector/proxy/http"
	"go.dedis.ch/elector/types"
)

// IdentityHeader is the header holding the identity of the caller.
const IdentityHeader = "X-Identity"

// CreateElectionRequest is the body to create an election.
type CreateElectionRequest struct {
	types.ElectionSpec
	Description string `json:"description,omitempty"`
}

// AdvanceRequest is the body to move an election to the next status.
type AdvanceRequest struct {
	Status types.Status `json:"status"`
}

// RegisterRequest is the body of a voter registration.
type RegisterRequest struct {
	VerificationData []byte `json:"verificationData,omitempty"`
}

// VoteRequest is the body of a vote.
type VoteRequest struct {
	Candidate types.CandidateID `json:"candidate"`
}

// EligibilityRequest is the body to check the eligibility of many voters.
type EligibilityRequest struct {
	Voters []common.Address `json:"voters"`
}

// DescriptionResponse is the response of the description of an election.
type DescriptionResponse struct {
	Description string `json:"description"`
}

// Service exposes a coordinator over HTTP.
type Service struct {
	coord  *coordinator.Coordinator
	logger zerolog.Logger
}

// NewService returns a service for the coordinator.
func NewService(coord *coordinator.Coordinator) *Service {
	return &Service{
		coord:  coord,
		logger: elector.Logger.With().Str("component", "api").Logger(),
	}
}

// Register registers the handlers of the service on the proxy.
func (s *Service) Register(p proxy.Proxy) {
	p.RegisterHandler("GET /elections", s.listElections)
	p.RegisterHandler("POST /elections", s.createElection)
	p.RegisterHandler("GET /elections/{id}", s.getElection)
	p.RegisterHandler("GET /elections/{id}/description", s.description)
	p.RegisterHandler("GET /elections/{id}/results", s.results)
	p.RegisterHandler("POST /elections/{id}/advance", s.advance)
	p.RegisterHandler("POST /elections/{id}/candidates", s.addCandidate)
	p.RegisterHandler("GET /elections/{id}/eligibility/{voter}", s.eligibility)
	p.RegisterHandler("POST /elections/{id}/eligibility", s.eligibilities)
	p.RegisterHandler("GET /elections/{id}/registrations", s.listRegistrations)
	p.RegisterHandler("POST /elections/{id}/registrations", s.register)
	p.RegisterHandler("POST /elections/{id}/registrations/{voter}/approve",
		s.decide(s.coord.ApproveVoter))
	p.RegisterHandler("POST /elections/{id}/registrations/{voter}/reject",
		s.decide(s.coord.RejectVoter))
	p.RegisterHandler("POST /elections/{id}/registrations/{voter}/blacklist",
		s.decide(s.coord.BlacklistVoter))
	p.RegisterHandler("POST /elections/{id}/votes", s.vote)
	p.RegisterHandler("POST /elections/{id}/finalize", s.finalize)
}

func (s *Service) listElections(w http.ResponseWriter, r *http.Request) {
	views, err := s.coord.ListElections(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusOK, views)
}

func (s *Service) createElection(w http.ResponseWriter, r *http.Request) {
	identity, err := parseIdentity(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req CreateElectionRequest

	err = proxyhttp.ReadJSON(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	view, err := s.coord.CreateElection(r.Context(), identity, req.ElectionSpec, []byte(req.Description))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusCreated, view)
}

func (s *Service) getElection(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseElectionID(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	view, err := s.coord.GetElection(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusOK, view)
}

func (s *Service) description(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseElectionID(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	desc, err := s.coord.Description(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusOK, DescriptionResponse{Description: string(desc)})
}

func (s *Service) results(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseElectionID(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.coord.Results(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusOK, res)
}

func (s *Service) advance(w http.ResponseWriter, r *http.Request) {
	id, identity, err := parseRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req AdvanceRequest

	err = proxyhttp.ReadJSON(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	view, err := s.coord.Advance(r.Context(), id, identity, req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusOK, view)
}

func (s *Service) addCandidate(w http.ResponseWriter, r *http.Request) {
	id, identity, err := parseRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var spec types.CandidateSpec

	err = proxyhttp.ReadJSON(r, &spec)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	candidate, err := s.coord.AddCandidate(r.Context(), id, identity, spec)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusCreated, candidate)
}

func (s *Service) eligibility(w http.ResponseWriter, r *http.Request) {
	id, voter, err := parseVoterPath(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.coord.CheckEligibility(r.Context(), id, voter)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusOK, res)
}

func (s *Service) eligibilities(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseElectionID(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req EligibilityRequest

	err = proxyhttp.ReadJSON(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	results, err := s.coord.CheckEligibilities(r.Context(), id, req.Voters)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusOK, results)
}

func (s *Service) listRegistrations(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseElectionID(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	regs, err := s.coord.ListRegistrations(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusOK, regs)
}

func (s *Service) register(w http.ResponseWriter, r *http.Request) {
	id, identity, err := parseRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req RegisterRequest

	err = proxyhttp.ReadJSON(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	reg, err := s.coord.RegisterVoter(r.Context(), id, identity, req.VerificationData)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusCreated, reg)
}

type decideFn = func(ctx context.Context, id types.ElectionID, requester,
	voter common.Address) (types.VoterRegistration, error)

func (s *Service) decide(fn decideFn) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := parseIdentity(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		id, voter, err := parseVoterPath(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		reg, err := fn(r.Context(), id, identity, voter)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		proxyhttp.WriteJSON(w, http.StatusOK, reg)
	}
}

func (s *Service) vote(w http.ResponseWriter, r *http.Request) {
	id, identity, err := parseRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req VoteRequest

	err = proxyhttp.ReadJSON(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	receipt, err := s.coord.CastVote(r.Context(), id, identity, req.Candidate)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusCreated, receipt)
}

func (s *Service) finalize(w http.ResponseWriter, r *http.Request) {
	id, identity, err := parseRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.coord.Finalize(r.Context(), id, identity)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	proxyhttp.WriteJSON(w, http.StatusOK, res)
}

// fail writes the error. The unexpected ones are logged with the identifier
// of the request.
func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	if proxyhttp.StatusOf(err) == http.StatusInternalServerError {
		s.logger.Error().Err(err).
			Str("request", proxyhttp.RequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}

	proxyhttp.WriteError(w, err)
}

func parseIdentity(r *http.Request) (common.Address, error) {
	text := r.Header.Get(IdentityHeader)
	if text == "" {
		return common.Address{}, types.Validation("missing %s header", IdentityHeader)
	}

	return types.ParseIdentity(text)
}

func parseRequest(r *http.Request) (types.ElectionID, common.Address, error) {
	id, err := types.ParseElectionID(r.PathValue("id"))
	if err != nil {
		return 0, common.Address{}, err
	}

	identity, err := parseIdentity(r)
	if err != nil {
		return 0, common.Address{}, err
	}

	return id, identity, nil
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

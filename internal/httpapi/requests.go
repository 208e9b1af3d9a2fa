package httpapi

import (
	"net/http"

	"github.com/servirhq/servir/internal/access"
	"github.com/servirhq/servir/internal/apierror"
	"github.com/servirhq/servir/internal/auth"
)

func (s *Server) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.access.GetMe(auth.FromContext(r.Context())))
}

type createOrgRequestBody struct {
	OrganizationName string `json:"organizationName"`
	Justification    string `json:"justification"`
}

func (s *Server) handleCreateOrgRequest(w http.ResponseWriter, r *http.Request) {
	var body createOrgRequestBody
	if err := decodeBody(r, &body); err != nil {
		respondError(w, r, err)
		return
	}

	var issues []apierror.Issue
	name := validateLength(&issues, "organizationName", body.OrganizationName, 2, 160)
	justification := validateLength(&issues, "justification", body.Justification, 10, 2000)
	if len(issues) > 0 {
		respondError(w, r, apierror.Validation("Invalid organization request.", issues...))
		return
	}

	request, err := s.access.CreateRequest(r.Context(), auth.FromContext(r.Context()), access.CreateRequestInput{
		OrganizationName: name,
		Justification:    justification,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, http.StatusCreated, request)
}

func (s *Server) handleListMyOrgRequests(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	status, err := parseRequestStatus(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	list, err := s.access.ListMyRequests(r.Context(), auth.FromContext(r.Context()), status, page)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, http.StatusOK, list)
}

func (s *Server) handleListPlatformOrgRequests(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	if err := auth.RequirePlatformAdmin(authCtx); err != nil {
		respondError(w, r, err)
		return
	}

	page, err := parsePage(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	status, err := parseRequestStatus(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	list, err := s.access.ListPlatformRequests(r.Context(), status, page)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, http.StatusOK, list)
}

type decisionBody struct {
	Reason string `json:"reason"`
}

// parseDecisionReason validates the optional decision reason. Required makes
// an absent reason a validation failure (deny always explains itself).
func parseDecisionReason(r *http.Request, required bool) (string, error) {
	var body decisionBody
	if err := decodeBody(r, &body); err != nil {
		return "", err
	}

	var issues []apierror.Issue
	if body.Reason == "" && !required {
		return "", nil
	}
	reason := validateLength(&issues, "reason", body.Reason, 3, 500)
	if len(issues) > 0 {
		return "", apierror.Validation("Invalid decision reason.", issues...)
	}
	return reason, nil
}

func (s *Server) handleApproveOrgRequest(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, decisionApprove)
}

func (s *Server) handleRetryApproveOrgRequest(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, decisionRetryApprove)
}

func (s *Server) handleDenyOrgRequest(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, decisionDeny)
}

type decision int

const (
	decisionApprove decision = iota
	decisionRetryApprove
	decisionDeny
)

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request, kind decision) {
	authCtx := auth.FromContext(r.Context())
	if err := auth.RequirePlatformAdmin(authCtx); err != nil {
		respondError(w, r, err)
		return
	}

	requestID, err := pathRequestID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	reason, err := parseDecisionReason(r, kind == decisionDeny)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var result any
	switch kind {
	case decisionApprove:
		result, err = s.access.Approve(r.Context(), requestID, authCtx.UserID, reason)
	case decisionRetryApprove:
		result, err = s.access.RetryApprove(r.Context(), requestID, authCtx.UserID, reason)
	case decisionDeny:
		result, err = s.access.Deny(r.Context(), requestID, authCtx.UserID, reason)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, http.StatusCreated, result)
}

func (s *Server) handleListPlatformUsers(w http.ResponseWriter, r *http.Request) {
	if err := auth.RequirePlatformAdmin(auth.FromContext(r.Context())); err != nil {
		respondError(w, r, err)
		return
	}

	page, err := parsePage(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	list, err := s.access.ListPlatformUsers(r.Context(), r.URL.Query().Get("query"), page)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, http.StatusOK, list)
}

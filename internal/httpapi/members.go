package httpapi

import (
	"net/http"
	"net/mail"
	"strings"

	"github.com/servirhq/servir/internal/apierror"
	"github.com/servirhq/servir/internal/auth"
	"github.com/servirhq/servir/internal/identity"
)

// requireOrgAdmin resolves the {orgId} path segment and checks that the
// caller administers that organization.
func (s *Server) requireOrgAdmin(r *http.Request) (string, error) {
	organizationID := r.PathValue("orgId")
	if organizationID == "" {
		return "", apierror.Validation("Invalid organization id.",
			apierror.Issue{Path: "orgId", Message: "must not be empty"})
	}
	if err := auth.RequireOrgAdmin(r.Context(), s.gateway, auth.FromContext(r.Context()), organizationID); err != nil {
		return "", err
	}
	return organizationID, nil
}

func (s *Server) handleListOrgMembers(w http.ResponseWriter, r *http.Request) {
	organizationID, err := s.requireOrgAdmin(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	page, err := parsePage(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	list, err := s.access.ListOrganizationMembers(r.Context(), organizationID, page)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, http.StatusOK, list)
}

type createInvitationBody struct {
	EmailAddress string `json:"emailAddress"`
	Role         string `json:"role"`
}

func (s *Server) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	organizationID, err := s.requireOrgAdmin(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var body createInvitationBody
	if err := decodeBody(r, &body); err != nil {
		respondError(w, r, err)
		return
	}

	var issues []apierror.Issue
	email := strings.TrimSpace(body.EmailAddress)
	if _, mailErr := mail.ParseAddress(email); email == "" || mailErr != nil {
		issues = append(issues, apierror.Issue{Path: "emailAddress", Message: "must be a valid email address"})
	}
	role := body.Role
	if role == "" {
		role = identity.RoleOrgMember
	}
	if role != identity.RoleOrgAdmin && role != identity.RoleOrgMember {
		issues = append(issues, apierror.Issue{Path: "role", Message: "must be org:admin or org:member"})
	}
	if len(issues) > 0 {
		respondError(w, r, apierror.Validation("Invalid invitation.", issues...))
		return
	}

	invitation, err := s.access.CreateOrganizationInvitation(r.Context(), organizationID,
		auth.FromContext(r.Context()).UserID, email, role)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, http.StatusCreated, invitation)
}

type updateMemberRoleBody struct {
	Role string `json:"role"`
}

func (s *Server) handleUpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	organizationID, err := s.requireOrgAdmin(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var body updateMemberRoleBody
	if err := decodeBody(r, &body); err != nil {
		respondError(w, r, err)
		return
	}
	if body.Role != identity.RoleOrgAdmin && body.Role != identity.RoleOrgMember {
		respondError(w, r, apierror.Validation("Invalid member role.",
			apierror.Issue{Path: "role", Message: "must be org:admin or org:member"}))
		return
	}

	result, err := s.access.UpdateOrganizationMemberRole(r.Context(), organizationID,
		r.PathValue("membershipId"), body.Role)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, http.StatusOK, result)
}

func (s *Server) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	organizationID, err := s.requireOrgAdmin(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.access.DeleteOrganizationMember(r.Context(), organizationID, r.PathValue("membershipId"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, http.StatusOK, result)
}

package httpapi

import (
	"io"
	"net/http"

	"github.com/servirhq/servir/internal/apierror"
	"github.com/servirhq/servir/internal/auth"
	"github.com/servirhq/servir/internal/billing"
)

func (s *Server) handleBillingMe(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.billing.GetBillingMe(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, snapshot)
}

func (s *Server) handleListPlatformSubscriptions(w http.ResponseWriter, r *http.Request) {
	if err := auth.RequirePlatformAdmin(auth.FromContext(r.Context())); err != nil {
		respondError(w, r, err)
		return
	}

	page, err := parsePage(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	status, err := parseBillingStatus(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	list, err := s.billing.ListPlatformSubscriptions(r.Context(), status, page)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, http.StatusOK, list)
}

// handleClerkWebhook is public: callers prove themselves with the delivery
// signature, not a session.
func (s *Server) handleClerkWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, r, apierror.BadRequest(apierror.CodeBadRequest, "Failed to read request body."))
		return
	}

	ack, err := s.billing.HandleWebhook(r.Context(), &billing.WebhookDelivery{
		Headers: r.Header,
		Body:    body,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, http.StatusOK, ack)
}

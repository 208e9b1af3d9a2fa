// Package httpapi exposes the service over HTTP: route registration,
// session authentication, billing enforcement, and the uniform JSON
// envelope for errors.
package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/servirhq/servir/internal/access"
	"github.com/servirhq/servir/internal/auth"
	"github.com/servirhq/servir/internal/billing"
	"github.com/servirhq/servir/internal/identity"
	"github.com/servirhq/servir/internal/logger"
)

// Config carries the HTTP-surface settings.
type Config struct {
	Version     string
	CORSEnabled bool
	CORSOrigins []string
}

// Server wires the services into the HTTP routes.
type Server struct {
	cfg      Config
	access   *access.Service
	billing  *billing.Service
	guard    *billing.Guard
	verifier *auth.SessionVerifier
	gateway  identity.Gateway
}

// NewServer creates the HTTP server.
func NewServer(cfg Config, accessService *access.Service, billingService *billing.Service, guard *billing.Guard, verifier *auth.SessionVerifier, gateway identity.Gateway) *Server {
	return &Server{
		cfg:      cfg,
		access:   accessService,
		billing:  billingService,
		guard:    guard,
		verifier: verifier,
		gateway:  gateway,
	}
}

// Handler builds the full HTTP handler: routes wrapped in CORS and the
// request logger. Authentication and billing enforcement are applied
// per-route so the public webhook and health endpoints stay open.
func (s *Server) Handler(log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /internal/webhooks/clerk", s.handleClerkWebhook)

	// Routes exempt from billing enforcement: a customer must always be able
	// to see who they are, read their billing state, and request access.
	mux.Handle("GET /api/v1/auth/me", s.authed(s.handleAuthMe))
	mux.Handle("GET /api/v1/billing/me", s.authed(s.handleBillingMe))
	mux.Handle("POST /api/v1/org-requests", s.authed(s.handleCreateOrgRequest))
	mux.Handle("GET /api/v1/org-requests", s.authed(s.handleListMyOrgRequests))

	// Platform admin routes. The guard's platform-admin bypass makes billing
	// enforcement moot here, but the authorization check is per-handler.
	mux.Handle("GET /api/v1/platform/org-requests", s.authed(s.handleListPlatformOrgRequests))
	mux.Handle("POST /api/v1/platform/org-requests/{id}/approve", s.authed(s.handleApproveOrgRequest))
	mux.Handle("POST /api/v1/platform/org-requests/{id}/retry-approve", s.authed(s.handleRetryApproveOrgRequest))
	mux.Handle("POST /api/v1/platform/org-requests/{id}/deny", s.authed(s.handleDenyOrgRequest))
	mux.Handle("GET /api/v1/platform/users", s.authed(s.handleListPlatformUsers))
	mux.Handle("GET /api/v1/platform/billing/subscriptions", s.authed(s.handleListPlatformSubscriptions))

	// Organization member management requires an active subscription.
	mux.Handle("GET /api/v1/organizations/{orgId}/members", s.authed(s.billed(s.handleListOrgMembers)))
	mux.Handle("POST /api/v1/organizations/{orgId}/invitations", s.authed(s.billed(s.handleCreateInvitation)))
	mux.Handle("PATCH /api/v1/organizations/{orgId}/members/{membershipId}", s.authed(s.billed(s.handleUpdateMemberRole)))
	mux.Handle("DELETE /api/v1/organizations/{orgId}/members/{membershipId}", s.authed(s.billed(s.handleDeleteMember)))

	var handler http.Handler = mux
	if s.cfg.CORSEnabled {
		handler = cors.New(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
			AllowedHeaders:   []string{"Authorization", "Content-Type", auth.TestAuthHeader},
			AllowCredentials: true,
		}).Handler(handler)
	}

	return logger.Requests(log)(handler)
}

// authed authenticates the request and stores the auth context for handlers.
func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, err := s.verifier.Authenticate(r)
		if err != nil {
			respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), authCtx)))
	})
}

// billed enforces the subscription requirement before the handler runs.
func (s *Server) billed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.guard.Check(r.Context(), auth.FromContext(r.Context()), r.URL.Path); err != nil {
			respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "api",
		"version":   s.cfg.Version,
		"timestamp": time.Now().UTC(),
	})
}

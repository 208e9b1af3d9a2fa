package billing

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/servirhq/servir/internal/apierror"
	"github.com/servirhq/servir/internal/auth"
	"github.com/servirhq/servir/internal/models"
	"github.com/servirhq/servir/internal/store"
)

var errSubscriptionRequired = apierror.New(http.StatusPaymentRequired,
	apierror.CodeSubscriptionRequired,
	"An active subscription is required for this organization.")

// GuardConfig controls subscription enforcement.
type GuardConfig struct {
	// Enabled turns enforcement on. When false every check passes.
	Enabled bool

	// ActiveStatuses are the subscription states allowed through, parsed from
	// a comma-separated list. Unknown entries are dropped.
	ActiveStatuses []string

	// ExemptPathPrefixes lists request path prefixes that skip enforcement.
	ExemptPathPrefixes []string
}

// Guard gates authenticated requests on the caller's organization having a
// subscription in an allowed state. Billing reads and the approval workflow
// stay exempt so a customer can always see and fix their own billing state.
type Guard struct {
	enabled        bool
	activeStatuses map[models.BillingStatus]struct{}
	exemptPrefixes []string
	billing        store.BillingStore
}

// NewGuard creates a billing enforcement guard.
func NewGuard(cfg GuardConfig, billing store.BillingStore) *Guard {
	active := map[models.BillingStatus]struct{}{}
	for _, raw := range cfg.ActiveStatuses {
		status, ok := models.NormalizeBillingStatus(strings.TrimSpace(raw))
		if !ok {
			continue
		}
		active[status] = struct{}{}
	}

	prefixes := make([]string, 0, len(cfg.ExemptPathPrefixes))
	for _, prefix := range cfg.ExemptPathPrefixes {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			prefixes = append(prefixes, trimmed)
		}
	}

	return &Guard{
		enabled:        cfg.Enabled,
		activeStatuses: active,
		exemptPrefixes: prefixes,
		billing:        billing,
	}
}

// Check enforces the subscription requirement for one request. The path is
// the request path without the query string. A nil authCtx passes: requests
// that reach here unauthenticated are the auth layer's problem, not billing's.
func (g *Guard) Check(ctx context.Context, authCtx *auth.Context, path string) error {
	if !g.enabled {
		return nil
	}

	for _, prefix := range g.exemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return nil
		}
	}

	if authCtx == nil || authCtx.IsPlatformAdmin {
		return nil
	}

	if authCtx.ActiveOrganizationID == "" {
		return apierror.BadRequest(apierror.CodeBillingContextRequired,
			"Active organization context is required for this action.")
	}

	snapshot, err := g.billing.GetSnapshot(ctx, authCtx.ActiveOrganizationID)
	if errors.Is(err, store.ErrSnapshotNotFound) {
		return errSubscriptionRequired
	}
	if err != nil {
		return apierror.Internal(err)
	}

	if snapshot.Status == models.BillingStatusNone {
		return errSubscriptionRequired
	}

	if _, ok := g.activeStatuses[snapshot.Status]; !ok {
		return apierror.New(http.StatusForbidden, apierror.CodeSubscriptionInactive,
			"The organization subscription is not active.")
	}

	return nil
}

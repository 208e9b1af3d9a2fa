// Package access implements the organization request approval workflow:
// users ask for a new tenant organization, platform admins approve or deny,
// and approval provisions the organization through the identity gateway.
//
// The state machine is the core correctness property. Every provisioning
// attempt deterministically lands a request in approved or failed -- failed
// is a durable recovery point that stays retryable (or deniable) because the
// external provisioning call cannot be rolled back.
package access

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/servirhq/servir/internal/apierror"
	"github.com/servirhq/servir/internal/auth"
	"github.com/servirhq/servir/internal/identity"
	"github.com/servirhq/servir/internal/models"
	"github.com/servirhq/servir/internal/store"
	"github.com/servirhq/servir/internal/telemetry"
)

// FailureCodeProvisioning is recorded on a request when the identity
// provider rejects or fails organization creation.
const FailureCodeProvisioning = "CLERK_CREATE_ORGANIZATION_FAILED"

// Service drives organization requests through their state machine and
// exposes the identity pass-through operations for members and invitations.
type Service struct {
	requests store.OrganizationRequestStore
	gateway  identity.Gateway
	metrics  *telemetry.Metrics
}

// NewService creates the approval workflow service.
func NewService(requests store.OrganizationRequestStore, gateway identity.Gateway, metrics *telemetry.Metrics) *Service {
	return &Service{requests: requests, gateway: gateway, metrics: metrics}
}

// CreateRequestInput are the caller-supplied fields of a new request.
type CreateRequestInput struct {
	OrganizationName string
	Justification    string
}

// RequestList is a page of organization requests.
type RequestList struct {
	Items []*models.OrganizationRequest `json:"items"`
	Meta  models.PageMeta               `json:"meta"`
}

// CreateRequest opens a new pending organization request for the caller.
// It rejects with ORGANIZATION_REQUEST_PENDING_EXISTS when the caller already
// has a pending request for the same slug (or a numbered variant of it), and
// otherwise derives a globally unique slug before inserting.
func (s *Service) CreateRequest(ctx context.Context, authCtx *auth.Context, input CreateRequestInput) (*models.OrganizationRequest, error) {
	baseSlug := Slugify(input.OrganizationName)

	pendingExists, err := s.requests.FindPendingBySlugPrefix(ctx, authCtx.UserID, baseSlug)
	if err != nil {
		return nil, apierror.Internal(err)
	}
	if pendingExists {
		return nil, apierror.Conflict(apierror.CodePendingRequestExists,
			"You already have a pending request for this organization slug.")
	}

	slug, err := s.resolveUniqueSlug(ctx, baseSlug)
	if err != nil {
		return nil, apierror.Internal(err)
	}

	now := time.Now()
	request := &models.OrganizationRequest{
		ID:               uuid.Must(uuid.NewV7()),
		RequesterUserID:  authCtx.UserID,
		RequesterEmail:   authCtx.Email,
		OrganizationName: input.OrganizationName,
		OrganizationSlug: slug,
		Justification:    input.Justification,
		Status:           models.OrganizationRequestPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.requests.Create(ctx, request); err != nil {
		return nil, apierror.Internal(err)
	}

	log.Info().
		Str("request_id", request.ID.String()).
		Str("requester", request.RequesterUserID).
		Str("slug", request.OrganizationSlug).
		Msg("Created organization request")

	return request, nil
}

// Approve provisions the organization for a pending request.
func (s *Service) Approve(ctx context.Context, requestID uuid.UUID, actorUserID, reason string) (*models.OrganizationRequest, error) {
	request, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if request.Status != models.OrganizationRequestPending {
		return nil, apierror.Conflict(apierror.CodeInvalidRequestState,
			"Only pending requests can be approved.")
	}

	return s.performApproval(ctx, request, actorUserID, reason)
}

// RetryApprove re-attempts provisioning for a failed request.
func (s *Service) RetryApprove(ctx context.Context, requestID uuid.UUID, actorUserID, reason string) (*models.OrganizationRequest, error) {
	request, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if request.Status != models.OrganizationRequestFailed {
		return nil, apierror.Conflict(apierror.CodeInvalidRequestState,
			"Only failed requests can be retried for approval.")
	}

	return s.performApproval(ctx, request, actorUserID, reason)
}

// Deny closes a pending or failed request without provisioning anything.
func (s *Service) Deny(ctx context.Context, requestID uuid.UUID, actorUserID, reason string) (*models.OrganizationRequest, error) {
	request, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if request.Status != models.OrganizationRequestPending &&
		request.Status != models.OrganizationRequestFailed {
		return nil, apierror.Conflict(apierror.CodeInvalidRequestState,
			"Only pending or failed requests can be denied.")
	}

	now := time.Now()
	request.Status = models.OrganizationRequestDenied
	request.DecisionReason = &reason
	request.DecisionedByUserID = &actorUserID
	request.DecisionedAt = &now
	request.FailureCode = nil
	request.FailureMessage = nil
	request.UpdatedAt = now

	if err := s.requests.Update(ctx, request); err != nil {
		return nil, apierror.Internal(err)
	}

	s.metrics.RecordApprovalDecision(ctx, "denied")
	log.Info().
		Str("request_id", request.ID.String()).
		Str("actor", actorUserID).
		Msg("Denied organization request")

	return request, nil
}

// ListMyRequests pages through the caller's own requests, newest first.
func (s *Service) ListMyRequests(ctx context.Context, authCtx *auth.Context, status models.OrganizationRequestStatus, page store.Page) (*RequestList, error) {
	return s.list(ctx, store.OrganizationRequestFilter{
		RequesterUserID: authCtx.UserID,
		Status:          status,
	}, page)
}

// ListPlatformRequests pages through all requests, newest first.
func (s *Service) ListPlatformRequests(ctx context.Context, status models.OrganizationRequestStatus, page store.Page) (*RequestList, error) {
	return s.list(ctx, store.OrganizationRequestFilter{Status: status}, page)
}

func (s *Service) list(ctx context.Context, filter store.OrganizationRequestFilter, page store.Page) (*RequestList, error) {
	items, total, err := s.requests.List(ctx, filter, page)
	if err != nil {
		return nil, apierror.Internal(err)
	}

	return &RequestList{
		Items: items,
		Meta:  models.NewPageMeta(page.Page, page.PageSize, total),
	}, nil
}

// performApproval runs the shared provisioning algorithm. The approval is not
// transactional with the external call, so both outcomes are persisted: a
// success lands in approved with the new organization id, a failure lands in
// failed with the failure recorded -- either way the attempt is never lost.
func (s *Service) performApproval(ctx context.Context, request *models.OrganizationRequest, actorUserID, reason string) (*models.OrganizationRequest, error) {
	now := time.Now()
	request.DecisionedByUserID = &actorUserID
	request.DecisionedAt = &now
	request.UpdatedAt = now
	if reason != "" {
		request.DecisionReason = &reason
	} else {
		request.DecisionReason = nil
	}

	organization, provisionErr := s.gateway.CreateOrganization(ctx, identity.CreateOrganizationParams{
		Name:      request.OrganizationName,
		Slug:      request.OrganizationSlug,
		CreatedBy: request.RequesterUserID,
	})

	if provisionErr != nil {
		failureCode := FailureCodeProvisioning
		failureMessage := provisionErr.Error()
		request.Status = models.OrganizationRequestFailed
		request.FailureCode = &failureCode
		request.FailureMessage = &failureMessage
		request.ClerkOrganizationID = nil

		if err := s.requests.Update(ctx, request); err != nil {
			return nil, apierror.Internal(fmt.Errorf("recording provisioning failure: %w", err))
		}

		s.metrics.RecordApprovalDecision(ctx, "failed")
		log.Error().Err(provisionErr).
			Str("request_id", request.ID.String()).
			Str("slug", request.OrganizationSlug).
			Msg("Organization provisioning failed")

		return nil, apierror.New(http.StatusBadGateway, apierror.CodeClerkOperationFailed,
			"Failed to create organization in Clerk.").WithCause(provisionErr)
	}

	request.Status = models.OrganizationRequestApproved
	request.ClerkOrganizationID = &organization.ID
	request.FailureCode = nil
	request.FailureMessage = nil

	if err := s.requests.Update(ctx, request); err != nil {
		return nil, apierror.Internal(fmt.Errorf("recording provisioning success: %w", err))
	}

	s.metrics.RecordApprovalDecision(ctx, "approved")
	log.Info().
		Str("request_id", request.ID.String()).
		Str("organization_id", organization.ID).
		Msg("Approved organization request")

	return request, nil
}

func (s *Service) getRequest(ctx context.Context, requestID uuid.UUID) (*models.OrganizationRequest, error) {
	request, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrRequestNotFound) {
			return nil, apierror.NotFound("Organization request was not found.")
		}
		return nil, apierror.Internal(err)
	}
	return request, nil
}

// resolveUniqueSlug appends -2, -3, ... to the base slug until it collides
// with no existing request slug.
func (s *Service) resolveUniqueSlug(ctx context.Context, baseSlug string) (string, error) {
	existing, err := s.requests.ListSlugsWithPrefix(ctx, baseSlug)
	if err != nil {
		return "", err
	}

	taken := make(map[string]bool, len(existing))
	for _, slug := range existing {
		taken[slug] = true
	}

	if !taken[baseSlug] {
		return baseSlug, nil
	}

	for suffix := 2; ; suffix++ {
		candidate := fmt.Sprintf("%s-%d", baseSlug, suffix)
		if !taken[candidate] {
			return candidate, nil
		}
	}
}

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/servirhq/servir/internal/models"
)

// OrganizationRequestFilter narrows List results. Zero values match everything.
type OrganizationRequestFilter struct {
	RequesterUserID string
	Status          models.OrganizationRequestStatus
}

// OrganizationRequestStore defines the interface for organization request
// storage operations. Requests are owned by the approval workflow engine;
// the store enforces no state-machine rules itself.
type OrganizationRequestStore interface {
	// Create inserts a new organization request.
	// Returns ErrRequestAlreadyExists if the ID is already taken.
	Create(ctx context.Context, request *models.OrganizationRequest) error

	// Get retrieves an organization request by ID.
	// Returns ErrRequestNotFound if the request doesn't exist.
	Get(ctx context.Context, requestID uuid.UUID) (*models.OrganizationRequest, error)

	// Update overwrites the mutable decision fields of an existing request.
	// Returns ErrRequestNotFound if the request doesn't exist.
	Update(ctx context.Context, request *models.OrganizationRequest) error

	// FindPendingBySlugPrefix returns true when the requester has a pending
	// request whose slug equals slug or starts with slug + "-". This backs the
	// duplicate-pending check at creation time.
	FindPendingBySlugPrefix(ctx context.Context, requesterUserID, slug string) (bool, error)

	// ListSlugsWithPrefix returns every slug (any requester, any status) that
	// equals prefix or starts with it. Used to derive a globally unique slug.
	ListSlugsWithPrefix(ctx context.Context, prefix string) ([]string, error)

	// List returns requests matching the filter ordered newest-first, plus the
	// total match count for pagination.
	List(ctx context.Context, filter OrganizationRequestFilter, page Page) ([]*models.OrganizationRequest, int, error)
}

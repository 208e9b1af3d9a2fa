package models

import (
	"time"

	"github.com/google/uuid"
)

// OrganizationRequestStatus is the lifecycle state of an organization request.
type OrganizationRequestStatus string

const (
	OrganizationRequestPending  OrganizationRequestStatus = "pending"
	OrganizationRequestApproved OrganizationRequestStatus = "approved"
	OrganizationRequestDenied   OrganizationRequestStatus = "denied"
	OrganizationRequestFailed   OrganizationRequestStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from this status.
// Failed requests are NOT terminal: they can be retried or denied.
func (s OrganizationRequestStatus) Terminal() bool {
	return s == OrganizationRequestApproved || s == OrganizationRequestDenied
}

// ParseOrganizationRequestStatus validates a status literal from query or payload input.
func ParseOrganizationRequestStatus(value string) (OrganizationRequestStatus, bool) {
	switch OrganizationRequestStatus(value) {
	case OrganizationRequestPending, OrganizationRequestApproved,
		OrganizationRequestDenied, OrganizationRequestFailed:
		return OrganizationRequestStatus(value), true
	}
	return "", false
}

// OrganizationRequest represents one approval workflow instance: a user's ask
// to provision a new tenant organization, subject to platform-admin review.
//
// The requester fields and slug are immutable after creation. Decision fields
// are owned by the approval workflow engine and updated atomically with each
// transition. ClerkOrganizationID is set iff the request reached approved.
type OrganizationRequest struct {
	ID                  uuid.UUID                 `json:"id"`
	RequesterUserID     string                    `json:"requesterUserId"`
	RequesterEmail      string                    `json:"requesterEmail"`
	OrganizationName    string                    `json:"organizationName"`
	OrganizationSlug    string                    `json:"organizationSlug"`
	Justification       string                    `json:"justification"`
	Status              OrganizationRequestStatus `json:"status"`
	DecisionReason      *string                   `json:"decisionReason"`
	DecisionedByUserID  *string                   `json:"decisionedByUserId"`
	DecisionedAt        *time.Time                `json:"decisionedAt"`
	ClerkOrganizationID *string                   `json:"clerkOrganizationId"`
	FailureCode         *string                   `json:"failureCode"`
	FailureMessage      *string                   `json:"failureMessage"`
	CreatedAt           time.Time                 `json:"createdAt"`
	UpdatedAt           time.Time                 `json:"updatedAt"`
}

package store

import (
	"context"

	"github.com/servirhq/servir/internal/models"
)

// BillingSnapshotFilter narrows ListSnapshots results.
type BillingSnapshotFilter struct {
	Status models.BillingStatus
}

// BillingStore defines the interface for billing snapshot and webhook event
// log storage. ApplyEvent is the one operation that must be strictly atomic:
// it commits the snapshot upsert and the audit log row together or not at all,
// which is what makes concurrent webhook redelivery safe.
type BillingStore interface {
	// GetSnapshot retrieves the billing snapshot for an organization.
	// Returns ErrSnapshotNotFound when no event has ever been processed for it.
	GetSnapshot(ctx context.Context, organizationID string) (*models.BillingSnapshot, error)

	// ListSnapshots returns snapshots matching the filter ordered by most
	// recently updated, plus the total match count.
	ListSnapshots(ctx context.Context, filter BillingSnapshotFilter, page Page) ([]*models.BillingSnapshot, int, error)

	// FindEvent looks up an audit log row by the (provider, eventID)
	// deduplication key. Returns ErrWebhookEventNotFound when absent.
	FindEvent(ctx context.Context, provider, eventID string) (*models.BillingWebhookEvent, error)

	// ApplyEvent atomically upserts the snapshot and appends the processed
	// event row. Returns ErrDuplicateWebhookEvent if the event was already
	// recorded by a concurrent delivery.
	ApplyEvent(ctx context.Context, snapshot *models.BillingSnapshot, event *models.BillingWebhookEvent) error

	// InsertEvent appends a single audit log row (ignored/failed outcomes).
	// A duplicate (provider, eventID) insert is silently ignored so that the
	// best-effort failure log never races with a concurrent redelivery.
	InsertEvent(ctx context.Context, event *models.BillingWebhookEvent) error
}

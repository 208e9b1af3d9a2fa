package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/servirhq/servir/internal/models"
	"github.com/servirhq/servir/internal/store"
)

// BillingStore implements store.BillingStore using PostgreSQL.
type BillingStore struct {
	pool *pgxpool.Pool
}

// NewBillingStore creates a PostgreSQL-backed billing store and runs any
// pending migrations.
func NewBillingStore(ctx context.Context, pool *pgxpool.Pool) (*BillingStore, error) {
	if err := runMigrations(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &BillingStore{pool: pool}, nil
}

const snapshotColumns = `
	organization_id, provider, status, plan_id, plan_slug, subscription_id,
	customer_id, current_period_start, current_period_end, trial_ends_at,
	cancel_at_period_end, last_event_id, last_event_at, updated_at
`

// GetSnapshot retrieves the billing snapshot for an organization.
func (s *BillingStore) GetSnapshot(ctx context.Context, organizationID string) (*models.BillingSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM organization_billing
		WHERE organization_id = $1
	`

	snapshot, err := scanSnapshot(s.pool.QueryRow(ctx, query, organizationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get billing snapshot: %w", mapPostgresError(err))
	}

	return snapshot, nil
}

// ListSnapshots returns snapshots matching the filter ordered by most
// recently updated, plus the total match count.
func (s *BillingStore) ListSnapshots(ctx context.Context, filter store.BillingSnapshotFilter, page store.Page) ([]*models.BillingSnapshot, int, error) {
	where := ""
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		where = fmt.Sprintf(" WHERE status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	var total int
	countQuery := "SELECT count(*) FROM organization_billing" + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count billing snapshots: %w", mapPostgresError(err))
	}

	listQuery := "SELECT " + snapshotColumns + " FROM organization_billing" + where +
		fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, page.PageSize, page.Offset())

	rows, err := s.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list billing snapshots: %w", mapPostgresError(err))
	}
	defer rows.Close()

	snapshots := []*models.BillingSnapshot{}
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan billing snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read billing snapshots: %w", mapPostgresError(err))
	}

	return snapshots, total, nil
}

// FindEvent looks up an audit log row by the (provider, eventID)
// deduplication key.
func (s *BillingStore) FindEvent(ctx context.Context, provider, eventID string) (*models.BillingWebhookEvent, error) {
	query := `
		SELECT id, provider, event_id, event_type, status, payload_json,
		       headers_json, occurred_at, processed_at, failure_reason
		FROM billing_webhook_events
		WHERE provider = $1 AND event_id = $2
	`

	var event models.BillingWebhookEvent
	var headersJSON []byte
	err := s.pool.QueryRow(ctx, query, provider, eventID).Scan(
		&event.ID,
		&event.Provider,
		&event.EventID,
		&event.EventType,
		&event.Status,
		&event.Payload,
		&headersJSON,
		&event.OccurredAt,
		&event.ProcessedAt,
		&event.FailureReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrWebhookEventNotFound
		}
		return nil, fmt.Errorf("failed to find webhook event: %w", mapPostgresError(err))
	}

	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &event.Headers); err != nil {
			return nil, fmt.Errorf("failed to decode webhook event headers: %w", err)
		}
	}

	return &event, nil
}

// ApplyEvent atomically upserts the snapshot and appends the processed event
// row. The event insert runs first so a concurrent redelivery hits the unique
// constraint before touching the snapshot.
func (s *BillingStore) ApplyEvent(ctx context.Context, snapshot *models.BillingSnapshot, event *models.BillingWebhookEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapPostgresError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}

	query := `
		INSERT INTO organization_billing (` + snapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (organization_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			status = EXCLUDED.status,
			plan_id = EXCLUDED.plan_id,
			plan_slug = EXCLUDED.plan_slug,
			subscription_id = EXCLUDED.subscription_id,
			customer_id = EXCLUDED.customer_id,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			trial_ends_at = EXCLUDED.trial_ends_at,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			last_event_id = EXCLUDED.last_event_id,
			last_event_at = EXCLUDED.last_event_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = tx.Exec(ctx, query,
		snapshot.OrganizationID,
		snapshot.Provider,
		snapshot.Status,
		snapshot.PlanID,
		snapshot.PlanSlug,
		snapshot.SubscriptionID,
		snapshot.CustomerID,
		snapshot.CurrentPeriodStart,
		snapshot.CurrentPeriodEnd,
		snapshot.TrialEndsAt,
		snapshot.CancelAtPeriodEnd,
		snapshot.LastEventID,
		snapshot.LastEventAt,
		snapshot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert billing snapshot: %w", mapPostgresError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit billing event: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("organization_id", snapshot.OrganizationID).
		Str("event_id", event.EventID).
		Str("status", string(snapshot.Status)).
		Msg("Applied billing event")

	return nil
}

// InsertEvent appends a single audit log row, silently ignoring duplicates.
func (s *BillingStore) InsertEvent(ctx context.Context, event *models.BillingWebhookEvent) error {
	if err := insertEvent(ctx, s.pool, event); err != nil {
		if errors.Is(err, store.ErrDuplicateWebhookEvent) {
			return nil
		}
		return err
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertEvent(ctx context.Context, db execer, event *models.BillingWebhookEvent) error {
	headersJSON, err := json.Marshal(event.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode webhook event headers: %w", err)
	}

	payload := event.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	query := `
		INSERT INTO billing_webhook_events (
			provider, event_id, event_type, status, payload_json,
			headers_json, occurred_at, processed_at, failure_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = db.Exec(ctx, query,
		event.Provider,
		event.EventID,
		event.EventType,
		event.Status,
		payload,
		headersJSON,
		event.OccurredAt,
		event.ProcessedAt,
		event.FailureReason,
	)
	if err != nil {
		return mapPostgresError(err)
	}

	return nil
}

func scanSnapshot(row pgx.Row) (*models.BillingSnapshot, error) {
	var snapshot models.BillingSnapshot
	err := row.Scan(
		&snapshot.OrganizationID,
		&snapshot.Provider,
		&snapshot.Status,
		&snapshot.PlanID,
		&snapshot.PlanSlug,
		&snapshot.SubscriptionID,
		&snapshot.CustomerID,
		&snapshot.CurrentPeriodStart,
		&snapshot.CurrentPeriodEnd,
		&snapshot.TrialEndsAt,
		&snapshot.CancelAtPeriodEnd,
		&snapshot.LastEventID,
		&snapshot.LastEventAt,
		&snapshot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

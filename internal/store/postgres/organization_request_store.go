package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/servirhq/servir/internal/models"
	"github.com/servirhq/servir/internal/store"
)

// OrganizationRequestStore implements store.OrganizationRequestStore using
// PostgreSQL.
type OrganizationRequestStore struct {
	pool *pgxpool.Pool
}

// NewOrganizationRequestStore creates a PostgreSQL-backed organization
// request store and runs any pending migrations.
func NewOrganizationRequestStore(ctx context.Context, pool *pgxpool.Pool) (*OrganizationRequestStore, error) {
	if err := runMigrations(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &OrganizationRequestStore{pool: pool}, nil
}

const requestColumns = `
	id, requester_user_id, requester_email, organization_name,
	organization_slug, justification, status, decision_reason,
	decisioned_by_user_id, decisioned_at, clerk_organization_id,
	failure_code, failure_message, created_at, updated_at
`

// Create inserts a new organization request.
func (s *OrganizationRequestStore) Create(ctx context.Context, request *models.OrganizationRequest) error {
	query := `
		INSERT INTO organization_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := s.pool.Exec(ctx, query,
		request.ID,
		request.RequesterUserID,
		request.RequesterEmail,
		request.OrganizationName,
		request.OrganizationSlug,
		request.Justification,
		request.Status,
		request.DecisionReason,
		request.DecisionedByUserID,
		request.DecisionedAt,
		request.ClerkOrganizationID,
		request.FailureCode,
		request.FailureMessage,
		request.CreatedAt,
		request.UpdatedAt,
	)
	if err != nil {
		return mapPostgresError(err)
	}

	log.Debug().
		Str("request_id", request.ID.String()).
		Str("slug", request.OrganizationSlug).
		Msg("Created organization request")

	return nil
}

// Get retrieves an organization request by ID.
func (s *OrganizationRequestStore) Get(ctx context.Context, requestID uuid.UUID) (*models.OrganizationRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM organization_requests
		WHERE id = $1
	`

	request, err := scanRequest(s.pool.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get organization request: %w", mapPostgresError(err))
	}

	return request, nil
}

// Update overwrites the mutable fields of an existing request.
func (s *OrganizationRequestStore) Update(ctx context.Context, request *models.OrganizationRequest) error {
	query := `
		UPDATE organization_requests SET
			status = $2,
			decision_reason = $3,
			decisioned_by_user_id = $4,
			decisioned_at = $5,
			clerk_organization_id = $6,
			failure_code = $7,
			failure_message = $8,
			updated_at = $9
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		request.ID,
		request.Status,
		request.DecisionReason,
		request.DecisionedByUserID,
		request.DecisionedAt,
		request.ClerkOrganizationID,
		request.FailureCode,
		request.FailureMessage,
		request.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update organization request: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRequestNotFound
	}

	return nil
}

// FindPendingBySlugPrefix reports whether the requester already has a pending
// request with this slug or a numbered variant of it.
func (s *OrganizationRequestStore) FindPendingBySlugPrefix(ctx context.Context, requesterUserID, slug string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM organization_requests
			WHERE requester_user_id = $1
			  AND status = 'pending'
			  AND (organization_slug = $2 OR organization_slug LIKE $2 || '-%')
		)
	`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, requesterUserID, slug).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check pending requests: %w", mapPostgresError(err))
	}

	return exists, nil
}

// ListSlugsWithPrefix returns all request slugs starting with prefix.
func (s *OrganizationRequestStore) ListSlugsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	query := `
		SELECT organization_slug
		FROM organization_requests
		WHERE organization_slug LIKE $1 || '%'
	`

	rows, err := s.pool.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list slugs: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("failed to scan slug: %w", err)
		}
		slugs = append(slugs, slug)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read slugs: %w", mapPostgresError(err))
	}

	return slugs, nil
}

// List returns matching requests ordered newest-first plus the total count.
func (s *OrganizationRequestStore) List(ctx context.Context, filter store.OrganizationRequestFilter, page store.Page) ([]*models.OrganizationRequest, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	argIdx := 1

	if filter.RequesterUserID != "" {
		where += fmt.Sprintf(" AND requester_user_id = $%d", argIdx)
		args = append(args, filter.RequesterUserID)
		argIdx++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	var total int
	countQuery := "SELECT count(*) FROM organization_requests" + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count organization requests: %w", mapPostgresError(err))
	}

	listQuery := "SELECT " + requestColumns + " FROM organization_requests" + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, page.PageSize, page.Offset())

	rows, err := s.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list organization requests: %w", mapPostgresError(err))
	}
	defer rows.Close()

	requests := []*models.OrganizationRequest{}
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan organization request: %w", err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read organization requests: %w", mapPostgresError(err))
	}

	return requests, total, nil
}

func scanRequest(row pgx.Row) (*models.OrganizationRequest, error) {
	var request models.OrganizationRequest
	err := row.Scan(
		&request.ID,
		&request.RequesterUserID,
		&request.RequesterEmail,
		&request.OrganizationName,
		&request.OrganizationSlug,
		&request.Justification,
		&request.Status,
		&request.DecisionReason,
		&request.DecisionedByUserID,
		&request.DecisionedAt,
		&request.ClerkOrganizationID,
		&request.FailureCode,
		&request.FailureMessage,
		&request.CreatedAt,
		&request.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// Package billing reconciles subscription state from provider webhooks.
// Deliveries are verified, deduplicated on (provider, event id), and folded
// into one snapshot row per organization; every delivery leaves a row in the
// append-only audit log regardless of outcome.
package billing

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/servirhq/servir/internal/apierror"
	"github.com/servirhq/servir/internal/auth"
	"github.com/servirhq/servir/internal/models"
	"github.com/servirhq/servir/internal/store"
	"github.com/servirhq/servir/internal/telemetry"
)

// Ack outcomes returned to the webhook sender.
const (
	AckProcessed = "processed"
	AckIgnored   = "ignored"
	AckDuplicate = "duplicate"
)

// Ack acknowledges a webhook delivery without exposing processing detail.
type Ack struct {
	Status  string `json:"status"`
	EventID string `json:"eventId"`
}

// SubscriptionSummary is the platform admin view of one organization's
// subscription.
type SubscriptionSummary struct {
	OrganizationID   string               `json:"organizationId"`
	Status           models.BillingStatus `json:"status"`
	PlanSlug         *string              `json:"planSlug"`
	CurrentPeriodEnd *time.Time           `json:"currentPeriodEnd"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// SubscriptionList is a page of subscription summaries.
type SubscriptionList struct {
	Items []SubscriptionSummary `json:"items"`
	Meta  models.PageMeta       `json:"meta"`
}

// Service processes billing webhooks and serves billing reads.
type Service struct {
	billing  store.BillingStore
	verifier *SignatureVerifier
	metrics  *telemetry.Metrics
}

// NewService creates the billing service.
func NewService(billing store.BillingStore, verifier *SignatureVerifier, metrics *telemetry.Metrics) *Service {
	return &Service{billing: billing, verifier: verifier, metrics: metrics}
}

// GetBillingMe returns the caller's active organization snapshot, or the
// empty "none" snapshot when no billing event has ever been processed for it.
func (s *Service) GetBillingMe(ctx context.Context, authCtx *auth.Context) (*models.BillingSnapshot, error) {
	if authCtx.ActiveOrganizationID == "" {
		return nil, apierror.BadRequest(apierror.CodeBillingContextRequired,
			"Active organization context is required to read billing status.")
	}

	snapshot, err := s.billing.GetSnapshot(ctx, authCtx.ActiveOrganizationID)
	if errors.Is(err, store.ErrSnapshotNotFound) {
		return models.EmptyBillingSnapshot(authCtx.ActiveOrganizationID), nil
	}
	if err != nil {
		return nil, apierror.Internal(err)
	}
	return snapshot, nil
}

// ListPlatformSubscriptions returns a page of subscription summaries across
// all organizations, optionally filtered by status, newest update first.
func (s *Service) ListPlatformSubscriptions(ctx context.Context, status models.BillingStatus, page store.Page) (*SubscriptionList, error) {
	snapshots, total, err := s.billing.ListSnapshots(ctx, store.BillingSnapshotFilter{Status: status}, page)
	if err != nil {
		return nil, apierror.Internal(err)
	}

	items := make([]SubscriptionSummary, 0, len(snapshots))
	for _, snapshot := range snapshots {
		items = append(items, SubscriptionSummary{
			OrganizationID:   snapshot.OrganizationID,
			Status:           snapshot.Status,
			PlanSlug:         snapshot.PlanSlug,
			CurrentPeriodEnd: snapshot.CurrentPeriodEnd,
			UpdatedAt:        snapshot.UpdatedAt,
		})
	}

	return &SubscriptionList{
		Items: items,
		Meta:  models.NewPageMeta(page.Page, page.PageSize, total),
	}, nil
}

// WebhookDelivery is one raw inbound webhook request.
type WebhookDelivery struct {
	Headers http.Header
	Body    []byte
}

// HandleWebhook runs a delivery through the reconciliation pipeline:
// verify the signature, short-circuit duplicates, infer the organization and
// status, then atomically upsert the snapshot and append the audit row.
// Unattributable events acknowledge as ignored rather than erroring so the
// provider does not retry them forever.
func (s *Service) HandleWebhook(ctx context.Context, delivery *WebhookDelivery) (*Ack, error) {
	started := time.Now()

	eventID := delivery.Headers.Get(headerWebhookID)
	if eventID == "" {
		eventID = fallbackEventID()
	}

	if err := s.verifier.Verify(delivery.Headers, delivery.Body); err != nil {
		s.metrics.RecordWebhookEvent(ctx, "rejected", durationMillis(started))
		return nil, apierror.New(http.StatusUnauthorized, apierror.CodeWebhookSignatureInvalid,
			"Webhook signature verification failed.").WithCause(err)
	}

	if _, err := s.billing.FindEvent(ctx, models.BillingProviderClerk, eventID); err == nil {
		log.Ctx(ctx).Info().Str("event_id", eventID).Msg("duplicate webhook delivery")
		s.metrics.RecordWebhookEvent(ctx, AckDuplicate, durationMillis(started))
		return &Ack{Status: AckDuplicate, EventID: eventID}, nil
	} else if !errors.Is(err, store.ErrWebhookEventNotFound) {
		return nil, apierror.Internal(err)
	}

	record := decodeEventRecord(delivery.Body)
	organizationID := record.organizationID()
	status, statusOK := record.billingStatus()

	if organizationID == nil || !statusOK {
		reason := "Unsupported billing status payload."
		if organizationID == nil {
			reason = "Missing organization id in event payload."
		}
		s.logEvent(ctx, delivery, record, eventID, models.WebhookEventIgnored, reason)
		log.Ctx(ctx).Info().
			Str("event_id", eventID).
			Str("event_type", record.Type).
			Str("reason", reason).
			Msg("ignored webhook delivery")
		s.metrics.RecordWebhookEvent(ctx, AckIgnored, durationMillis(started))
		return &Ack{Status: AckIgnored, EventID: eventID}, nil
	}

	snapshot := &models.BillingSnapshot{
		OrganizationID:     *organizationID,
		Provider:           models.BillingProviderClerk,
		Status:             status,
		PlanID:             record.planID(),
		PlanSlug:           record.planSlug(),
		SubscriptionID:     record.subscriptionID(),
		CustomerID:         record.customerID(),
		CurrentPeriodStart: record.currentPeriodStart(),
		CurrentPeriodEnd:   record.currentPeriodEnd(),
		TrialEndsAt:        record.trialEndsAt(),
		CancelAtPeriodEnd:  record.cancelAtPeriodEnd(),
		LastEventID:        &eventID,
		LastEventAt:        record.OccurredAt,
		UpdatedAt:          time.Now().UTC(),
	}

	event := &models.BillingWebhookEvent{
		Provider:    models.BillingProviderClerk,
		EventID:     eventID,
		EventType:   record.Type,
		Status:      models.WebhookEventProcessed,
		Payload:     record.Payload,
		Headers:     auditHeaders(delivery.Headers),
		OccurredAt:  record.OccurredAt,
		ProcessedAt: time.Now().UTC(),
	}

	if err := s.billing.ApplyEvent(ctx, snapshot, event); err != nil {
		if errors.Is(err, store.ErrDuplicateWebhookEvent) {
			s.metrics.RecordWebhookEvent(ctx, AckDuplicate, durationMillis(started))
			return &Ack{Status: AckDuplicate, EventID: eventID}, nil
		}

		s.logEvent(ctx, delivery, record, eventID, models.WebhookEventFailed, err.Error())
		log.Ctx(ctx).Error().Err(err).
			Str("event_id", eventID).
			Str("event_type", record.Type).
			Str("organization_id", *organizationID).
			Msg("failed to process webhook event")
		s.metrics.RecordWebhookEvent(ctx, "failed", durationMillis(started))
		return nil, apierror.New(http.StatusInternalServerError, apierror.CodeInternalError,
			"Failed to process webhook event.").WithCause(err)
	}

	log.Ctx(ctx).Info().
		Str("event_id", eventID).
		Str("event_type", record.Type).
		Str("organization_id", *organizationID).
		Str("status", string(status)).
		Msg("processed webhook event")
	s.metrics.RecordWebhookEvent(ctx, AckProcessed, durationMillis(started))

	return &Ack{Status: AckProcessed, EventID: eventID}, nil
}

// logEvent writes a best-effort ignored/failed audit row. Write errors are
// logged and swallowed so they never mask the pipeline outcome.
func (s *Service) logEvent(ctx context.Context, delivery *WebhookDelivery, record *eventRecord, eventID string, status models.BillingWebhookEventStatus, reason string) {
	event := &models.BillingWebhookEvent{
		Provider:      models.BillingProviderClerk,
		EventID:       eventID,
		EventType:     record.Type,
		Status:        status,
		Payload:       record.Payload,
		Headers:       auditHeaders(delivery.Headers),
		OccurredAt:    record.OccurredAt,
		ProcessedAt:   time.Now().UTC(),
		FailureReason: &reason,
	}
	if err := s.billing.InsertEvent(ctx, event); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("event_id", eventID).Msg("failed to write webhook audit row")
	}
}

// auditHeaders keeps only the delivery metadata worth auditing; everything
// else (auth material in particular) is dropped.
func auditHeaders(headers http.Header) map[string]string {
	kept := map[string]string{}
	for key, values := range headers {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "svix-") || lower == "content-type" || lower == "user-agent" {
			kept[lower] = strings.Join(values, ",")
		}
	}
	return kept
}

// fallbackEventID stands in when a delivery arrives without an id header.
// Fallback ids are unique per delivery, so such events are never deduplicated.
func fallbackEventID() string {
	return fmt.Sprintf("evt_fallback_%d_%08x", time.Now().UnixMilli(), rand.Uint32())
}

func durationMillis(started time.Time) float64 {
	return float64(time.Since(started).Microseconds()) / 1000.0
}

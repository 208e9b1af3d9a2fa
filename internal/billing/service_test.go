package billing

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/servirhq/servir/internal/apierror"
	"github.com/servirhq/servir/internal/auth"
	"github.com/servirhq/servir/internal/models"
	"github.com/servirhq/servir/internal/store"
)

func newBillingService(t *testing.T) (*Service, *store.MemoryBillingStore) {
	t.Helper()

	verifier, err := NewSignatureVerifier(testSigningSecret())
	require.NoError(t, err)

	billing := store.NewMemoryBillingStore()
	return NewService(billing, verifier, nil), billing
}

func signedDelivery(eventID string, body []byte) *WebhookDelivery {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	headers := signedHeaders(eventID, timestamp, signDelivery(eventID, timestamp, body))
	headers.Set("Content-Type", "application/json")
	return &WebhookDelivery{Headers: headers, Body: body}
}

// applyStubBillingStore forces ApplyEvent outcomes that the in-memory store
// cannot produce on demand, such as transaction failures.
type applyStubBillingStore struct {
	*store.MemoryBillingStore
	applyErr error
}

func (s *applyStubBillingStore) ApplyEvent(ctx context.Context, snapshot *models.BillingSnapshot, event *models.BillingWebhookEvent) error {
	return s.applyErr
}

func TestHandleWebhook(t *testing.T) {
	ctx := context.Background()

	t.Run("processes an attributable event", func(t *testing.T) {
		service, billing := newBillingService(t)

		body := []byte(`{
			"type": "subscription.updated",
			"created_at": 1735689600000,
			"data": {
				"organization_id": "org_1",
				"status": "active",
				"plan": {"slug": "pro"},
				"subscription": {"id": "sub_1"}
			}
		}`)

		ack, err := service.HandleWebhook(ctx, signedDelivery("msg_1", body))
		require.NoError(t, err)
		require.Equal(t, AckProcessed, ack.Status)
		require.Equal(t, "msg_1", ack.EventID)

		snapshot, err := billing.GetSnapshot(ctx, "org_1")
		require.NoError(t, err)
		require.Equal(t, models.BillingStatusActive, snapshot.Status)
		require.Equal(t, "pro", *snapshot.PlanSlug)
		require.Equal(t, "sub_1", *snapshot.SubscriptionID)
		require.Equal(t, "msg_1", *snapshot.LastEventID)

		event, err := billing.FindEvent(ctx, models.BillingProviderClerk, "msg_1")
		require.NoError(t, err)
		require.Equal(t, models.WebhookEventProcessed, event.Status)
		require.Equal(t, "subscription.updated", event.EventType)
		require.Contains(t, event.Headers, "svix-id")
		require.Contains(t, event.Headers, "content-type")
	})

	t.Run("acknowledges redelivery as duplicate", func(t *testing.T) {
		service, _ := newBillingService(t)

		body := []byte(`{"type":"subscription.created","data":{"organization_id":"org_1"}}`)

		ack, err := service.HandleWebhook(ctx, signedDelivery("msg_1", body))
		require.NoError(t, err)
		require.Equal(t, AckProcessed, ack.Status)

		ack, err = service.HandleWebhook(ctx, signedDelivery("msg_1", body))
		require.NoError(t, err)
		require.Equal(t, AckDuplicate, ack.Status)
		require.Equal(t, "msg_1", ack.EventID)
	})

	t.Run("ignores events without an organization id", func(t *testing.T) {
		service, billing := newBillingService(t)

		body := []byte(`{"type":"subscription.updated","data":{"status":"active"}}`)

		ack, err := service.HandleWebhook(ctx, signedDelivery("msg_1", body))
		require.NoError(t, err)
		require.Equal(t, AckIgnored, ack.Status)

		event, err := billing.FindEvent(ctx, models.BillingProviderClerk, "msg_1")
		require.NoError(t, err)
		require.Equal(t, models.WebhookEventIgnored, event.Status)
		require.Equal(t, "Missing organization id in event payload.", *event.FailureReason)
	})

	t.Run("ignores events without a resolvable status", func(t *testing.T) {
		service, billing := newBillingService(t)

		body := []byte(`{"type":"user.deleted","data":{"organization_id":"org_1"}}`)

		ack, err := service.HandleWebhook(ctx, signedDelivery("msg_1", body))
		require.NoError(t, err)
		require.Equal(t, AckIgnored, ack.Status)

		event, err := billing.FindEvent(ctx, models.BillingProviderClerk, "msg_1")
		require.NoError(t, err)
		require.Equal(t, "Unsupported billing status payload.", *event.FailureReason)

		_, err = billing.GetSnapshot(ctx, "org_1")
		require.ErrorIs(t, err, store.ErrSnapshotNotFound)
	})

	t.Run("rejects an invalid signature", func(t *testing.T) {
		service, billing := newBillingService(t)

		body := []byte(`{"type":"subscription.updated","data":{"organization_id":"org_1"}}`)
		delivery := signedDelivery("msg_1", body)
		delivery.Headers.Set(headerWebhookSignature, "v1,bm90LXRoZS1zaWduYXR1cmU=")

		_, err := service.HandleWebhook(ctx, delivery)
		require.Error(t, err)

		apiErr := apierror.From(err)
		require.Equal(t, http.StatusUnauthorized, apiErr.Status)
		require.Equal(t, apierror.CodeWebhookSignatureInvalid, apiErr.Code)

		// Rejected deliveries leave no audit trail, they are untrusted input.
		_, err = billing.FindEvent(ctx, models.BillingProviderClerk, "msg_1")
		require.ErrorIs(t, err, store.ErrWebhookEventNotFound)
	})

	t.Run("records a failed audit row when the store write fails", func(t *testing.T) {
		verifier, err := NewSignatureVerifier(testSigningSecret())
		require.NoError(t, err)

		billing := &applyStubBillingStore{
			MemoryBillingStore: store.NewMemoryBillingStore(),
			applyErr:           errors.New("connection reset by peer"),
		}
		service := NewService(billing, verifier, nil)

		body := []byte(`{"type":"subscription.updated","data":{"organization_id":"org_1","status":"active"}}`)
		_, err = service.HandleWebhook(ctx, signedDelivery("msg_1", body))
		require.Error(t, err)

		apiErr := apierror.From(err)
		require.Equal(t, http.StatusInternalServerError, apiErr.Status)
		require.Equal(t, apierror.CodeInternalError, apiErr.Code)

		event, err := billing.FindEvent(ctx, models.BillingProviderClerk, "msg_1")
		require.NoError(t, err)
		require.Equal(t, models.WebhookEventFailed, event.Status)
		require.Equal(t, "connection reset by peer", *event.FailureReason)
	})

	t.Run("acknowledges a write-time dedup conflict as duplicate", func(t *testing.T) {
		verifier, err := NewSignatureVerifier(testSigningSecret())
		require.NoError(t, err)

		billing := &applyStubBillingStore{
			MemoryBillingStore: store.NewMemoryBillingStore(),
			applyErr:           store.ErrDuplicateWebhookEvent,
		}
		service := NewService(billing, verifier, nil)

		body := []byte(`{"type":"subscription.updated","data":{"organization_id":"org_1","status":"active"}}`)
		ack, err := service.HandleWebhook(ctx, signedDelivery("msg_1", body))
		require.NoError(t, err)
		require.Equal(t, AckDuplicate, ack.Status)
		require.Equal(t, "msg_1", ack.EventID)
	})

	t.Run("missing id header fails verification", func(t *testing.T) {
		service, _ := newBillingService(t)

		body := []byte(`{"type":"subscription.updated","data":{"organization_id":"org_1","status":"active"}}`)
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		headers := http.Header{}
		headers.Set(headerWebhookTimestamp, timestamp)
		headers.Set(headerWebhookSignature, signDelivery("", timestamp, body))

		_, err := service.HandleWebhook(ctx, &WebhookDelivery{Headers: headers, Body: body})
		require.Error(t, err)
		require.Equal(t, http.StatusUnauthorized, apierror.From(err).Status)
	})
}

func TestGetBillingMe(t *testing.T) {
	ctx := context.Background()

	t.Run("requires an active organization", func(t *testing.T) {
		service, _ := newBillingService(t)

		_, err := service.GetBillingMe(ctx, &auth.Context{UserID: "user_1"})
		require.Error(t, err)

		apiErr := apierror.From(err)
		require.Equal(t, http.StatusBadRequest, apiErr.Status)
		require.Equal(t, apierror.CodeBillingContextRequired, apiErr.Code)
	})

	t.Run("returns the empty snapshot when nothing was ever billed", func(t *testing.T) {
		service, _ := newBillingService(t)

		snapshot, err := service.GetBillingMe(ctx, &auth.Context{UserID: "user_1", ActiveOrganizationID: "org_1"})
		require.NoError(t, err)
		require.Equal(t, "org_1", snapshot.OrganizationID)
		require.Equal(t, models.BillingStatusNone, snapshot.Status)
		require.Equal(t, int64(0), snapshot.UpdatedAt.Unix())
	})

	t.Run("returns the stored snapshot", func(t *testing.T) {
		service, _ := newBillingService(t)

		body := []byte(`{"type":"subscription.updated","data":{"organization_id":"org_1","status":"trialing"}}`)
		_, err := service.HandleWebhook(ctx, signedDelivery("msg_1", body))
		require.NoError(t, err)

		snapshot, err := service.GetBillingMe(ctx, &auth.Context{UserID: "user_1", ActiveOrganizationID: "org_1"})
		require.NoError(t, err)
		require.Equal(t, models.BillingStatusTrialing, snapshot.Status)
	})
}

func TestListPlatformSubscriptions(t *testing.T) {
	ctx := context.Background()
	service, _ := newBillingService(t)

	for i, status := range []string{"active", "trialing", "past_due"} {
		body := []byte(`{"type":"subscription.updated","data":{"organization_id":"org_` +
			strconv.Itoa(i+1) + `","status":"` + status + `"}}`)
		_, err := service.HandleWebhook(ctx, signedDelivery("msg_"+strconv.Itoa(i+1), body))
		require.NoError(t, err)
	}

	t.Run("lists all subscriptions", func(t *testing.T) {
		result, err := service.ListPlatformSubscriptions(ctx, "", store.Page{Page: 1, PageSize: 20})
		require.NoError(t, err)
		require.Len(t, result.Items, 3)
		require.Equal(t, 3, result.Meta.Total)
		require.Equal(t, 1, result.Meta.TotalPages)
	})

	t.Run("filters by status", func(t *testing.T) {
		result, err := service.ListPlatformSubscriptions(ctx, models.BillingStatusPastDue, store.Page{Page: 1, PageSize: 20})
		require.NoError(t, err)
		require.Len(t, result.Items, 1)
		require.Equal(t, "org_3", result.Items[0].OrganizationID)
	})
}

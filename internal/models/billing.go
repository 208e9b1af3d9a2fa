package models

import "time"

// BillingProviderClerk is the only billing provider currently supported.
const BillingProviderClerk = "clerk"

// BillingStatus is the closed vocabulary of subscription states.
type BillingStatus string

const (
	BillingStatusNone       BillingStatus = "none"
	BillingStatusTrialing   BillingStatus = "trialing"
	BillingStatusActive     BillingStatus = "active"
	BillingStatusPastDue    BillingStatus = "past_due"
	BillingStatusUnpaid     BillingStatus = "unpaid"
	BillingStatusIncomplete BillingStatus = "incomplete"
	BillingStatusCanceled   BillingStatus = "canceled"
)

// NormalizeBillingStatus maps a raw status literal into the closed vocabulary.
// The alternate spelling "cancelled" normalizes to "canceled". Anything else
// fails normalization.
func NormalizeBillingStatus(value string) (BillingStatus, bool) {
	switch BillingStatus(value) {
	case BillingStatusNone, BillingStatusTrialing, BillingStatusActive,
		BillingStatusPastDue, BillingStatusUnpaid, BillingStatusIncomplete,
		BillingStatusCanceled:
		return BillingStatus(value), true
	}
	if value == "cancelled" {
		return BillingStatusCanceled, true
	}
	return "", false
}

// BillingSnapshot is the latest known subscription state for one organization.
// It reflects the most recent successfully processed webhook event and is
// overwritten, never appended, on each later event.
type BillingSnapshot struct {
	OrganizationID     string        `json:"organizationId"`
	Provider           string        `json:"provider"`
	Status             BillingStatus `json:"status"`
	PlanID             *string       `json:"planId"`
	PlanSlug           *string       `json:"planSlug"`
	SubscriptionID     *string       `json:"subscriptionId"`
	CustomerID         *string       `json:"customerId"`
	CurrentPeriodStart *time.Time    `json:"currentPeriodStart"`
	CurrentPeriodEnd   *time.Time    `json:"currentPeriodEnd"`
	TrialEndsAt        *time.Time    `json:"trialEndsAt"`
	CancelAtPeriodEnd  bool          `json:"cancelAtPeriodEnd"`
	LastEventID        *string       `json:"lastEventId"`
	LastEventAt        *time.Time    `json:"lastEventAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// EmptyBillingSnapshot is the zero-value snapshot returned for organizations
// that have never produced a billing event.
func EmptyBillingSnapshot(organizationID string) *BillingSnapshot {
	return &BillingSnapshot{
		OrganizationID: organizationID,
		Provider:       BillingProviderClerk,
		Status:         BillingStatusNone,
		UpdatedAt:      time.Unix(0, 0).UTC(),
	}
}

// BillingWebhookEventStatus records the processing outcome of a received event.
type BillingWebhookEventStatus string

const (
	WebhookEventProcessed BillingWebhookEventStatus = "processed"
	WebhookEventIgnored   BillingWebhookEventStatus = "ignored"
	WebhookEventFailed    BillingWebhookEventStatus = "failed"
)

// BillingWebhookEvent is one row of the append-only webhook audit log.
// (provider, event_id) is unique and serves as the deduplication key.
// Rows are never updated once written.
type BillingWebhookEvent struct {
	ID            int64                     `json:"-"`
	Provider      string                    `json:"provider"`
	EventID       string                    `json:"eventId"`
	EventType     string                    `json:"eventType"`
	Status        BillingWebhookEventStatus `json:"status"`
	Payload       []byte                    `json:"-"`
	Headers       map[string]string         `json:"-"`
	OccurredAt    *time.Time                `json:"occurredAt"`
	ProcessedAt   time.Time                 `json:"processedAt"`
	FailureReason *string                   `json:"failureReason"`
}

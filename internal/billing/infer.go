package billing

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/servirhq/servir/internal/models"
)

// eventRecord is the decoded shape of a verified webhook payload. Provider
// payloads vary across event families, so every interesting field is inferred
// from a list of candidate paths rather than a fixed schema.
type eventRecord struct {
	Type       string
	Payload    []byte
	Data       map[string]any
	OccurredAt *time.Time
}

// decodeEventRecord parses a raw webhook body. Malformed or non-object bodies
// decode to an "unknown" record so the pipeline can log them as ignored
// instead of erroring.
func decodeEventRecord(body []byte) *eventRecord {
	record := &eventRecord{
		Type:    "unknown",
		Payload: body,
		Data:    map[string]any{},
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return record
	}

	if eventType, ok := payload["type"].(string); ok {
		record.Type = eventType
	}
	if data, ok := payload["data"].(map[string]any); ok {
		record.Data = data
	}

	for _, candidate := range []any{payload["created_at"], payload["timestamp"], record.Data["created_at"]} {
		if occurredAt := parseEventTime(candidate); occurredAt != nil {
			record.OccurredAt = occurredAt
			break
		}
	}

	return record
}

// Candidate path tables, in priority order. A single-element path is a direct
// key on the event data object; longer paths descend through nested objects.
var (
	organizationIDPaths = [][]string{
		{"organizationId"},
		{"organization_id"},
		{"organization", "id"},
		{"organization", "organization_id"},
		{"payer", "organization_id"},
		{"subscription", "organization_id"},
	}

	statusPaths = [][]string{
		{"status"},
		{"subscription", "status"},
		{"billing", "status"},
	}

	planIDPaths = [][]string{
		{"planId"},
		{"plan_id"},
		{"plan", "id"},
		{"subscription", "plan_id"},
	}

	planSlugPaths = [][]string{
		{"planSlug"},
		{"plan_slug"},
		{"plan", "slug"},
		{"plan", "name"},
	}

	subscriptionIDPaths = [][]string{
		{"subscriptionId"},
		{"subscription_id"},
		{"subscription", "id"},
	}

	customerIDPaths = [][]string{
		{"customerId"},
		{"customer_id"},
		{"customer", "id"},
		{"payer", "id"},
	}

	currentPeriodStartPaths = [][]string{
		{"currentPeriodStart"},
		{"current_period_start"},
	}

	currentPeriodEndPaths = [][]string{
		{"currentPeriodEnd"},
		{"current_period_end"},
	}

	trialEndsAtPaths = [][]string{
		{"trialEndsAt"},
		{"trial_ends_at"},
	}

	cancelAtPeriodEndPaths = [][]string{
		{"cancelAtPeriodEnd"},
		{"cancel_at_period_end"},
		{"subscription", "cancel_at_period_end"},
	}
)

func (e *eventRecord) organizationID() *string {
	return firstString(e.Data, organizationIDPaths)
}

// billingStatus resolves the subscription state for the event. An explicit
// status field wins; otherwise the event type name is matched against known
// state keywords, most specific first.
func (e *eventRecord) billingStatus() (models.BillingStatus, bool) {
	if candidate := firstString(e.Data, statusPaths); candidate != nil {
		if status, ok := models.NormalizeBillingStatus(strings.ToLower(strings.TrimSpace(*candidate))); ok {
			return status, true
		}
	}

	eventType := strings.ToLower(e.Type)
	switch {
	case strings.Contains(eventType, "canceled"), strings.Contains(eventType, "cancelled"):
		return models.BillingStatusCanceled, true
	case strings.Contains(eventType, "past_due"):
		return models.BillingStatusPastDue, true
	case strings.Contains(eventType, "unpaid"):
		return models.BillingStatusUnpaid, true
	case strings.Contains(eventType, "trial"):
		return models.BillingStatusTrialing, true
	case strings.Contains(eventType, "active"),
		strings.Contains(eventType, "created"),
		strings.Contains(eventType, "updated"):
		return models.BillingStatusActive, true
	}

	return "", false
}

func (e *eventRecord) planID() *string         { return firstString(e.Data, planIDPaths) }
func (e *eventRecord) planSlug() *string       { return firstString(e.Data, planSlugPaths) }
func (e *eventRecord) subscriptionID() *string { return firstString(e.Data, subscriptionIDPaths) }
func (e *eventRecord) customerID() *string     { return firstString(e.Data, customerIDPaths) }

func (e *eventRecord) currentPeriodStart() *time.Time { return firstTime(e.Data, currentPeriodStartPaths) }
func (e *eventRecord) currentPeriodEnd() *time.Time   { return firstTime(e.Data, currentPeriodEndPaths) }
func (e *eventRecord) trialEndsAt() *time.Time        { return firstTime(e.Data, trialEndsAtPaths) }

func (e *eventRecord) cancelAtPeriodEnd() bool {
	for _, path := range cancelAtPeriodEndPaths {
		value := pickNested(e.Data, path)
		if value == nil {
			continue
		}
		// The first present candidate decides; an unusable value means false,
		// not a fall-through to later paths.
		switch v := value.(type) {
		case bool:
			return v
		case string:
			normalized := strings.ToLower(strings.TrimSpace(v))
			return normalized == "true" || normalized == "1"
		}
		return false
	}
	return false
}

// pickNested descends through nested JSON objects along path, returning nil
// as soon as a segment is missing or not an object.
func pickNested(source map[string]any, path []string) any {
	var current any = source
	for _, segment := range path {
		object, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = object[segment]
	}
	return current
}

func firstString(source map[string]any, paths [][]string) *string {
	for _, path := range paths {
		if value, ok := pickNested(source, path).(string); ok && strings.TrimSpace(value) != "" {
			return &value
		}
	}
	return nil
}

func firstTime(source map[string]any, paths [][]string) *time.Time {
	for _, path := range paths {
		if parsed := parseEventTime(pickNested(source, path)); parsed != nil {
			return parsed
		}
	}
	return nil
}

// parseEventTime accepts the timestamp encodings providers mix freely:
// RFC 3339 strings, unix seconds and unix milliseconds. Numbers above 1e12
// are taken as milliseconds.
func parseEventTime(value any) *time.Time {
	switch v := value.(type) {
	case float64:
		var parsed time.Time
		if v > 1_000_000_000_000 {
			parsed = time.UnixMilli(int64(v)).UTC()
		} else {
			parsed = time.Unix(int64(v), 0).UTC()
		}
		return &parsed
	case string:
		if v == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil
		}
		parsed = parsed.UTC()
		return &parsed
	}
	return nil
}

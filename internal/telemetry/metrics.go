package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/servirhq/servir"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Approval workflow metrics
	ApprovalDecisionsTotal metric.Int64Counter

	// Billing webhook pipeline metrics
	WebhookEventsTotal    metric.Int64Counter
	WebhookProcessingTime metric.Float64Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.ApprovalDecisionsTotal, _ = meter.Int64Counter(
		"servir.org_requests.decisions.total",
		metric.WithDescription("Total number of organization request decisions by outcome"),
		metric.WithUnit("{decision}"),
	)

	m.WebhookEventsTotal, _ = meter.Int64Counter(
		"servir.billing.webhook.events.total",
		metric.WithDescription("Total number of billing webhook deliveries by outcome"),
		metric.WithUnit("{event}"),
	)

	m.WebhookProcessingTime, _ = meter.Float64Histogram(
		"servir.billing.webhook.duration",
		metric.WithDescription("Duration of billing webhook processing"),
		metric.WithUnit("ms"),
	)

	return m
}

// RecordApprovalDecision counts one organization request decision.
// Outcome is one of approved, denied, failed. Safe on a nil receiver so
// services can run without telemetry in tests.
func (m *Metrics) RecordApprovalDecision(ctx context.Context, outcome string) {
	if m == nil || m.ApprovalDecisionsTotal == nil {
		return
	}
	m.ApprovalDecisionsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordWebhookEvent counts one webhook delivery outcome and its duration.
// Outcome is one of processed, ignored, duplicate, rejected, failed.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, outcome string, durationMillis float64) {
	if m == nil {
		return
	}
	if m.WebhookEventsTotal != nil {
		m.WebhookEventsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if m.WebhookProcessingTime != nil {
		m.WebhookProcessingTime.Record(ctx, durationMillis,
			metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

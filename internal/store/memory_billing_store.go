package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/servirhq/servir/internal/models"
)

type eventKey struct {
	provider string
	eventID  string
}

// MemoryBillingStore is an in-memory implementation of BillingStore for
// development and testing. ApplyEvent holds the write lock across both
// writes, giving the same all-or-nothing behaviour as the Postgres
// transaction.
type MemoryBillingStore struct {
	mu        sync.RWMutex
	snapshots map[string]*models.BillingSnapshot
	events    map[eventKey]*models.BillingWebhookEvent
	nextID    int64
}

// NewMemoryBillingStore creates a new in-memory billing store.
func NewMemoryBillingStore() *MemoryBillingStore {
	return &MemoryBillingStore{
		snapshots: make(map[string]*models.BillingSnapshot),
		events:    make(map[eventKey]*models.BillingWebhookEvent),
	}
}

// GetSnapshot retrieves the billing snapshot for an organization.
func (s *MemoryBillingStore) GetSnapshot(ctx context.Context, organizationID string) (*models.BillingSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, exists := s.snapshots[organizationID]
	if !exists {
		return nil, ErrSnapshotNotFound
	}

	return copySnapshot(snapshot), nil
}

// ListSnapshots returns matching snapshots ordered by most recently updated.
func (s *MemoryBillingStore) ListSnapshots(ctx context.Context, filter BillingSnapshotFilter, page Page) ([]*models.BillingSnapshot, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.BillingSnapshot
	for _, snapshot := range s.snapshots {
		if filter.Status != "" && snapshot.Status != filter.Status {
			continue
		}
		matched = append(matched, snapshot)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	total := len(matched)
	offset := page.Offset()
	if offset >= total {
		return []*models.BillingSnapshot{}, total, nil
	}

	end := offset + page.PageSize
	if end > total {
		end = total
	}

	items := make([]*models.BillingSnapshot, 0, end-offset)
	for _, snapshot := range matched[offset:end] {
		items = append(items, copySnapshot(snapshot))
	}

	return items, total, nil
}

// FindEvent looks up an audit log row by deduplication key.
func (s *MemoryBillingStore) FindEvent(ctx context.Context, provider, eventID string) (*models.BillingWebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, exists := s.events[eventKey{provider: provider, eventID: eventID}]
	if !exists {
		return nil, ErrWebhookEventNotFound
	}

	return copyEvent(event), nil
}

// ApplyEvent upserts the snapshot and appends the processed event row under a
// single lock acquisition.
func (s *MemoryBillingStore) ApplyEvent(ctx context.Context, snapshot *models.BillingSnapshot, event *models.BillingWebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey{provider: event.Provider, eventID: event.EventID}
	if _, exists := s.events[key]; exists {
		return ErrDuplicateWebhookEvent
	}

	s.snapshots[snapshot.OrganizationID] = copySnapshot(snapshot)

	s.nextID++
	stored := copyEvent(event)
	stored.ID = s.nextID
	s.events[key] = stored

	return nil
}

// InsertEvent appends an audit log row, silently ignoring duplicates.
func (s *MemoryBillingStore) InsertEvent(ctx context.Context, event *models.BillingWebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey{provider: event.Provider, eventID: event.EventID}
	if _, exists := s.events[key]; exists {
		return nil
	}

	s.nextID++
	stored := copyEvent(event)
	stored.ID = s.nextID
	s.events[key] = stored

	return nil
}

func copySnapshot(snapshot *models.BillingSnapshot) *models.BillingSnapshot {
	clone := *snapshot
	clone.PlanID = copyStringPtr(snapshot.PlanID)
	clone.PlanSlug = copyStringPtr(snapshot.PlanSlug)
	clone.SubscriptionID = copyStringPtr(snapshot.SubscriptionID)
	clone.CustomerID = copyStringPtr(snapshot.CustomerID)
	clone.LastEventID = copyStringPtr(snapshot.LastEventID)
	clone.CurrentPeriodStart = copyTimePtr(snapshot.CurrentPeriodStart)
	clone.CurrentPeriodEnd = copyTimePtr(snapshot.CurrentPeriodEnd)
	clone.TrialEndsAt = copyTimePtr(snapshot.TrialEndsAt)
	clone.LastEventAt = copyTimePtr(snapshot.LastEventAt)
	return &clone
}

func copyEvent(event *models.BillingWebhookEvent) *models.BillingWebhookEvent {
	clone := *event
	clone.FailureReason = copyStringPtr(event.FailureReason)
	clone.OccurredAt = copyTimePtr(event.OccurredAt)
	if event.Payload != nil {
		clone.Payload = append([]byte(nil), event.Payload...)
	}
	if event.Headers != nil {
		clone.Headers = make(map[string]string, len(event.Headers))
		for k, v := range event.Headers {
			clone.Headers[k] = v
		}
	}
	return &clone
}

func copyTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	t := *value
	return &t
}

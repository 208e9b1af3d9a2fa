package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/servirhq/servir/internal/models"
)

// MemoryOrganizationRequestStore is an in-memory implementation of
// OrganizationRequestStore for development and testing.
type MemoryOrganizationRequestStore struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]*models.OrganizationRequest
}

// NewMemoryOrganizationRequestStore creates a new in-memory organization request store.
func NewMemoryOrganizationRequestStore() *MemoryOrganizationRequestStore {
	return &MemoryOrganizationRequestStore{
		requests: make(map[uuid.UUID]*models.OrganizationRequest),
	}
}

// Create inserts a new organization request.
func (s *MemoryOrganizationRequestStore) Create(ctx context.Context, request *models.OrganizationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[request.ID]; exists {
		return ErrRequestAlreadyExists
	}

	s.requests[request.ID] = copyRequest(request)
	return nil
}

// Get retrieves an organization request by ID.
func (s *MemoryOrganizationRequestStore) Get(ctx context.Context, requestID uuid.UUID) (*models.OrganizationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	request, exists := s.requests[requestID]
	if !exists {
		return nil, ErrRequestNotFound
	}

	return copyRequest(request), nil
}

// Update overwrites an existing organization request.
func (s *MemoryOrganizationRequestStore) Update(ctx context.Context, request *models.OrganizationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[request.ID]; !exists {
		return ErrRequestNotFound
	}

	s.requests[request.ID] = copyRequest(request)
	return nil
}

// FindPendingBySlugPrefix reports whether the requester already has a pending
// request with this slug or a numbered variant of it.
func (s *MemoryOrganizationRequestStore) FindPendingBySlugPrefix(ctx context.Context, requesterUserID, slug string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, request := range s.requests {
		if request.RequesterUserID != requesterUserID {
			continue
		}
		if request.Status != models.OrganizationRequestPending {
			continue
		}
		if request.OrganizationSlug == slug || strings.HasPrefix(request.OrganizationSlug, slug+"-") {
			return true, nil
		}
	}

	return false, nil
}

// ListSlugsWithPrefix returns all request slugs starting with prefix.
func (s *MemoryOrganizationRequestStore) ListSlugsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var slugs []string
	for _, request := range s.requests {
		if strings.HasPrefix(request.OrganizationSlug, prefix) {
			slugs = append(slugs, request.OrganizationSlug)
		}
	}

	return slugs, nil
}

// List returns matching requests ordered newest-first plus the total count.
func (s *MemoryOrganizationRequestStore) List(ctx context.Context, filter OrganizationRequestFilter, page Page) ([]*models.OrganizationRequest, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.OrganizationRequest
	for _, request := range s.requests {
		if filter.RequesterUserID != "" && request.RequesterUserID != filter.RequesterUserID {
			continue
		}
		if filter.Status != "" && request.Status != filter.Status {
			continue
		}
		matched = append(matched, request)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	offset := page.Offset()
	if offset >= total {
		return []*models.OrganizationRequest{}, total, nil
	}

	end := offset + page.PageSize
	if end > total {
		end = total
	}

	items := make([]*models.OrganizationRequest, 0, end-offset)
	for _, request := range matched[offset:end] {
		items = append(items, copyRequest(request))
	}

	return items, total, nil
}

// copyRequest clones a request to avoid external modifications of stored state.
func copyRequest(request *models.OrganizationRequest) *models.OrganizationRequest {
	clone := *request
	clone.DecisionReason = copyStringPtr(request.DecisionReason)
	clone.DecisionedByUserID = copyStringPtr(request.DecisionedByUserID)
	clone.ClerkOrganizationID = copyStringPtr(request.ClerkOrganizationID)
	clone.FailureCode = copyStringPtr(request.FailureCode)
	clone.FailureMessage = copyStringPtr(request.FailureMessage)
	if request.DecisionedAt != nil {
		t := *request.DecisionedAt
		clone.DecisionedAt = &t
	}
	return &clone
}

func copyStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

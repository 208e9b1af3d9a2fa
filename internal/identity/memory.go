package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryGateway is an in-memory Gateway implementation with the same method
// contracts as the Clerk-backed client. It is deterministic: organization,
// membership and invitation ids are sequence-numbered.
//
// Provisioning failure can be exercised without network faults: creating an
// organization whose slug contains "fail-once" fails exactly once, then
// succeeds on retry.
type MemoryGateway struct {
	mu            sync.Mutex
	users         map[string]*User
	organizations map[string]*memoryOrganization
	failedSlugs   map[string]bool

	orgCounter        int
	membershipCounter int
	invitationCounter int
}

type memoryOrganization struct {
	id          string
	name        string
	slug        string
	memberships map[string]*memoryMembership
}

type memoryMembership struct {
	id        string
	userID    string
	role      string
	createdAt time.Time
	updatedAt time.Time
}

// NewMemoryGateway creates an empty in-memory identity gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		users:         make(map[string]*User),
		organizations: make(map[string]*memoryOrganization),
		failedSlugs:   make(map[string]bool),
	}
}

// RegisterUser seeds or updates a user record. The test auth middleware calls
// this so every authenticated caller exists in the gateway.
func (g *MemoryGateway) RegisterUser(userID, email, firstName, lastName string, platformAdmin bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	user := g.ensureUserLocked(userID)
	if email != "" {
		emailID := "email_" + userID
		user.EmailAddresses = []EmailAddress{{ID: emailID, EmailAddress: email}}
		user.PrimaryEmailAddressID = emailID
	}
	user.FirstName = firstName
	user.LastName = lastName
	if platformAdmin {
		user.PrivateMetadata["platformRole"] = PlatformAdminRole
	}
}

// GetUser fetches a user, creating a blank record on first reference so that
// lookups for known-authenticated callers never fail.
func (g *MemoryGateway) GetUser(ctx context.Context, userID string) (*User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return copyUser(g.ensureUserLocked(userID)), nil
}

// GetUserList pages through registered users.
func (g *MemoryGateway) GetUserList(ctx context.Context, params ListParams) (*UserList, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var matched []*User
	for _, user := range g.users {
		if userMatchesQuery(user, params.Query) {
			matched = append(matched, user)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	page := slicePage(matched, params)
	result := &UserList{TotalCount: len(matched)}
	for _, user := range page {
		result.Data = append(result.Data, copyUser(user))
	}
	return result, nil
}

// CreateOrganization provisions an in-memory organization with the creator as
// its admin. Slugs containing "fail-once" fail on the first attempt only.
func (g *MemoryGateway) CreateOrganization(ctx context.Context, params CreateOrganizationParams) (*Organization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	creator := g.ensureUserLocked(params.CreatedBy)

	if strings.Contains(params.Slug, "fail-once") && !g.failedSlugs[params.Slug] {
		g.failedSlugs[params.Slug] = true
		return nil, errors.New("simulated organization creation failure")
	}

	g.orgCounter++
	org := &memoryOrganization{
		id:          fmt.Sprintf("org_%06d", g.orgCounter),
		name:        params.Name,
		slug:        params.Slug,
		memberships: make(map[string]*memoryMembership),
	}

	membership := g.newMembershipLocked(creator.ID, RoleOrgAdmin)
	org.memberships[membership.id] = membership
	g.organizations[org.id] = org

	return &Organization{ID: org.id, Name: org.name, Slug: org.slug}, nil
}

// CreateOrganizationInvitation records a pending invitation.
func (g *MemoryGateway) CreateOrganizationInvitation(ctx context.Context, params CreateInvitationParams) (*Invitation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.organizations[params.OrganizationID]; !exists {
		return nil, ErrOrganizationNotFound
	}
	g.ensureUserLocked(params.InviterUserID)

	g.invitationCounter++
	now := time.Now()
	return &Invitation{
		ID:           fmt.Sprintf("orginv_%06d", g.invitationCounter),
		EmailAddress: params.EmailAddress,
		Role:         NormalizeRole(params.Role),
		Status:       "pending",
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// UpdateOrganizationMembership changes a member's role.
func (g *MemoryGateway) UpdateOrganizationMembership(ctx context.Context, organizationID, userID, role string) (*Membership, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	org, exists := g.organizations[organizationID]
	if !exists {
		return nil, ErrOrganizationNotFound
	}

	for _, membership := range org.memberships {
		if membership.userID == userID {
			membership.role = NormalizeRole(role)
			membership.updatedAt = time.Now()
			return g.membershipRecordLocked(org, membership), nil
		}
	}

	return nil, ErrMembershipNotFound
}

// DeleteOrganizationMembership removes a member.
func (g *MemoryGateway) DeleteOrganizationMembership(ctx context.Context, organizationID, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	org, exists := g.organizations[organizationID]
	if !exists {
		return ErrOrganizationNotFound
	}

	for id, membership := range org.memberships {
		if membership.userID == userID {
			delete(org.memberships, id)
			return nil
		}
	}

	return ErrMembershipNotFound
}

// ListOrganizationMemberships pages through one organization's members.
func (g *MemoryGateway) ListOrganizationMemberships(ctx context.Context, organizationID string, params ListParams) (*MembershipList, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	org, exists := g.organizations[organizationID]
	if !exists {
		return &MembershipList{}, nil
	}

	records := g.sortedMembershipsLocked(org, func(*memoryMembership) bool { return true })
	page := slicePage(records, params)
	return &MembershipList{Data: page, TotalCount: len(records)}, nil
}

// ListUserOrganizationMemberships pages through one user's memberships across
// all organizations.
func (g *MemoryGateway) ListUserOrganizationMemberships(ctx context.Context, userID string, params ListParams) (*MembershipList, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var records []*Membership
	orgIDs := make([]string, 0, len(g.organizations))
	for id := range g.organizations {
		orgIDs = append(orgIDs, id)
	}
	sort.Strings(orgIDs)

	for _, id := range orgIDs {
		org := g.organizations[id]
		records = append(records, g.sortedMembershipsLocked(org, func(m *memoryMembership) bool {
			return m.userID == userID
		})...)
	}

	page := slicePage(records, params)
	return &MembershipList{Data: page, TotalCount: len(records)}, nil
}

func (g *MemoryGateway) ensureUserLocked(userID string) *User {
	if user, exists := g.users[userID]; exists {
		return user
	}
	user := &User{
		ID:              userID,
		CreatedAt:       time.Now(),
		PrivateMetadata: make(map[string]any),
	}
	g.users[userID] = user
	return user
}

func (g *MemoryGateway) newMembershipLocked(userID, role string) *memoryMembership {
	g.membershipCounter++
	now := time.Now()
	return &memoryMembership{
		id:        fmt.Sprintf("orgmem_%06d", g.membershipCounter),
		userID:    userID,
		role:      role,
		createdAt: now,
		updatedAt: now,
	}
}

func (g *MemoryGateway) membershipRecordLocked(org *memoryOrganization, membership *memoryMembership) *Membership {
	user := g.ensureUserLocked(membership.userID)
	return &Membership{
		ID:           membership.id,
		Organization: Organization{ID: org.id, Name: org.name, Slug: org.slug},
		Role:         membership.role,
		PublicUserData: PublicUserData{
			UserID:     user.ID,
			Identifier: user.PrimaryEmail(),
			FirstName:  user.FirstName,
			LastName:   user.LastName,
		},
		CreatedAt: membership.createdAt,
		UpdatedAt: membership.updatedAt,
	}
}

func (g *MemoryGateway) sortedMembershipsLocked(org *memoryOrganization, match func(*memoryMembership) bool) []*Membership {
	var memberships []*memoryMembership
	for _, membership := range org.memberships {
		if match(membership) {
			memberships = append(memberships, membership)
		}
	}
	sort.Slice(memberships, func(i, j int) bool { return memberships[i].id < memberships[j].id })

	records := make([]*Membership, 0, len(memberships))
	for _, membership := range memberships {
		records = append(records, g.membershipRecordLocked(org, membership))
	}
	return records
}

func copyUser(user *User) *User {
	clone := *user
	clone.EmailAddresses = append([]EmailAddress(nil), user.EmailAddresses...)
	clone.PrivateMetadata = make(map[string]any, len(user.PrivateMetadata))
	for k, v := range user.PrivateMetadata {
		clone.PrivateMetadata[k] = v
	}
	return &clone
}

func userMatchesQuery(user *User, query string) bool {
	if query == "" {
		return true
	}
	needle := strings.ToLower(query)
	if strings.Contains(strings.ToLower(user.ID), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(user.FirstName), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(user.LastName), needle) {
		return true
	}
	for _, email := range user.EmailAddresses {
		if strings.Contains(strings.ToLower(email.EmailAddress), needle) {
			return true
		}
	}
	return false
}

func slicePage[T any](items []T, params ListParams) []T {
	offset := params.Offset
	if offset > len(items) {
		offset = len(items)
	}
	end := len(items)
	if params.Limit > 0 && offset+params.Limit < end {
		end = offset + params.Limit
	}
	return items[offset:end]
}

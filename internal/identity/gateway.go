// Package identity wraps the external identity and organization provider
// (Clerk). The Gateway interface is consumed by the approval workflow engine
// and the access control layer; a deterministic in-memory implementation with
// identical semantics backs tests and local development.
package identity

import (
	"context"
	"errors"
	"time"
)

// Organization roles as reported by the provider.
const (
	RoleOrgAdmin  = "org:admin"
	RoleOrgMember = "org:member"
)

// PlatformAdminRole is the out-of-band role marker stored in a user's private
// metadata that grants cross-tenant administrative privileges.
const PlatformAdminRole = "platform_admin"

// Sentinel errors for gateway operations
var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrMembershipNotFound   = errors.New("organization membership not found")
	ErrUserNotFound         = errors.New("user not found")
)

// NormalizeRole collapses any provider role literal into the two roles the
// platform understands. Unknown roles degrade to member.
func NormalizeRole(role string) string {
	if role == RoleOrgAdmin {
		return RoleOrgAdmin
	}
	return RoleOrgMember
}

// EmailAddress is one address attached to a provider user record.
type EmailAddress struct {
	ID           string
	EmailAddress string
}

// User is a provider user record.
type User struct {
	ID                    string
	EmailAddresses        []EmailAddress
	PrimaryEmailAddressID string
	FirstName             string
	LastName              string
	Banned                bool
	CreatedAt             time.Time
	PrivateMetadata       map[string]any
}

// PrimaryEmail resolves the user's primary email address, empty when unset.
func (u *User) PrimaryEmail() string {
	if u.PrimaryEmailAddressID == "" {
		return ""
	}
	for _, email := range u.EmailAddresses {
		if email.ID == u.PrimaryEmailAddressID {
			return email.EmailAddress
		}
	}
	return ""
}

// PlatformRole extracts the platform role marker from private metadata,
// accepting both camelCase and snake_case keys.
func (u *User) PlatformRole() string {
	for _, key := range []string{"platformRole", "platform_role"} {
		if value, ok := u.PrivateMetadata[key].(string); ok {
			return value
		}
	}
	return ""
}

// Organization is a provider organization (tenant) record.
type Organization struct {
	ID   string
	Name string
	Slug string
}

// PublicUserData is the membership-embedded subset of a user record.
type PublicUserData struct {
	UserID     string
	Identifier string
	FirstName  string
	LastName   string
}

// Membership is a provider organization membership record.
type Membership struct {
	ID             string
	Organization   Organization
	Role           string
	PublicUserData PublicUserData
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Invitation is a provider organization invitation record.
type Invitation struct {
	ID           string
	EmailAddress string
	Role         string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateOrganizationParams are the inputs to organization provisioning.
type CreateOrganizationParams struct {
	Name                  string
	Slug                  string
	CreatedBy             string
	MaxAllowedMemberships int
}

// CreateInvitationParams are the inputs to an organization invitation.
type CreateInvitationParams struct {
	OrganizationID string
	InviterUserID  string
	EmailAddress   string
	Role           string
}

// ListParams control offset pagination against the provider.
type ListParams struct {
	Limit  int
	Offset int
	Query  string
}

// UserList is a page of user records plus the provider's total count.
type UserList struct {
	Data       []*User
	TotalCount int
}

// MembershipList is a page of membership records plus the provider's total count.
type MembershipList struct {
	Data       []*Membership
	TotalCount int
}

// Gateway is the identity provider contract. Every operation is fallible;
// callers must treat any returned error as a provider failure, never a crash.
type Gateway interface {
	// GetUser fetches a single user record.
	GetUser(ctx context.Context, userID string) (*User, error)

	// GetUserList pages through provider users, optionally filtered by query.
	GetUserList(ctx context.Context, params ListParams) (*UserList, error)

	// CreateOrganization provisions a real tenant organization with the
	// requester as its initial admin.
	CreateOrganization(ctx context.Context, params CreateOrganizationParams) (*Organization, error)

	// CreateOrganizationInvitation invites an email address into an organization.
	CreateOrganizationInvitation(ctx context.Context, params CreateInvitationParams) (*Invitation, error)

	// UpdateOrganizationMembership changes a member's role.
	// Returns ErrMembershipNotFound when the user is not a member.
	UpdateOrganizationMembership(ctx context.Context, organizationID, userID, role string) (*Membership, error)

	// DeleteOrganizationMembership removes a member from an organization.
	// Returns ErrMembershipNotFound when the user is not a member.
	DeleteOrganizationMembership(ctx context.Context, organizationID, userID string) error

	// ListOrganizationMemberships pages through an organization's members.
	ListOrganizationMemberships(ctx context.Context, organizationID string, params ListParams) (*MembershipList, error)

	// ListUserOrganizationMemberships pages through one user's memberships.
	ListUserOrganizationMemberships(ctx context.Context, userID string, params ListParams) (*MembershipList, error)
}

package access

import (
	"context"
	"time"

	"github.com/servirhq/servir/internal/apierror"
	"github.com/servirhq/servir/internal/auth"
	"github.com/servirhq/servir/internal/identity"
	"github.com/servirhq/servir/internal/models"
	"github.com/servirhq/servir/internal/store"
)

// membershipLookupLimit bounds the membership scan used to resolve a
// membership id to a user id, since the provider only addresses memberships
// by (organization, user).
const membershipLookupLimit = 500

// userMembershipLimit bounds the per-user membership expansion in the
// platform user listing.
const userMembershipLimit = 200

// Me is the caller's own identity as derived by the access control layer.
type Me struct {
	UserID                 string `json:"userId"`
	Email                  string `json:"email"`
	FirstName              string `json:"firstName"`
	LastName               string `json:"lastName"`
	IsPlatformAdmin        bool   `json:"isPlatformAdmin"`
	ActiveOrganizationID   string `json:"activeOrganizationId"`
	ActiveOrganizationRole string `json:"activeOrganizationRole"`
}

// PlatformUser is one row of the platform user listing.
type PlatformUser struct {
	UserID                  string              `json:"userId"`
	Email                   string              `json:"email"`
	FirstName               string              `json:"firstName"`
	LastName                string              `json:"lastName"`
	Banned                  bool                `json:"banned"`
	CreatedAt               time.Time           `json:"createdAt"`
	OrganizationMemberships []UserOrgMembership `json:"organizationMemberships"`
}

// UserOrgMembership summarises one membership in the platform user listing.
type UserOrgMembership struct {
	OrganizationID   string `json:"organizationId"`
	OrganizationName string `json:"organizationName"`
	Role             string `json:"role"`
}

// PlatformUserList is a page of platform users.
type PlatformUserList struct {
	Items []PlatformUser  `json:"items"`
	Meta  models.PageMeta `json:"meta"`
}

// OrganizationMember is one member of an organization.
type OrganizationMember struct {
	MembershipID   string    `json:"membershipId"`
	OrganizationID string    `json:"organizationId"`
	UserID         string    `json:"userId"`
	Email          string    `json:"email"`
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// OrganizationMemberList is a page of organization members.
type OrganizationMemberList struct {
	Items []OrganizationMember `json:"items"`
	Meta  models.PageMeta      `json:"meta"`
}

// InvitationResponse is the result of creating an organization invitation.
type InvitationResponse struct {
	ID           string    `json:"id"`
	EmailAddress string    `json:"emailAddress"`
	Role         string    `json:"role"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// MemberMutationResponse is the result of a member role change.
type MemberMutationResponse struct {
	MembershipID   string    `json:"membershipId"`
	OrganizationID string    `json:"organizationId"`
	UserID         string    `json:"userId"`
	Role           string    `json:"role"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// MemberDeleteResponse is the result of removing a member.
type MemberDeleteResponse struct {
	MembershipID   string    `json:"membershipId"`
	OrganizationID string    `json:"organizationId"`
	UserID         string    `json:"userId"`
	RemovedAt      time.Time `json:"removedAt"`
}

// GetMe echoes the caller's authorization context.
func (s *Service) GetMe(authCtx *auth.Context) *Me {
	return &Me{
		UserID:                 authCtx.UserID,
		Email:                  authCtx.Email,
		FirstName:              authCtx.FirstName,
		LastName:               authCtx.LastName,
		IsPlatformAdmin:        authCtx.IsPlatformAdmin,
		ActiveOrganizationID:   authCtx.ActiveOrganizationID,
		ActiveOrganizationRole: authCtx.ActiveOrganizationRole,
	}
}

// ListPlatformUsers pages through provider users, expanding each user's
// organization memberships.
func (s *Service) ListPlatformUsers(ctx context.Context, query string, page store.Page) (*PlatformUserList, error) {
	users, err := s.gateway.GetUserList(ctx, identity.ListParams{
		Limit:  page.PageSize,
		Offset: page.Offset(),
		Query:  query,
	})
	if err != nil {
		return nil, apierror.Internal(err)
	}

	items := make([]PlatformUser, 0, len(users.Data))
	for _, user := range users.Data {
		memberships, err := s.gateway.ListUserOrganizationMemberships(ctx, user.ID,
			identity.ListParams{Limit: userMembershipLimit})
		if err != nil {
			return nil, apierror.Internal(err)
		}

		row := PlatformUser{
			UserID:                  user.ID,
			Email:                   user.PrimaryEmail(),
			FirstName:               user.FirstName,
			LastName:                user.LastName,
			Banned:                  user.Banned,
			CreatedAt:               user.CreatedAt,
			OrganizationMemberships: []UserOrgMembership{},
		}
		for _, membership := range memberships.Data {
			row.OrganizationMemberships = append(row.OrganizationMemberships, UserOrgMembership{
				OrganizationID:   membership.Organization.ID,
				OrganizationName: membership.Organization.Name,
				Role:             identity.NormalizeRole(membership.Role),
			})
		}
		items = append(items, row)
	}

	return &PlatformUserList{
		Items: items,
		Meta:  models.NewPageMeta(page.Page, page.PageSize, users.TotalCount),
	}, nil
}

// ListOrganizationMembers pages through one organization's members.
func (s *Service) ListOrganizationMembers(ctx context.Context, organizationID string, page store.Page) (*OrganizationMemberList, error) {
	memberships, err := s.gateway.ListOrganizationMemberships(ctx, organizationID, identity.ListParams{
		Limit:  page.PageSize,
		Offset: page.Offset(),
	})
	if err != nil {
		return nil, apierror.Internal(err)
	}

	items := make([]OrganizationMember, 0, len(memberships.Data))
	for _, membership := range memberships.Data {
		items = append(items, OrganizationMember{
			MembershipID:   membership.ID,
			OrganizationID: organizationID,
			UserID:         membership.PublicUserData.UserID,
			Email:          membership.PublicUserData.Identifier,
			FirstName:      membership.PublicUserData.FirstName,
			LastName:       membership.PublicUserData.LastName,
			Role:           identity.NormalizeRole(membership.Role),
			CreatedAt:      membership.CreatedAt,
			UpdatedAt:      membership.UpdatedAt,
		})
	}

	return &OrganizationMemberList{
		Items: items,
		Meta:  models.NewPageMeta(page.Page, page.PageSize, memberships.TotalCount),
	}, nil
}

// CreateOrganizationInvitation invites an email address into the organization.
func (s *Service) CreateOrganizationInvitation(ctx context.Context, organizationID, inviterUserID, emailAddress, role string) (*InvitationResponse, error) {
	invitation, err := s.gateway.CreateOrganizationInvitation(ctx, identity.CreateInvitationParams{
		OrganizationID: organizationID,
		InviterUserID:  inviterUserID,
		EmailAddress:   emailAddress,
		Role:           identity.NormalizeRole(role),
	})
	if err != nil {
		return nil, apierror.Internal(err)
	}

	return &InvitationResponse{
		ID:           invitation.ID,
		EmailAddress: invitation.EmailAddress,
		Role:         identity.NormalizeRole(invitation.Role),
		Status:       invitation.Status,
		CreatedAt:    invitation.CreatedAt,
		UpdatedAt:    invitation.UpdatedAt,
	}, nil
}

// UpdateOrganizationMemberRole changes a member's role, addressed by the
// provider's membership id.
func (s *Service) UpdateOrganizationMemberRole(ctx context.Context, organizationID, membershipID, role string) (*MemberMutationResponse, error) {
	membership, err := s.findMembershipByID(ctx, organizationID, membershipID)
	if err != nil {
		return nil, err
	}

	updated, err := s.gateway.UpdateOrganizationMembership(ctx, organizationID,
		membership.PublicUserData.UserID, identity.NormalizeRole(role))
	if err != nil {
		return nil, apierror.Internal(err)
	}

	userID := updated.PublicUserData.UserID
	if userID == "" {
		userID = membership.PublicUserData.UserID
	}

	return &MemberMutationResponse{
		MembershipID:   updated.ID,
		OrganizationID: organizationID,
		UserID:         userID,
		Role:           identity.NormalizeRole(updated.Role),
		UpdatedAt:      updated.UpdatedAt,
	}, nil
}

// DeleteOrganizationMember removes a member, addressed by membership id.
func (s *Service) DeleteOrganizationMember(ctx context.Context, organizationID, membershipID string) (*MemberDeleteResponse, error) {
	membership, err := s.findMembershipByID(ctx, organizationID, membershipID)
	if err != nil {
		return nil, err
	}

	if err := s.gateway.DeleteOrganizationMembership(ctx, organizationID, membership.PublicUserData.UserID); err != nil {
		return nil, apierror.Internal(err)
	}

	return &MemberDeleteResponse{
		MembershipID:   membership.ID,
		OrganizationID: organizationID,
		UserID:         membership.PublicUserData.UserID,
		RemovedAt:      time.Now(),
	}, nil
}

func (s *Service) findMembershipByID(ctx context.Context, organizationID, membershipID string) (*identity.Membership, error) {
	memberships, err := s.gateway.ListOrganizationMemberships(ctx, organizationID,
		identity.ListParams{Limit: membershipLookupLimit})
	if err != nil {
		return nil, apierror.Internal(err)
	}

	for _, membership := range memberships.Data {
		if membership.ID == membershipID && membership.PublicUserData.UserID != "" {
			return membership, nil
		}
	}

	return nil, apierror.NotFound("Organization membership not found.")
}

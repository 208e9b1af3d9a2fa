package access

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/servirhq/servir/internal/apierror"
	"github.com/servirhq/servir/internal/auth"
	"github.com/servirhq/servir/internal/identity"
	"github.com/servirhq/servir/internal/store"
)

func seedOrganization(t *testing.T, gateway *identity.MemoryGateway, name, slug, adminUserID string) *identity.Organization {
	t.Helper()

	gateway.RegisterUser(adminUserID, adminUserID+"@example.com", "", "", false)
	org, err := gateway.CreateOrganization(context.Background(), identity.CreateOrganizationParams{
		Name:      name,
		Slug:      slug,
		CreatedBy: adminUserID,
	})
	require.NoError(t, err)
	return org
}

func TestGetMe(t *testing.T) {
	service, _, _ := newTestService()

	me := service.GetMe(&auth.Context{
		UserID:                 "user_1",
		Email:                  "user_1@example.com",
		FirstName:              "Ada",
		LastName:               "Lovelace",
		IsPlatformAdmin:        true,
		ActiveOrganizationID:   "org_000001",
		ActiveOrganizationRole: identity.RoleOrgAdmin,
	})

	require.Equal(t, "user_1", me.UserID)
	require.Equal(t, "user_1@example.com", me.Email)
	require.Equal(t, "Ada", me.FirstName)
	require.Equal(t, "Lovelace", me.LastName)
	require.True(t, me.IsPlatformAdmin)
	require.Equal(t, "org_000001", me.ActiveOrganizationID)
	require.Equal(t, identity.RoleOrgAdmin, me.ActiveOrganizationRole)
}

func TestListPlatformUsers(t *testing.T) {
	ctx := context.Background()

	t.Run("expands organization memberships per user", func(t *testing.T) {
		service, _, gateway := newTestService()

		org := seedOrganization(t, gateway, "Acme Corp", "acme-corp", "user_1")
		gateway.RegisterUser("user_2", "user_2@example.com", "Grace", "Hopper", false)

		result, err := service.ListPlatformUsers(ctx, "", store.Page{Page: 1, PageSize: 20})
		require.NoError(t, err)
		require.Len(t, result.Items, 2)
		require.Equal(t, 2, result.Meta.Total)

		require.Equal(t, "user_1", result.Items[0].UserID)
		require.Len(t, result.Items[0].OrganizationMemberships, 1)
		require.Equal(t, org.ID, result.Items[0].OrganizationMemberships[0].OrganizationID)
		require.Equal(t, "Acme Corp", result.Items[0].OrganizationMemberships[0].OrganizationName)
		require.Equal(t, identity.RoleOrgAdmin, result.Items[0].OrganizationMemberships[0].Role)

		require.Equal(t, "user_2", result.Items[1].UserID)
		require.Empty(t, result.Items[1].OrganizationMemberships)
	})

	t.Run("filters by query", func(t *testing.T) {
		service, _, gateway := newTestService()

		gateway.RegisterUser("user_1", "ada@example.com", "Ada", "Lovelace", false)
		gateway.RegisterUser("user_2", "grace@example.com", "Grace", "Hopper", false)

		result, err := service.ListPlatformUsers(ctx, "grace", store.Page{Page: 1, PageSize: 20})
		require.NoError(t, err)
		require.Len(t, result.Items, 1)
		require.Equal(t, "user_2", result.Items[0].UserID)
		require.Equal(t, "grace@example.com", result.Items[0].Email)
	})
}

func TestListOrganizationMembers(t *testing.T) {
	ctx := context.Background()
	service, _, gateway := newTestService()

	org := seedOrganization(t, gateway, "Acme Corp", "acme-corp", "user_1")

	result, err := service.ListOrganizationMembers(ctx, org.ID, store.Page{Page: 1, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Equal(t, 1, result.Meta.Total)
	require.Equal(t, org.ID, result.Items[0].OrganizationID)
	require.Equal(t, "user_1", result.Items[0].UserID)
	require.Equal(t, "user_1@example.com", result.Items[0].Email)
	require.Equal(t, identity.RoleOrgAdmin, result.Items[0].Role)
}

func TestCreateOrganizationInvitation(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending invitation", func(t *testing.T) {
		service, _, gateway := newTestService()
		org := seedOrganization(t, gateway, "Acme Corp", "acme-corp", "user_1")

		invitation, err := service.CreateOrganizationInvitation(ctx, org.ID, "user_1", "new.hire@example.com", "")
		require.NoError(t, err)
		require.NotEmpty(t, invitation.ID)
		require.Equal(t, "new.hire@example.com", invitation.EmailAddress)
		require.Equal(t, identity.RoleOrgMember, invitation.Role)
		require.Equal(t, "pending", invitation.Status)
	})

	t.Run("normalizes unknown roles to member", func(t *testing.T) {
		service, _, gateway := newTestService()
		org := seedOrganization(t, gateway, "Acme Corp", "acme-corp", "user_1")

		invitation, err := service.CreateOrganizationInvitation(ctx, org.ID, "user_1", "new.hire@example.com", "org:owner")
		require.NoError(t, err)
		require.Equal(t, identity.RoleOrgMember, invitation.Role)
	})
}

func TestUpdateOrganizationMemberRole(t *testing.T) {
	ctx := context.Background()

	t.Run("changes the member role", func(t *testing.T) {
		service, _, gateway := newTestService()
		org := seedOrganization(t, gateway, "Acme Corp", "acme-corp", "user_1")

		members, err := service.ListOrganizationMembers(ctx, org.ID, store.Page{Page: 1, PageSize: 20})
		require.NoError(t, err)
		membershipID := members.Items[0].MembershipID

		updated, err := service.UpdateOrganizationMemberRole(ctx, org.ID, membershipID, identity.RoleOrgMember)
		require.NoError(t, err)
		require.Equal(t, membershipID, updated.MembershipID)
		require.Equal(t, "user_1", updated.UserID)
		require.Equal(t, identity.RoleOrgMember, updated.Role)
	})

	t.Run("unknown membership id returns not found", func(t *testing.T) {
		service, _, gateway := newTestService()
		org := seedOrganization(t, gateway, "Acme Corp", "acme-corp", "user_1")

		_, err := service.UpdateOrganizationMemberRole(ctx, org.ID, "orgmem_999999", identity.RoleOrgAdmin)
		require.Error(t, err)
		require.Equal(t, http.StatusNotFound, apierror.From(err).Status)
	})
}

func TestDeleteOrganizationMember(t *testing.T) {
	ctx := context.Background()

	t.Run("removes the member", func(t *testing.T) {
		service, _, gateway := newTestService()
		org := seedOrganization(t, gateway, "Acme Corp", "acme-corp", "user_1")

		members, err := service.ListOrganizationMembers(ctx, org.ID, store.Page{Page: 1, PageSize: 20})
		require.NoError(t, err)
		membershipID := members.Items[0].MembershipID

		removed, err := service.DeleteOrganizationMember(ctx, org.ID, membershipID)
		require.NoError(t, err)
		require.Equal(t, membershipID, removed.MembershipID)
		require.Equal(t, "user_1", removed.UserID)

		members, err = service.ListOrganizationMembers(ctx, org.ID, store.Page{Page: 1, PageSize: 20})
		require.NoError(t, err)
		require.Empty(t, members.Items)
	})

	t.Run("unknown membership id returns not found", func(t *testing.T) {
		service, _, gateway := newTestService()
		org := seedOrganization(t, gateway, "Acme Corp", "acme-corp", "user_1")

		_, err := service.DeleteOrganizationMember(ctx, org.ID, "orgmem_999999")
		require.Error(t, err)
		require.Equal(t, http.StatusNotFound, apierror.From(err).Status)
	})
}

package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/servirhq/servir/internal/apierror"
	"github.com/servirhq/servir/internal/auth"
	"github.com/servirhq/servir/internal/identity"
	"github.com/servirhq/servir/internal/models"
	"github.com/servirhq/servir/internal/store"
)

func newTestService() (*Service, *store.MemoryOrganizationRequestStore, *identity.MemoryGateway) {
	requests := store.NewMemoryOrganizationRequestStore()
	gateway := identity.NewMemoryGateway()
	return NewService(requests, gateway, nil), requests, gateway
}

func requesterCtx(userID string) *auth.Context {
	return &auth.Context{UserID: userID, Email: userID + "@example.com"}
}

func TestCreateRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending request with derived slug", func(t *testing.T) {
		service, _, _ := newTestService()

		request, err := service.CreateRequest(ctx, requesterCtx("user_1"), CreateRequestInput{
			OrganizationName: "Acme Corp",
			Justification:    "We need a tenant for the Acme rollout.",
		})
		require.NoError(t, err)
		require.Equal(t, models.OrganizationRequestPending, request.Status)
		require.Equal(t, "acme-corp", request.OrganizationSlug)
		require.Equal(t, "user_1", request.RequesterUserID)
		require.Equal(t, "user_1@example.com", request.RequesterEmail)
		require.Nil(t, request.DecisionedAt)
	})

	t.Run("rejects second pending request for the same slug", func(t *testing.T) {
		service, _, _ := newTestService()

		_, err := service.CreateRequest(ctx, requesterCtx("user_1"), CreateRequestInput{
			OrganizationName: "Acme Corp",
			Justification:    "We need a tenant for the Acme rollout.",
		})
		require.NoError(t, err)

		_, err = service.CreateRequest(ctx, requesterCtx("user_1"), CreateRequestInput{
			OrganizationName: "Acme Corp",
			Justification:    "Second attempt while the first is pending.",
		})
		require.Error(t, err)

		apiErr := apierror.From(err)
		require.Equal(t, apierror.CodePendingRequestExists, apiErr.Code)
		require.Equal(t, 409, apiErr.Status)
	})

	t.Run("another requester gets a numbered slug", func(t *testing.T) {
		service, _, _ := newTestService()

		first, err := service.CreateRequest(ctx, requesterCtx("user_1"), CreateRequestInput{
			OrganizationName: "Acme Corp",
			Justification:    "We need a tenant for the Acme rollout.",
		})
		require.NoError(t, err)
		require.Equal(t, "acme-corp", first.OrganizationSlug)

		second, err := service.CreateRequest(ctx, requesterCtx("user_2"), CreateRequestInput{
			OrganizationName: "Acme Corp",
			Justification:    "A different team also wants an Acme tenant.",
		})
		require.NoError(t, err)
		require.Equal(t, "acme-corp-2", second.OrganizationSlug)

		third, err := service.CreateRequest(ctx, requesterCtx("user_3"), CreateRequestInput{
			OrganizationName: "Acme Corp",
			Justification:    "And a third one for good measure.",
		})
		require.NoError(t, err)
		require.Equal(t, "acme-corp-3", third.OrganizationSlug)
	})
}

func TestApprove(t *testing.T) {
	ctx := context.Background()

	t.Run("provisions organization and lands in approved", func(t *testing.T) {
		service, _, _ := newTestService()

		request, err := service.CreateRequest(ctx, requesterCtx("user_1"), CreateRequestInput{
			OrganizationName: "Acme Corp",
			Justification:    "We need a tenant for the Acme rollout.",
		})
		require.NoError(t, err)

		approved, err := service.Approve(ctx, request.ID, "admin_1", "looks good")
		require.NoError(t, err)
		require.Equal(t, models.OrganizationRequestApproved, approved.Status)
		require.NotNil(t, approved.ClerkOrganizationID)
		require.NotEmpty(t, *approved.ClerkOrganizationID)
		require.NotNil(t, approved.DecisionedByUserID)
		require.Equal(t, "admin_1", *approved.DecisionedByUserID)
		require.NotNil(t, approved.DecisionReason)
		require.Equal(t, "looks good", *approved.DecisionReason)
		require.Nil(t, approved.FailureCode)
	})

	t.Run("rejects non-pending request", func(t *testing.T) {
		service, _, _ := newTestService()

		request, err := service.CreateRequest(ctx, requesterCtx("user_1"), CreateRequestInput{
			OrganizationName: "Acme Corp",
			Justification:    "We need a tenant for the Acme rollout.",
		})
		require.NoError(t, err)

		_, err = service.Approve(ctx, request.ID, "admin_1", "")
		require.NoError(t, err)

		_, err = service.Approve(ctx, request.ID, "admin_1", "")
		require.Error(t, err)
		require.Equal(t, apierror.CodeInvalidRequestState, apierror.From(err).Code)
	})

	t.Run("provisioning failure lands in failed and stays retryable", func(t *testing.T) {
		service, requests, _ := newTestService()

		request, err := service.CreateRequest(ctx, requesterCtx("user_1"), CreateRequestInput{
			OrganizationName: "Fail Once Labs",
			Justification:    "Provisioning for this slug fails on the first try.",
		})
		require.NoError(t, err)
		require.Equal(t, "fail-once-labs", request.OrganizationSlug)

		_, err = service.Approve(ctx, request.ID, "admin_1", "")
		require.Error(t, err)

		apiErr := apierror.From(err)
		require.Equal(t, apierror.CodeClerkOperationFailed, apiErr.Code)
		require.Equal(t, 502, apiErr.Status)

		stored, err := requests.Get(ctx, request.ID)
		require.NoError(t, err)
		require.Equal(t, models.OrganizationRequestFailed, stored.Status)
		require.NotNil(t, stored.FailureCode)
		require.Equal(t, FailureCodeProvisioning, *stored.FailureCode)
		require.NotNil(t, stored.FailureMessage)
		require.Nil(t, stored.ClerkOrganizationID)

		// A retry succeeds because the simulated failure fires only once.
		retried, err := service.RetryApprove(ctx, request.ID, "admin_1", "retrying after outage")
		require.NoError(t, err)
		require.Equal(t, models.OrganizationRequestApproved, retried.Status)
		require.Nil(t, retried.FailureCode)
		require.Nil(t, retried.FailureMessage)
		require.NotNil(t, retried.ClerkOrganizationID)
	})

	t.Run("retry rejects non-failed request", func(t *testing.T) {
		service, _, _ := newTestService()

		request, err := service.CreateRequest(ctx, requesterCtx("user_1"), CreateRequestInput{
			OrganizationName: "Acme Corp",
			Justification:    "We need a tenant for the Acme rollout.",
		})
		require.NoError(t, err)

		_, err = service.RetryApprove(ctx, request.ID, "admin_1", "")
		require.Error(t, err)
		require.Equal(t, apierror.CodeInvalidRequestState, apierror.From(err).Code)
	})
}

func TestDeny(t *testing.T) {
	ctx := context.Background()

	t.Run("denies pending request with reason", func(t *testing.T) {
		service, _, _ := newTestService()

		request, err := service.CreateRequest(ctx, requesterCtx("user_1"), CreateRequestInput{
			OrganizationName: "Acme Corp",
			Justification:    "We need a tenant for the Acme rollout.",
		})
		require.NoError(t, err)

		denied, err := service.Deny(ctx, request.ID, "admin_1", "not approved for this quarter")
		require.NoError(t, err)
		require.Equal(t, models.OrganizationRequestDenied, denied.Status)
		require.NotNil(t, denied.DecisionReason)
		require.Equal(t, "not approved for this quarter", *denied.DecisionReason)
	})

	t.Run("denying a failed request clears failure fields", func(t *testing.T) {
		service, requests, _ := newTestService()

		request, err := service.CreateRequest(ctx, requesterCtx("user_1"), CreateRequestInput{
			OrganizationName: "Fail Once Labs",
			Justification:    "Provisioning for this slug fails on the first try.",
		})
		require.NoError(t, err)

		_, err = service.Approve(ctx, request.ID, "admin_1", "")
		require.Error(t, err)

		denied, err := service.Deny(ctx, request.ID, "admin_1", "giving up on this one")
		require.NoError(t, err)
		require.Equal(t, models.OrganizationRequestDenied, denied.Status)
		require.Nil(t, denied.FailureCode)
		require.Nil(t, denied.FailureMessage)

		stored, err := requests.Get(ctx, request.ID)
		require.NoError(t, err)
		require.Nil(t, stored.FailureCode)
		require.Nil(t, stored.FailureMessage)
	})

	t.Run("rejects denying an approved request", func(t *testing.T) {
		service, _, _ := newTestService()

		request, err := service.CreateRequest(ctx, requesterCtx("user_1"), CreateRequestInput{
			OrganizationName: "Acme Corp",
			Justification:    "We need a tenant for the Acme rollout.",
		})
		require.NoError(t, err)

		_, err = service.Approve(ctx, request.ID, "admin_1", "")
		require.NoError(t, err)

		_, err = service.Deny(ctx, request.ID, "admin_1", "too late")
		require.Error(t, err)
		require.Equal(t, apierror.CodeInvalidRequestState, apierror.From(err).Code)
	})
}

func TestListRequests(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService()

	for range 3 {
		_, err := service.CreateRequest(ctx, requesterCtx("user_1"), CreateRequestInput{
			OrganizationName: "Acme Corp",
			Justification:    "We need a tenant for the Acme rollout.",
		})
		require.NoError(t, err)

		// Each of user_1's pending requests must target a distinct slug.
		denyLatest(t, service)
	}
	_, err := service.CreateRequest(ctx, requesterCtx("user_2"), CreateRequestInput{
		OrganizationName: "Beta Industries",
		Justification:    "A second tenant for the beta programme.",
	})
	require.NoError(t, err)

	t.Run("scopes to requester", func(t *testing.T) {
		list, err := service.ListMyRequests(ctx, requesterCtx("user_1"), "", store.Page{Page: 1, PageSize: 20})
		require.NoError(t, err)
		require.Len(t, list.Items, 3)
		require.Equal(t, 3, list.Meta.Total)
	})

	t.Run("platform list sees everything", func(t *testing.T) {
		list, err := service.ListPlatformRequests(ctx, "", store.Page{Page: 1, PageSize: 20})
		require.NoError(t, err)
		require.Len(t, list.Items, 4)
	})

	t.Run("filters by status", func(t *testing.T) {
		list, err := service.ListPlatformRequests(ctx, models.OrganizationRequestPending, store.Page{Page: 1, PageSize: 20})
		require.NoError(t, err)
		require.Len(t, list.Items, 1)
		require.Equal(t, "user_2", list.Items[0].RequesterUserID)
	})

	t.Run("paginates with correct meta", func(t *testing.T) {
		list, err := service.ListPlatformRequests(ctx, "", store.Page{Page: 2, PageSize: 3})
		require.NoError(t, err)
		require.Len(t, list.Items, 1)
		require.Equal(t, 4, list.Meta.Total)
		require.Equal(t, 2, list.Meta.TotalPages)
	})

	t.Run("empty result has zero total pages", func(t *testing.T) {
		list, err := service.ListMyRequests(ctx, requesterCtx("user_none"), "", store.Page{Page: 1, PageSize: 20})
		require.NoError(t, err)
		require.Empty(t, list.Items)
		require.Equal(t, 0, list.Meta.TotalPages)
	})
}

// denyLatest denies user_1's newest pending request so the next create does
// not trip the pending-duplicate check.
func denyLatest(t *testing.T, service *Service) {
	t.Helper()
	ctx := context.Background()

	list, err := service.ListMyRequests(ctx, requesterCtx("user_1"), models.OrganizationRequestPending, store.Page{Page: 1, PageSize: 1})
	require.NoError(t, err)
	require.NotEmpty(t, list.Items)

	_, err = service.Deny(ctx, list.Items[0].ID, "admin_1", "cleared for test setup")
	require.NoError(t, err)
}

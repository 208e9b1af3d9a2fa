package auth

import (
	"context"

	"github.com/servirhq/servir/internal/apierror"
	"github.com/servirhq/servir/internal/identity"
)

// membershipPageSize bounds the membership lookup used by the org admin
// check. Organizations larger than this must rely on the session claim.
const membershipPageSize = 200

// RequirePlatformAdmin checks the cross-tenant admin flag.
func RequirePlatformAdmin(authCtx *Context) error {
	if authCtx == nil {
		return apierror.Unauthorized("Authentication required.")
	}
	if !authCtx.IsPlatformAdmin {
		return apierror.Forbidden("Platform administrator permission is required.")
	}
	return nil
}

// RequireOrgAdmin checks that the caller administers the given organization.
// The session claim is authoritative when it names the organization; when the
// session carries no org context the caller's membership list is consulted.
// Platform admins always pass.
func RequireOrgAdmin(ctx context.Context, gateway identity.Gateway, authCtx *Context, organizationID string) error {
	if authCtx == nil {
		return apierror.Unauthorized("Authentication required.")
	}
	if organizationID == "" {
		return apierror.BadRequest(apierror.CodeBadRequest, "Missing organization id route parameter.")
	}
	if authCtx.IsPlatformAdmin {
		return nil
	}

	if authCtx.ActiveOrganizationID == organizationID &&
		authCtx.ActiveOrganizationRole == identity.RoleOrgAdmin {
		return nil
	}

	memberships, err := gateway.ListUserOrganizationMemberships(ctx, authCtx.UserID,
		identity.ListParams{Limit: membershipPageSize})
	if err != nil {
		return apierror.Internal(err)
	}

	for _, membership := range memberships.Data {
		if membership.Organization.ID == organizationID && membership.Role == identity.RoleOrgAdmin {
			return nil
		}
	}

	return apierror.Forbidden("Organization administrator permission is required.")
}

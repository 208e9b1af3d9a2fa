package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/servirhq/servir/internal/identity"
)

func testPayload() TestAuthPayload {
	now := time.Now().Unix()
	return TestAuthPayload{
		UserID:                 "user_1",
		Email:                  "user_1@example.com",
		FirstName:              "Ada",
		LastName:               "Lovelace",
		PlatformRole:           identity.PlatformAdminRole,
		ActiveOrganizationID:   "org_1",
		ActiveOrganizationRole: identity.RoleOrgAdmin,
		IssuedAt:               now,
		ExpiresAt:              now + 300,
	}
}

func TestTestAuthFromRequest(t *testing.T) {
	testAuth := &TestAuth{Enabled: true, Secret: "servir-e2e-secret"}

	t.Run("round trips a signed payload", func(t *testing.T) {
		header, err := testAuth.EncodeHeader(testPayload())
		require.NoError(t, err)

		r := httptest.NewRequest("GET", "/api/v1/auth/me", nil)
		r.Header.Set(TestAuthHeader, header)

		authCtx, found, err := testAuth.FromRequest(r)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "user_1", authCtx.UserID)
		require.Equal(t, "user_1@example.com", authCtx.Email)
		require.True(t, authCtx.IsPlatformAdmin)
		require.Equal(t, "org_1", authCtx.ActiveOrganizationID)
		require.Equal(t, identity.RoleOrgAdmin, authCtx.ActiveOrganizationRole)
	})

	t.Run("absent header is not an error", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/auth/me", nil)

		authCtx, found, err := testAuth.FromRequest(r)
		require.NoError(t, err)
		require.False(t, found)
		require.Nil(t, authCtx)
	})

	t.Run("rejects a signature from a different secret", func(t *testing.T) {
		other := &TestAuth{Enabled: true, Secret: "another-secret"}
		header, err := other.EncodeHeader(testPayload())
		require.NoError(t, err)

		r := httptest.NewRequest("GET", "/api/v1/auth/me", nil)
		r.Header.Set(TestAuthHeader, header)

		_, _, err = testAuth.FromRequest(r)
		require.Error(t, err)
	})

	t.Run("rejects a malformed header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/auth/me", nil)
		r.Header.Set(TestAuthHeader, "no-dot-separator")

		_, _, err := testAuth.FromRequest(r)
		require.Error(t, err)
	})

	t.Run("rejects an expired payload", func(t *testing.T) {
		payload := testPayload()
		payload.ExpiresAt = time.Now().Unix() - 10
		header, err := testAuth.EncodeHeader(payload)
		require.NoError(t, err)

		r := httptest.NewRequest("GET", "/api/v1/auth/me", nil)
		r.Header.Set(TestAuthHeader, header)

		_, _, err = testAuth.FromRequest(r)
		require.Error(t, err)
	})

	t.Run("rejects a payload without userId", func(t *testing.T) {
		payload := testPayload()
		payload.UserID = ""
		header, err := testAuth.EncodeHeader(payload)
		require.NoError(t, err)

		r := httptest.NewRequest("GET", "/api/v1/auth/me", nil)
		r.Header.Set(TestAuthHeader, header)

		_, _, err = testAuth.FromRequest(r)
		require.Error(t, err)
	})

	t.Run("unknown organization roles normalize to member", func(t *testing.T) {
		payload := testPayload()
		payload.ActiveOrganizationRole = "org:owner"
		header, err := testAuth.EncodeHeader(payload)
		require.NoError(t, err)

		r := httptest.NewRequest("GET", "/api/v1/auth/me", nil)
		r.Header.Set(TestAuthHeader, header)

		authCtx, found, err := testAuth.FromRequest(r)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, identity.RoleOrgMember, authCtx.ActiveOrganizationRole)
	})
}

package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/servirhq/servir/internal/apierror"
	"github.com/servirhq/servir/internal/identity"
)

// SessionVerifier authenticates requests carrying a Clerk session token and
// derives the request's authorization context. A test-mode HMAC header can be
// enabled for end-to-end testing without a live identity provider.
type SessionVerifier struct {
	publicKey *rsa.PublicKey
	gateway   identity.Gateway
	testAuth  *TestAuth
}

// userRegistrar is implemented by the in-memory gateway so that test-auth
// callers exist as gateway users.
type userRegistrar interface {
	RegisterUser(userID, email, firstName, lastName string, platformAdmin bool)
}

// NewSessionVerifier creates a verifier for Clerk session tokens. The PEM
// block is the Clerk instance's JWT verification public key.
func NewSessionVerifier(publicKeyPEM string, gateway identity.Gateway, testAuth *TestAuth) (*SessionVerifier, error) {
	verifier := &SessionVerifier{gateway: gateway, testAuth: testAuth}

	if publicKeyPEM != "" {
		block, _ := pem.Decode([]byte(publicKeyPEM))
		if block == nil {
			return nil, errors.New("failed to decode JWT public key PEM")
		}
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse JWT public key: %w", err)
		}
		rsaKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("JWT public key is not RSA")
		}
		verifier.publicKey = rsaKey
	}

	return verifier, nil
}

// Authenticate derives the authorization context for a request. It returns a
// typed API error (401 UNAUTHORIZED) when the request carries no usable
// credential.
func (v *SessionVerifier) Authenticate(r *http.Request) (*Context, error) {
	if v.testAuth != nil && v.testAuth.Enabled {
		authCtx, found, err := v.testAuth.FromRequest(r)
		if err != nil {
			return nil, err
		}
		if found {
			if registrar, ok := v.gateway.(userRegistrar); ok {
				registrar.RegisterUser(authCtx.UserID, authCtx.Email,
					authCtx.FirstName, authCtx.LastName, authCtx.IsPlatformAdmin)
			}
			return authCtx, nil
		}
	}

	tokenString := extractBearerToken(r)
	if tokenString == "" {
		return nil, apierror.Unauthorized("Authentication required.")
	}

	if v.publicKey == nil {
		return nil, apierror.Unauthorized("Authentication is not configured.")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Header["alg"])
		}
		return v.publicKey, nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("Session token verification failed")
		return nil, apierror.Unauthorized("Authentication could not be verified.")
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return nil, apierror.Unauthorized("Authentication user context is missing.")
	}

	authCtx := &Context{
		UserID:                 userID,
		SessionID:              claimString(claims, "sid"),
		ActiveOrganizationID:   claimString(claims, "org_id"),
		ActiveOrganizationRole: normalizeRoleClaim(claimString(claims, "org_role")),
	}

	// Enrich from the provider's user record: primary email, names, and the
	// out-of-band platform role marker.
	user, err := v.gateway.GetUser(r.Context(), userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to load user from identity gateway")
		return nil, apierror.Unauthorized("Authentication could not be verified.")
	}

	authCtx.Email = user.PrimaryEmail()
	authCtx.FirstName = user.FirstName
	authCtx.LastName = user.LastName
	authCtx.IsPlatformAdmin = user.PlatformRole() == identity.PlatformAdminRole

	return authCtx, nil
}

func extractBearerToken(r *http.Request) string {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authorization) > 7 && strings.EqualFold(authorization[:7], "bearer ") {
		return strings.TrimSpace(authorization[7:])
	}
	return ""
}

func claimString(claims jwt.MapClaims, key string) string {
	value, _ := claims[key].(string)
	return value
}

func normalizeRoleClaim(role string) string {
	if role == "" {
		return ""
	}
	return identity.NormalizeRole(role)
}

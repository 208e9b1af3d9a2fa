package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/servirhq/servir/internal/apierror"
	"github.com/servirhq/servir/internal/identity"
)

// TestAuthHeader carries a signed test identity when test mode is enabled.
// Format: base64url(payload JSON) + "." + base64url(HMAC-SHA256(payload)).
const TestAuthHeader = "X-Servir-Test-Auth"

// TestAuth verifies the signed test authentication header used by end-to-end
// tests. It must never be enabled in production: the shared secret grants
// arbitrary identities, including platform admin.
type TestAuth struct {
	Enabled bool
	Secret  string
}

// TestAuthPayload is the JSON payload of the test auth header.
type TestAuthPayload struct {
	UserID                 string `json:"userId"`
	SessionID              string `json:"sessionId,omitempty"`
	Email                  string `json:"email,omitempty"`
	FirstName              string `json:"firstName,omitempty"`
	LastName               string `json:"lastName,omitempty"`
	PlatformRole           string `json:"platformRole,omitempty"`
	ActiveOrganizationID   string `json:"activeOrganizationId,omitempty"`
	ActiveOrganizationRole string `json:"activeOrganizationRole,omitempty"`
	IssuedAt               int64  `json:"iat"`
	ExpiresAt              int64  `json:"exp"`
}

// FromRequest extracts and verifies the test auth header. The second return
// is false when the header is absent; a present-but-invalid header is a 401.
func (t *TestAuth) FromRequest(r *http.Request) (*Context, bool, error) {
	rawHeader := r.Header.Get(TestAuthHeader)
	if rawHeader == "" {
		return nil, false, nil
	}

	payloadPart, signaturePart, ok := strings.Cut(rawHeader, ".")
	if !ok || payloadPart == "" || signaturePart == "" {
		return nil, false, apierror.Unauthorized("Malformed test authentication header.")
	}

	expected := t.Sign(payloadPart)
	if !hmac.Equal([]byte(signaturePart), []byte(expected)) {
		return nil, false, apierror.Unauthorized("Invalid test authentication signature.")
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return nil, false, apierror.Unauthorized("Invalid test authentication payload.")
	}

	var payload TestAuthPayload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, false, apierror.Unauthorized("Invalid test authentication payload.")
	}

	now := time.Now().Unix()
	if payload.IssuedAt == 0 || payload.ExpiresAt == 0 || payload.ExpiresAt <= now {
		return nil, false, apierror.Unauthorized("Expired test authentication payload.")
	}

	if payload.UserID == "" {
		return nil, false, apierror.Unauthorized("Test authentication payload is missing userId.")
	}

	return &Context{
		UserID:                 payload.UserID,
		SessionID:              payload.SessionID,
		Email:                  payload.Email,
		FirstName:              payload.FirstName,
		LastName:               payload.LastName,
		IsPlatformAdmin:        payload.PlatformRole == identity.PlatformAdminRole,
		ActiveOrganizationID:   payload.ActiveOrganizationID,
		ActiveOrganizationRole: normalizeRoleClaim(payload.ActiveOrganizationRole),
	}, true, nil
}

// Sign computes the base64url HMAC-SHA256 signature of an encoded payload.
func (t *TestAuth) Sign(payloadPart string) string {
	mac := hmac.New(sha256.New, []byte(t.Secret))
	mac.Write([]byte(payloadPart))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// EncodeHeader builds a complete signed header value for a payload. Used by
// tests and tooling.
func (t *TestAuth) EncodeHeader(payload TestAuthPayload) (string, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	payloadPart := base64.RawURLEncoding.EncodeToString(payloadJSON)
	return payloadPart + "." + t.Sign(payloadPart), nil
}

package billing

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	svix "github.com/svix/svix-webhooks/go"
)

// Webhook deliveries are signed with the Svix scheme Clerk uses: the
// signature covers "<id>.<timestamp>.<body>" with HMAC-SHA256 keyed by the
// base64 portion of the "whsec_..." signing secret.
const (
	headerWebhookID        = "svix-id"
	headerWebhookTimestamp = "svix-timestamp"
	headerWebhookSignature = "svix-signature"

	signingSecretPrefix = "whsec_"
)

var errSignatureInvalid = errors.New("webhook signature verification failed")

// SignatureVerifier verifies webhook delivery authenticity.
type SignatureVerifier struct {
	webhook *svix.Webhook
}

// NewSignatureVerifier creates a verifier from the provider's signing secret.
func NewSignatureVerifier(signingSecret string) (*SignatureVerifier, error) {
	encoded := strings.TrimPrefix(signingSecret, signingSecretPrefix)
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook signing secret: %w", err)
	}
	if len(key) == 0 {
		return nil, errors.New("webhook signing secret is empty")
	}
	webhook, err := svix.NewWebhook(signingSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook signing secret: %w", err)
	}
	return &SignatureVerifier{webhook: webhook}, nil
}

// Verify checks the delivery's signature and timestamp against the headers.
// Signature comparison, key rotation entries, and the replay tolerance window
// are handled by the svix library. Returns errSignatureInvalid on any
// mismatch; nothing about the failure is leaked to the caller beyond that.
func (v *SignatureVerifier) Verify(headers http.Header, body []byte) error {
	if err := v.webhook.Verify(body, headers); err != nil {
		return errSignatureInvalid
	}
	return nil
}

package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key-0123456789")

func testSigningSecret() string {
	return signingSecretPrefix + base64.StdEncoding.EncodeToString(testSigningKey)
}

func signDelivery(id, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, testSigningKey)
	fmt.Fprintf(mac, "%s.%s.", id, timestamp)
	mac.Write(body)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedHeaders(id, timestamp, signature string) http.Header {
	headers := http.Header{}
	headers.Set(headerWebhookID, id)
	headers.Set(headerWebhookTimestamp, timestamp)
	headers.Set(headerWebhookSignature, signature)
	return headers
}

func TestNewSignatureVerifier(t *testing.T) {
	t.Run("accepts prefixed base64 secret", func(t *testing.T) {
		verifier, err := NewSignatureVerifier(testSigningSecret())
		require.NoError(t, err)
		require.NotNil(t, verifier.webhook)
	})

	t.Run("rejects non-base64 secret", func(t *testing.T) {
		_, err := NewSignatureVerifier("whsec_not base64!!!")
		require.Error(t, err)
	})

	t.Run("rejects empty secret", func(t *testing.T) {
		_, err := NewSignatureVerifier("whsec_")
		require.Error(t, err)
	})
}

func TestVerify(t *testing.T) {
	body := []byte(`{"type":"subscription.updated"}`)

	newVerifier := func(t *testing.T) *SignatureVerifier {
		t.Helper()
		verifier, err := NewSignatureVerifier(testSigningSecret())
		require.NoError(t, err)
		return verifier
	}

	t.Run("accepts a valid signature", func(t *testing.T) {
		verifier := newVerifier(t)
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)

		err := verifier.Verify(signedHeaders("msg_1", timestamp, signDelivery("msg_1", timestamp, body)), body)
		require.NoError(t, err)
	})

	t.Run("accepts any matching entry in a multi-signature header", func(t *testing.T) {
		verifier := newVerifier(t)
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)

		signature := "v1,bm90LXRoZS1zaWduYXR1cmU= " + signDelivery("msg_1", timestamp, body)
		err := verifier.Verify(signedHeaders("msg_1", timestamp, signature), body)
		require.NoError(t, err)
	})

	t.Run("rejects a tampered body", func(t *testing.T) {
		verifier := newVerifier(t)
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)

		headers := signedHeaders("msg_1", timestamp, signDelivery("msg_1", timestamp, body))
		err := verifier.Verify(headers, []byte(`{"type":"tampered"}`))
		require.ErrorIs(t, err, errSignatureInvalid)
	})

	t.Run("rejects missing headers", func(t *testing.T) {
		verifier := newVerifier(t)
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)

		err := verifier.Verify(http.Header{}, body)
		require.ErrorIs(t, err, errSignatureInvalid)

		headers := signedHeaders("msg_1", timestamp, signDelivery("msg_1", timestamp, body))
		headers.Del(headerWebhookSignature)
		err = verifier.Verify(headers, body)
		require.ErrorIs(t, err, errSignatureInvalid)
	})

	t.Run("rejects non-numeric timestamp", func(t *testing.T) {
		verifier := newVerifier(t)

		err := verifier.Verify(signedHeaders("msg_1", "not-a-number", "v1,abc"), body)
		require.ErrorIs(t, err, errSignatureInvalid)
	})

	t.Run("rejects timestamps outside the tolerance window", func(t *testing.T) {
		verifier := newVerifier(t)

		// The scheme tolerates five minutes of skew either way.
		stale := strconv.FormatInt(time.Now().Add(-6*time.Minute).Unix(), 10)
		err := verifier.Verify(signedHeaders("msg_1", stale, signDelivery("msg_1", stale, body)), body)
		require.ErrorIs(t, err, errSignatureInvalid)

		future := strconv.FormatInt(time.Now().Add(6*time.Minute).Unix(), 10)
		err = verifier.Verify(signedHeaders("msg_1", future, signDelivery("msg_1", future, body)), body)
		require.ErrorIs(t, err, errSignatureInvalid)
	})

	t.Run("ignores entries with unknown scheme versions", func(t *testing.T) {
		verifier := newVerifier(t)
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)

		valid := signDelivery("msg_1", timestamp, body)
		err := verifier.Verify(signedHeaders("msg_1", timestamp, "v2,"+valid[len("v1,"):]), body)
		require.ErrorIs(t, err, errSignatureInvalid)
	})
}

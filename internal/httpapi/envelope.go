package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/servirhq/servir/internal/apierror"
)

// maxBodyBytes bounds request bodies. Webhook payloads and request forms are
// both small; anything bigger is abuse.
const maxBodyBytes = 1 << 20

type envelopeMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
}

type errorBody struct {
	Code    string           `json:"code"`
	Message string           `json:"message"`
	Issues  []apierror.Issue `json:"issues"`
}

type errorEnvelope struct {
	Error errorBody    `json:"error"`
	Meta  envelopeMeta `json:"meta"`
}

// respond writes a JSON success payload.
func respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("failed to write response body")
	}
}

// respondError renders any error through the uniform envelope. Untyped
// errors become opaque 500s; their detail goes to the log, not the client.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierror.From(err)

	if apiErr.Status >= http.StatusInternalServerError {
		log.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	}

	issues := apiErr.Issues
	if issues == nil {
		issues = []apierror.Issue{}
	}

	respond(w, apiErr.Status, errorEnvelope{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Issues:  issues,
		},
		Meta: envelopeMeta{
			Timestamp: time.Now().UTC(),
			Path:      r.URL.Path,
		},
	})
}

// decodeBody parses a JSON request body into dst. An empty body decodes to
// the zero value so optional-body endpoints (approve without a reason) work.
func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apierror.BadRequest(apierror.CodeBadRequest, "Failed to read request body.")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apierror.BadRequest(apierror.CodeBadRequest, "Request body is not valid JSON.")
	}
	return nil
}

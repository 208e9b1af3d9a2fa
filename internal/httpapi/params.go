package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/servirhq/servir/internal/apierror"
	"github.com/servirhq/servir/internal/models"
	"github.com/servirhq/servir/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// parsePage reads the page/pageSize query parameters, applying the defaults
// and caps of the pagination contract.
func parsePage(r *http.Request) (store.Page, error) {
	page := store.Page{Page: 1, PageSize: defaultPageSize}

	if raw := r.URL.Query().Get("page"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 {
			return page, apierror.Validation("Invalid pagination parameters.",
				apierror.Issue{Path: "page", Message: "must be a positive integer"})
		}
		page.Page = value
	}

	if raw := r.URL.Query().Get("pageSize"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 || value > maxPageSize {
			return page, apierror.Validation("Invalid pagination parameters.",
				apierror.Issue{Path: "pageSize", Message: "must be an integer between 1 and 100"})
		}
		page.PageSize = value
	}

	return page, nil
}

// parseRequestStatus reads an optional status filter for organization
// request listings.
func parseRequestStatus(r *http.Request) (models.OrganizationRequestStatus, error) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return "", nil
	}
	status, ok := models.ParseOrganizationRequestStatus(raw)
	if !ok {
		return "", apierror.Validation("Invalid status filter.",
			apierror.Issue{Path: "status", Message: "must be one of pending, approved, denied, failed"})
	}
	return status, nil
}

// parseBillingStatus reads an optional status filter for subscription
// listings.
func parseBillingStatus(r *http.Request) (models.BillingStatus, error) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return "", nil
	}
	status, ok := models.NormalizeBillingStatus(raw)
	if !ok {
		return "", apierror.Validation("Invalid status filter.",
			apierror.Issue{Path: "status", Message: "is not a recognized billing status"})
	}
	return status, nil
}

// pathRequestID parses the {id} path segment as a request UUID.
func pathRequestID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, apierror.Validation("Invalid request id.",
			apierror.Issue{Path: "id", Message: "must be a UUID"})
	}
	return id, nil
}

// validateLength checks a trimmed string field against inclusive bounds,
// appending an issue on failure. Returns the trimmed value.
func validateLength(issues *[]apierror.Issue, path, value string, min, max int) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) < min || len(trimmed) > max {
		*issues = append(*issues, apierror.Issue{
			Path:    path,
			Message: "must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max) + " characters",
		})
	}
	return trimmed
}

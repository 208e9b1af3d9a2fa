package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

const defaultClerkAPIURL = "https://api.clerk.com/v1"

// ClerkClient implements Gateway against the Clerk Backend API.
// Transient failures (429 and 5xx) are retried with exponential backoff;
// anything else is surfaced to the caller as a provider error.
type ClerkClient struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	maxTries   uint
}

// ClerkOption customises a ClerkClient.
type ClerkOption func(*ClerkClient)

// WithBaseURL overrides the Clerk API base URL (used in tests).
func WithBaseURL(baseURL string) ClerkOption {
	return func(c *ClerkClient) { c.baseURL = baseURL }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClerkOption {
	return func(c *ClerkClient) { c.httpClient = client }
}

// NewClerkClient creates a Gateway backed by the Clerk Backend API.
func NewClerkClient(secretKey string, opts ...ClerkOption) *ClerkClient {
	client := &ClerkClient{
		baseURL:    defaultClerkAPIURL,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxTries:   4,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// clerkError is the provider's error envelope.
type clerkError struct {
	Status int
	Errors []struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"errors"`
}

func (e *clerkError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("clerk api error (status %d): %s", e.Status, e.Errors[0].Message)
	}
	return fmt.Sprintf("clerk api error (status %d)", e.Status)
}

// Wire types mirror the provider's JSON shapes. Timestamps are unix millis.
type clerkEmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type clerkUser struct {
	ID                    string              `json:"id"`
	EmailAddresses        []clerkEmailAddress `json:"email_addresses"`
	PrimaryEmailAddressID string              `json:"primary_email_address_id"`
	FirstName             string              `json:"first_name"`
	LastName              string              `json:"last_name"`
	Banned                bool                `json:"banned"`
	CreatedAt             int64               `json:"created_at"`
	PrivateMetadata       map[string]any      `json:"private_metadata"`
}

type clerkOrganization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type clerkPublicUserData struct {
	UserID     string `json:"user_id"`
	Identifier string `json:"identifier"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

type clerkMembership struct {
	ID             string              `json:"id"`
	Organization   clerkOrganization   `json:"organization"`
	Role           string              `json:"role"`
	PublicUserData clerkPublicUserData `json:"public_user_data"`
	CreatedAt      int64               `json:"created_at"`
	UpdatedAt      int64               `json:"updated_at"`
}

type clerkInvitation struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
	Role         string `json:"role"`
	Status       string `json:"status"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

type clerkList[T any] struct {
	Data       []T   `json:"data"`
	TotalCount int64 `json:"total_count"`
}

// GetUser fetches a single user record.
func (c *ClerkClient) GetUser(ctx context.Context, userID string) (*User, error) {
	var user clerkUser
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &user); err != nil {
		return nil, err
	}
	return user.toRecord(), nil
}

// GetUserList pages through provider users.
func (c *ClerkClient) GetUserList(ctx context.Context, params ListParams) (*UserList, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(params.Limit))
	query.Set("offset", strconv.Itoa(params.Offset))
	if params.Query != "" {
		query.Set("query", params.Query)
	}

	var list clerkList[clerkUser]
	if err := c.do(ctx, http.MethodGet, "/users?"+query.Encode(), nil, &list); err != nil {
		return nil, err
	}

	result := &UserList{TotalCount: int(list.TotalCount)}
	for _, user := range list.Data {
		result.Data = append(result.Data, user.toRecord())
	}
	return result, nil
}

// CreateOrganization provisions an organization with the requester as owner.
func (c *ClerkClient) CreateOrganization(ctx context.Context, params CreateOrganizationParams) (*Organization, error) {
	body := map[string]any{
		"name":                    params.Name,
		"slug":                    params.Slug,
		"created_by":              params.CreatedBy,
		"max_allowed_memberships": params.MaxAllowedMemberships,
	}

	var org clerkOrganization
	if err := c.do(ctx, http.MethodPost, "/organizations", body, &org); err != nil {
		return nil, err
	}
	return &Organization{ID: org.ID, Name: org.Name, Slug: org.Slug}, nil
}

// CreateOrganizationInvitation invites an email address into an organization.
func (c *ClerkClient) CreateOrganizationInvitation(ctx context.Context, params CreateInvitationParams) (*Invitation, error) {
	path := fmt.Sprintf("/organizations/%s/invitations", url.PathEscape(params.OrganizationID))
	body := map[string]any{
		"email_address":   params.EmailAddress,
		"inviter_user_id": params.InviterUserID,
		"role":            params.Role,
	}

	var invitation clerkInvitation
	if err := c.do(ctx, http.MethodPost, path, body, &invitation); err != nil {
		return nil, err
	}
	return invitation.toRecord(), nil
}

// UpdateOrganizationMembership changes a member's role.
func (c *ClerkClient) UpdateOrganizationMembership(ctx context.Context, organizationID, userID, role string) (*Membership, error) {
	path := fmt.Sprintf("/organizations/%s/memberships/%s",
		url.PathEscape(organizationID), url.PathEscape(userID))

	var membership clerkMembership
	if err := c.do(ctx, http.MethodPatch, path, map[string]any{"role": role}, &membership); err != nil {
		return nil, mapClerkNotFound(err, ErrMembershipNotFound)
	}
	return membership.toRecord(), nil
}

// DeleteOrganizationMembership removes a member from an organization.
func (c *ClerkClient) DeleteOrganizationMembership(ctx context.Context, organizationID, userID string) error {
	path := fmt.Sprintf("/organizations/%s/memberships/%s",
		url.PathEscape(organizationID), url.PathEscape(userID))

	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return mapClerkNotFound(err, ErrMembershipNotFound)
	}
	return nil
}

// ListOrganizationMemberships pages through an organization's members.
func (c *ClerkClient) ListOrganizationMemberships(ctx context.Context, organizationID string, params ListParams) (*MembershipList, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(params.Limit))
	query.Set("offset", strconv.Itoa(params.Offset))
	path := fmt.Sprintf("/organizations/%s/memberships?%s", url.PathEscape(organizationID), query.Encode())

	return c.listMemberships(ctx, path)
}

// ListUserOrganizationMemberships pages through a user's memberships.
func (c *ClerkClient) ListUserOrganizationMemberships(ctx context.Context, userID string, params ListParams) (*MembershipList, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(params.Limit))
	query.Set("offset", strconv.Itoa(params.Offset))
	path := fmt.Sprintf("/users/%s/organization_memberships?%s", url.PathEscape(userID), query.Encode())

	return c.listMemberships(ctx, path)
}

func (c *ClerkClient) listMemberships(ctx context.Context, path string) (*MembershipList, error) {
	var list clerkList[clerkMembership]
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}

	result := &MembershipList{TotalCount: int(list.TotalCount)}
	for _, membership := range list.Data {
		result.Data = append(result.Data, membership.toRecord())
	}
	return result, nil
}

// do performs one API call with retry on transient failures.
func (c *ClerkClient) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	operation := func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck // read-only body

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}

		apiErr := &clerkError{Status: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || len(apiErr.Errors) == 0 {
			log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("Clerk error response without error body")
		}

		// Retry throttling and server-side failures, fail fast on the rest.
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, apiErr
		}
		return nil, backoff.Permanent(apiErr)
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		return fmt.Errorf("clerk %s %s: %w", method, path, err)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode clerk response: %w", err)
		}
	}
	return nil
}

func mapClerkNotFound(err error, sentinel error) error {
	var apiErr *clerkError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return sentinel
	}
	return err
}

func (u clerkUser) toRecord() *User {
	record := &User{
		ID:                    u.ID,
		PrimaryEmailAddressID: u.PrimaryEmailAddressID,
		FirstName:             u.FirstName,
		LastName:              u.LastName,
		Banned:                u.Banned,
		CreatedAt:             time.UnixMilli(u.CreatedAt),
		PrivateMetadata:       u.PrivateMetadata,
	}
	if record.PrivateMetadata == nil {
		record.PrivateMetadata = map[string]any{}
	}
	for _, email := range u.EmailAddresses {
		record.EmailAddresses = append(record.EmailAddresses, EmailAddress(email))
	}
	return record
}

func (m clerkMembership) toRecord() *Membership {
	return &Membership{
		ID:             m.ID,
		Organization:   Organization(m.Organization),
		Role:           m.Role,
		PublicUserData: PublicUserData(m.PublicUserData),
		CreatedAt:      time.UnixMilli(m.CreatedAt),
		UpdatedAt:      time.UnixMilli(m.UpdatedAt),
	}
}

func (i clerkInvitation) toRecord() *Invitation {
	return &Invitation{
		ID:           i.ID,
		EmailAddress: i.EmailAddress,
		Role:         i.Role,
		Status:       i.Status,
		CreatedAt:    time.UnixMilli(i.CreatedAt),
		UpdatedAt:    time.UnixMilli(i.UpdatedAt),
	}
}

package auth

import "context"

// Context is the request-scoped authorization context derived once per
// request. It is never persisted.
type Context struct {
	UserID                 string `json:"userId"`
	SessionID              string `json:"sessionId,omitempty"`
	Email                  string `json:"email"`
	FirstName              string `json:"firstName"`
	LastName               string `json:"lastName"`
	IsPlatformAdmin        bool   `json:"isPlatformAdmin"`
	ActiveOrganizationID   string `json:"activeOrganizationId"`
	ActiveOrganizationRole string `json:"activeOrganizationRole"`
}

type contextKey int

const authContextKey contextKey = iota

// WithContext attaches the authorization context to a request context.
func WithContext(ctx context.Context, authCtx *Context) context.Context {
	return context.WithValue(ctx, authContextKey, authCtx)
}

// FromContext extracts the authorization context from the request context.
// Returns nil for unauthenticated requests.
func FromContext(ctx context.Context) *Context {
	authCtx, _ := ctx.Value(authContextKey).(*Context)
	return authCtx
}

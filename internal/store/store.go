package store

import "errors"

// Sentinel errors for common error conditions
var (
	ErrRequestNotFound       = errors.New("organization request not found")
	ErrRequestAlreadyExists  = errors.New("organization request already exists")
	ErrSnapshotNotFound      = errors.New("billing snapshot not found")
	ErrWebhookEventNotFound  = errors.New("billing webhook event not found")
	ErrDuplicateWebhookEvent = errors.New("billing webhook event already recorded")
)

// Page describes an offset-based page request. Page numbers are 1-based.
type Page struct {
	Page     int
	PageSize int
}

// Offset returns the row offset for this page.
func (p Page) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

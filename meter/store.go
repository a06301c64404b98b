package meter

import (
	"context"
	"time"
)

// Store persists usage records keyed by (client ID, period start).
//
// Counter updates are increments applied by the store so concurrent writers
// never lose updates. Implementations reject increments on closed records
// with ErrPeriodClosed and on missing records with ErrNoRecord.
type Store interface {
	// OpenUsage inserts r unless a record for the same client and period
	// start already exists, in which case it does nothing.
	OpenUsage(ctx context.Context, r *Record) error
	GetUsage(ctx context.Context, clientID string, periodStart time.Time) (*Record, error)
	AddDocuments(ctx context.Context, clientID string, periodStart time.Time, count int64) error
	AddMinutes(ctx context.Context, clientID string, periodStart time.Time, employeeID string, minutes int64) error
	ListUsage(ctx context.Context, clientID string, opts ListOpts) ([]*Record, error)
}

// ListOpts filters ListUsage. Records come back newest period first.
type ListOpts struct {
	Limit  int
	Offset int
}

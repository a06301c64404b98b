// Package store defines the persistence boundary of the billing engine.
package store

import (
	"context"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/meter"
)

// Store is the unified storage interface for contracts and usage records.
type Store interface {
	contract.Store
	meter.Store

	// CommitPeriod closes the billing period of c in one atomic step:
	//
	//   - the usage record for c.PeriodStart is closed (if it exists),
	//   - the contract's period moves to [next.PeriodStart, next.PeriodEnd)
	//     and its Version is incremented, provided the stored version still
	//     equals c.Version,
	//   - next is inserted as the open record of the new period unless one
	//     already exists.
	//
	// Either all three happen or none. A version mismatch returns
	// retainer.ErrConcurrentUpdate.
	CommitPeriod(ctx context.Context, c *contract.Contract, next *meter.Record) error

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

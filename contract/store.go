package contract

import (
	"context"
	"time"
)

// Store persists billing contracts keyed by client ID.
type Store interface {
	// CreateContract inserts c. Fails if the client already has a contract.
	CreateContract(ctx context.Context, c *Contract) error
	GetContract(ctx context.Context, clientID string) (*Contract, error)
	// UpdateContract writes c if the stored version equals c.Version and
	// increments c.Version on success.
	UpdateContract(ctx context.Context, c *Contract) error
	ListContracts(ctx context.Context, opts ListOpts) ([]*Contract, error)
	// ListDueContracts returns enabled contracts with NextInvoiceDate <= asOf
	// ordered by NextInvoiceDate, then ClientID.
	ListDueContracts(ctx context.Context, asOf time.Time) ([]*Contract, error)
}

type ListOpts struct {
	EnabledOnly bool
	Limit       int
	Offset      int
}

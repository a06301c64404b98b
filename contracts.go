package retainer

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/id"
	"github.com/xraph/retainer/schedule"
	"github.com/xraph/retainer/types"
)

// ──────────────────────────────────────────────────
// Contract Management
// ──────────────────────────────────────────────────

// SaveContract creates or updates the contract of c.ClientID.
//
// A new contract starts its first period on the anchor date unless
// PeriodStart is given, and NextInvoiceDate defaults to the first schedule
// date after it. On update the billing period of the stored contract is
// kept; only the commit moves it.
func (e *Engine) SaveContract(ctx context.Context, c *contract.Contract) error {
	normalize(c)
	if err := ValidateContract(c); err != nil {
		return err
	}

	unlock := e.lockClient(c.ClientID)
	defer unlock()

	existing, err := e.store.GetContract(ctx, c.ClientID)
	switch {
	case errors.Is(err, ErrContractNotFound):
		return e.createContract(ctx, c)
	case err != nil:
		return err
	}

	c.ID = existing.ID
	c.Entity = existing.Entity
	c.PeriodStart = existing.PeriodStart
	c.NextInvoiceDate = existing.NextInvoiceDate
	c.Version = existing.Version

	if err := e.store.UpdateContract(ctx, c); err != nil {
		return fmt.Errorf("update contract %s: %w", c.ClientID, err)
	}

	e.logger.Info("contract updated",
		"client_id", c.ClientID,
		"enabled", c.Enabled,
		"version", c.Version,
	)
	e.plugins.EmitContractSaved(ctx, c.Clone(), false)
	return nil
}

func (e *Engine) createContract(ctx context.Context, c *contract.Contract) error {
	if c.ID.IsNil() {
		c.ID = id.NewContractID()
	}
	c.Entity = types.NewEntityAt(e.now())
	c.Version = 0
	if c.PeriodStart.IsZero() {
		c.PeriodStart = c.AnchorDate
	}
	if c.NextInvoiceDate.IsZero() {
		c.NextInvoiceDate = schedule.Next(c, c.PeriodStart)
	}
	if !c.NextInvoiceDate.After(c.PeriodStart) {
		return ValidationError{Field: "next_invoice_date", Message: "must be after period_start"}
	}

	if err := e.store.CreateContract(ctx, c); err != nil {
		return fmt.Errorf("create contract %s: %w", c.ClientID, err)
	}

	e.logger.Info("contract created",
		"client_id", c.ClientID,
		"frequency", c.Frequency,
		"period_start", c.PeriodStart.Format("2006-01-02"),
		"next_invoice_date", c.NextInvoiceDate.Format("2006-01-02"),
	)
	e.plugins.EmitContractSaved(ctx, c.Clone(), true)
	return nil
}

// GetContract retrieves the contract of a client.
func (e *Engine) GetContract(ctx context.Context, clientID string) (*contract.Contract, error) {
	return e.store.GetContract(ctx, clientID)
}

// ListContracts lists contracts ordered by client ID.
func (e *Engine) ListContracts(ctx context.Context, opts contract.ListOpts) ([]*contract.Contract, error) {
	return e.store.ListContracts(ctx, opts)
}

// DisableContract hides a contract from scheduling and metering. A timer
// session the client holds is stopped and credited first.
func (e *Engine) DisableContract(ctx context.Context, clientID string) error {
	if s, ok := e.timers.Active(); ok && s.ClientID == clientID {
		stopped, err := e.timers.Stop(ctx, clientID, e.now())
		switch {
		case err == nil:
			e.plugins.EmitTimerStopped(ctx, stopped)
		case !errors.Is(err, ErrNoActiveSession):
			return fmt.Errorf("stop timer of %s: %w", clientID, err)
		}
	}
	return e.setEnabled(ctx, clientID, false)
}

// EnableContract makes a disabled contract visible again. Its billing period
// is unchanged, so a contract disabled for long is immediately due.
func (e *Engine) EnableContract(ctx context.Context, clientID string) error {
	return e.setEnabled(ctx, clientID, true)
}

func (e *Engine) setEnabled(ctx context.Context, clientID string, enabled bool) error {
	unlock := e.lockClient(clientID)
	defer unlock()

	c, err := e.store.GetContract(ctx, clientID)
	if err != nil {
		return err
	}
	if c.Enabled == enabled {
		return nil
	}

	c.Enabled = enabled
	if err := e.store.UpdateContract(ctx, c); err != nil {
		return fmt.Errorf("update contract %s: %w", clientID, err)
	}

	e.logger.Info("contract status changed",
		"client_id", clientID,
		"enabled", enabled,
	)
	e.plugins.EmitContractSaved(ctx, c.Clone(), false)
	return nil
}

// enabledContract loads the contract of clientID and fails with
// ErrContractDisabled when it is disabled.
func (e *Engine) enabledContract(ctx context.Context, clientID string) (*contract.Contract, error) {
	c, err := e.store.GetContract(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !c.Enabled {
		return nil, fmt.Errorf("%w: client %s", ErrContractDisabled, clientID)
	}
	return c, nil
}

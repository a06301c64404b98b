package retainer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/invoice"
	"github.com/xraph/retainer/meter"
	"github.com/xraph/retainer/schedule"
)

// ──────────────────────────────────────────────────
// Invoicing
// ──────────────────────────────────────────────────

// PreviewInvoice prices the client's open period without changing any
// state. It can be called any number of times.
func (e *Engine) PreviewInvoice(ctx context.Context, clientID string) (*invoice.Draft, error) {
	c, err := e.store.GetContract(ctx, clientID)
	if err != nil {
		return nil, err
	}

	d, err := e.build(ctx, c)
	if err != nil {
		return nil, err
	}

	e.plugins.EmitInvoicePreviewed(ctx, d)
	return d, nil
}

// CommitInvoice prices the client's open period and then, atomically,
// closes its usage record, advances NextInvoiceDate by one schedule step and
// opens an empty record for the new period. When any step fails no state
// changes.
//
// A period may be committed before its NextInvoiceDate; the next period
// still ends on the following schedule date.
func (e *Engine) CommitInvoice(ctx context.Context, clientID string) (*invoice.Draft, error) {
	unlock := e.lockClient(clientID)
	defer unlock()

	c, err := e.store.GetContract(ctx, clientID)
	if err != nil {
		return nil, err
	}

	d, err := e.build(ctx, c)
	if err != nil {
		return nil, err
	}

	nextStart := c.NextInvoiceDate
	next := meter.NewRecord(clientID, meter.Period{
		Start: nextStart,
		End:   schedule.Next(c, nextStart),
	}, e.now())

	if err := e.store.CommitPeriod(ctx, c, next); err != nil {
		return nil, fmt.Errorf("commit period %s of %s: %w", d.PeriodStart.Format(time.DateOnly), clientID, err)
	}
	d.Committed = true

	e.logger.Info("invoice committed",
		"client_id", clientID,
		"period_start", d.PeriodStart.Format(time.DateOnly),
		"period_end", d.PeriodEnd.Format(time.DateOnly),
		"total_gross", d.TotalGross.String(),
		"next_invoice_date", c.NextInvoiceDate.Format(time.DateOnly),
	)
	e.plugins.EmitInvoiceCommitted(ctx, d)
	return d, nil
}

func (e *Engine) build(ctx context.Context, c *contract.Contract) (*invoice.Draft, error) {
	period := currentPeriod(c)

	rec, err := e.store.GetUsage(ctx, c.ClientID, period.Start)
	if errors.Is(err, meter.ErrNoRecord) {
		rec = nil
	} else if err != nil {
		return nil, err
	}

	return e.builder.Build(c, period, rec, e.today())
}

// DueContracts returns the client IDs of enabled contracts whose
// NextInvoiceDate is on or before asOf, ordered by NextInvoiceDate and then
// client ID. Only the calendar date of asOf in its own location counts.
func (e *Engine) DueContracts(ctx context.Context, asOf time.Time) ([]string, error) {
	contracts, err := e.store.ListDueContracts(ctx, schedule.Date(asOf))
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(contracts))
	for _, c := range contracts {
		ids = append(ids, c.ClientID)
	}
	return ids, nil
}

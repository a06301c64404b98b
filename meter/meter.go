// Package meter accumulates documents processed and minutes worked per client
// and billing period, and evaluates them against contract allowances.
package meter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/internal/keylock"
)

var (
	ErrInvalidQuantity = errors.New("retainer: invalid usage quantity")
	ErrPeriodClosed    = errors.New("retainer: usage period is closed")
	ErrNoRecord        = errors.New("retainer: no usage recorded for period")
)

// Meter serializes updates per (client, period) and delegates persistence
// to a Store. Updates to different keys run in parallel.
type Meter struct {
	store Store
	locks *keylock.Map
	now   func() time.Time
}

// Option configures a Meter.
type Option func(*Meter)

// WithClock overrides the time source used to stamp new records.
func WithClock(now func() time.Time) Option {
	return func(m *Meter) { m.now = now }
}

// New returns a Meter backed by s.
func New(s Store, opts ...Option) *Meter {
	m := &Meter{
		store: s,
		locks: keylock.New(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordDocuments adds count documents to the client's record for p and
// returns the updated snapshot. A zero count only opens the record.
func (m *Meter) RecordDocuments(ctx context.Context, clientID string, p Period, count int64) (*Record, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: document count %d", ErrInvalidQuantity, count)
	}

	unlock := m.locks.Lock(key(clientID, p.Start))
	defer unlock()

	if err := m.store.OpenUsage(ctx, NewRecord(clientID, p, m.now())); err != nil {
		return nil, fmt.Errorf("meter: open period %s: %w", p, err)
	}
	if count > 0 {
		if err := m.store.AddDocuments(ctx, clientID, p.Start, count); err != nil {
			return nil, err
		}
	}
	return m.store.GetUsage(ctx, clientID, p.Start)
}

// RecordMinutes adds minutes worked by employeeID ("" when unattributed) to
// the client's record for p and returns the updated snapshot.
func (m *Meter) RecordMinutes(ctx context.Context, clientID string, p Period, employeeID string, minutes int64) (*Record, error) {
	if minutes < 0 {
		return nil, fmt.Errorf("%w: minutes %d", ErrInvalidQuantity, minutes)
	}

	unlock := m.locks.Lock(key(clientID, p.Start))
	defer unlock()

	if err := m.store.OpenUsage(ctx, NewRecord(clientID, p, m.now())); err != nil {
		return nil, fmt.Errorf("meter: open period %s: %w", p, err)
	}
	if minutes > 0 {
		if err := m.store.AddMinutes(ctx, clientID, p.Start, employeeID, minutes); err != nil {
			return nil, err
		}
	}
	return m.store.GetUsage(ctx, clientID, p.Start)
}

// Snapshot returns a copy of the client's record for p. A period with no
// usage yet yields an empty, unsaved record.
func (m *Meter) Snapshot(ctx context.Context, clientID string, p Period) (*Record, error) {
	r, err := m.store.GetUsage(ctx, clientID, p.Start)
	if errors.Is(err, ErrNoRecord) {
		empty := NewRecord(clientID, p, m.now())
		return empty, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ──────────────────────────────────────────────────
// Allowance evaluation
// ──────────────────────────────────────────────────

// OverageDocuments returns how many documents in r exceed the contract limit.
// A zero limit makes every document overage, priced or not.
func OverageDocuments(c *contract.Contract, r *Record) int64 {
	if r == nil {
		return 0
	}
	return max(0, r.DocumentsReceived-c.DocumentsLimit)
}

// IsOverAllowance reports whether r has more documents than c allows.
// It is informational; recording is never blocked.
func IsOverAllowance(c *contract.Contract, r *Record) bool {
	return OverageDocuments(c, r) > 0
}

// HoursCap returns the advisory hour ceiling for one period of c. The
// monthly cap is multiplied by the number of months a period spans; weekly
// periods use the monthly figure unchanged.
//
// DocumentsLimit is not scaled this way: it is the billed allowance of one
// invoicing period whatever its length, while the hour cap only feeds a
// warning flag and is configured per month.
func HoursCap(c *contract.Contract) (decimal.Decimal, bool) {
	if c.MaxHoursPerMonth == nil {
		return decimal.Zero, false
	}
	months := int64(1)
	switch c.Frequency {
	case contract.Quarterly:
		months = 3
	case contract.Yearly:
		months = 12
	}
	return c.MaxHoursPerMonth.Mul(decimal.NewFromInt(months)), true
}

// IsOverHours reports whether the hours in r exceed the advisory cap of c.
func IsOverHours(c *contract.Contract, r *Record) bool {
	limit, ok := HoursCap(c)
	if !ok {
		return false
	}
	return r.Hours().GreaterThan(limit)
}

func key(clientID string, periodStart time.Time) string {
	return clientID + "|" + periodStart.Format(time.DateOnly)
}

// Package invoice turns a contract and the usage of one billing period into
// a priced invoice draft.
package invoice

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/id"
	"github.com/xraph/retainer/meter"
	"github.com/xraph/retainer/types"
)

var (
	ErrContractDisabled = errors.New("retainer: contract is disabled")
	ErrNoUsageForPeriod = errors.New("retainer: nothing to bill for period")
)

// LaborTaxPolicy picks the tax rate for a tier's labor line.
type LaborTaxPolicy func(c *contract.Contract, t contract.Tier) decimal.Decimal

// SharedBaseRate taxes labor like the base services and ignores per-tier
// overrides.
func SharedBaseRate(c *contract.Contract, _ contract.Tier) decimal.Decimal {
	return c.TaxRate()
}

// TierRateOrBase uses the tier's configured rate and falls back to the
// contract's base rate. It equals SharedBaseRate when no tier rates are set.
func TierRateOrBase(c *contract.Contract, t contract.Tier) decimal.Decimal {
	if rate, ok := c.TierTaxRates[t]; ok {
		return rate
	}
	return c.TaxRate()
}

// Builder prices drafts. It holds no state besides its options and is safe
// for concurrent use.
type Builder struct {
	laborTax           LaborTaxPolicy
	overageDescription string
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLaborTaxPolicy sets how labor lines are taxed. Default TierRateOrBase.
func WithLaborTaxPolicy(p LaborTaxPolicy) BuilderOption {
	return func(b *Builder) { b.laborTax = p }
}

// WithOverageDescription sets the description of the document overage line.
func WithOverageDescription(s string) BuilderOption {
	return func(b *Builder) { b.overageDescription = s }
}

// NewBuilder returns a Builder with the given options.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		laborTax:           TierRateOrBase,
		overageDescription: "Documents over contracted limit",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build prices period for c from rec, which may be nil when nothing was
// metered. Lines come in a fixed order: base items as configured, labor per
// tier sorted by tier, then document overage.
//
// Build has no side effects; calling it repeatedly yields equal drafts
// apart from generated IDs.
func (b *Builder) Build(c *contract.Contract, period meter.Period, rec *meter.Record, issueDate time.Time) (*Draft, error) {
	if !c.Enabled {
		return nil, fmt.Errorf("%w: client %s", ErrContractDisabled, c.ClientID)
	}
	if rec.IsEmpty() && len(c.BaseItems) == 0 {
		return nil, fmt.Errorf("%w: client %s %s", ErrNoUsageForPeriod, c.ClientID, period)
	}

	d := &Draft{
		Entity:      types.NewEntityAt(issueDate),
		ID:          id.NewDraftID(),
		ClientID:    c.ClientID,
		ContractID:  c.ID,
		Currency:    c.Currency,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		IssueDate:   issueDate,
		DueDate:     issueDate.AddDate(0, 0, c.PaymentTermsDays),
		LineItems:   []LineItem{},
	}
	if rec != nil {
		d.DocumentsReceived = rec.DocumentsReceived
		d.MinutesWorked = rec.MinutesWorked
	}

	for _, item := range c.BaseItems {
		li, err := b.line(c, LineItemBase, item.Name, item.Quantity, item.UnitPrice, item.TaxRate)
		if err != nil {
			return nil, err
		}
		d.LineItems = append(d.LineItems, li)
	}

	if err := b.addLabor(d, c, rec); err != nil {
		return nil, err
	}

	if over := meter.OverageDocuments(c, rec); over > 0 && c.BillsOverage() {
		li, err := b.line(c, LineItemOverage, b.overageDescription,
			decimal.NewFromInt(over), c.DocumentsOverLimitPrice, c.TaxRate())
		if err != nil {
			return nil, err
		}
		d.LineItems = append(d.LineItems, li)
	}

	d.Flags = Flags{
		DocumentsOverLimit: meter.IsOverAllowance(c, rec),
		HoursOverCap:       rec != nil && meter.IsOverHours(c, rec),
	}
	d.total()
	return d, nil
}

func (b *Builder) addLabor(d *Draft, c *contract.Contract, rec *meter.Record) error {
	if len(c.EmployeePricing) == 0 || rec == nil {
		return nil
	}

	byTier := make(map[contract.Tier]int64)
	for employee, minutes := range rec.EmployeeMinutes {
		tier, ok := c.TierFor(employee)
		if !ok {
			d.UnpricedMinutes += minutes
			continue
		}
		if _, priced := c.HourlyRate(tier); !priced {
			d.UnpricedMinutes += minutes
			continue
		}
		byTier[tier] += minutes
	}

	for _, tier := range c.Tiers() {
		minutes := byTier[tier]
		if minutes <= 0 {
			continue
		}
		rate, _ := c.HourlyRate(tier)
		li, err := b.line(c, LineItemLabor, fmt.Sprintf("Labor (%s)", tier),
			meter.MinutesToHours(minutes), rate, b.laborTax(c, tier))
		if err != nil {
			return err
		}
		li.Tier = tier
		d.LineItems = append(d.LineItems, li)
	}
	return nil
}

func (b *Builder) line(c *contract.Contract, t LineItemType, desc string, qty decimal.Decimal, price types.Money, rate decimal.Decimal) (LineItem, error) {
	if price.Currency != c.Currency {
		return LineItem{}, fmt.Errorf("invoice: %q priced in %q, contract bills in %q", desc, price.Currency, c.Currency)
	}
	net := price.Mul(qty).Round()
	tax := net.Percent(rate).Round()
	return LineItem{
		ID:          id.NewLineItemID(),
		Type:        t,
		Description: desc,
		Quantity:    qty,
		UnitPrice:   price,
		TaxRate:     rate,
		Net:         net,
		Tax:         tax,
		Gross:       net.Add(tax),
	}, nil
}

// total sums the already rounded line amounts so the draft totals equal the
// line totals exactly.
func (d *Draft) total() {
	d.TotalNet = types.Zero(d.Currency)
	d.TotalTax = types.Zero(d.Currency)
	d.TotalGross = types.Zero(d.Currency)
	for _, li := range d.LineItems {
		d.TotalNet = d.TotalNet.Add(li.Net)
		d.TotalTax = d.TotalTax.Add(li.Tax)
		d.TotalGross = d.TotalGross.Add(li.Gross)
	}
}

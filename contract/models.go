// Package contract defines the billing contract a client is invoiced under.
package contract

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/retainer/id"
	"github.com/xraph/retainer/types"
)

// Frequency is how often a contract is invoiced.
type Frequency string

const (
	Weekly    Frequency = "weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
)

// IsValid reports whether f is a known frequency.
func (f Frequency) IsValid() bool {
	switch f {
	case Weekly, Monthly, Quarterly, Yearly:
		return true
	}
	return false
}

// ParseFrequency parses a case-insensitive frequency name.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("contract: unknown frequency %q", s)
	}
	return f, nil
}

// Tier labels a seniority level in employee pricing, e.g. "junior".
type Tier string

// BaseItem is a fixed service line billed every period.
type BaseItem struct {
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice types.Money     `json:"unit_price"`
	TaxRate   decimal.Decimal `json:"tax_rate"` // percent, 0..100
}

// Contract is the billing agreement for one client.
//
// The open billing period is [PeriodStart, NextInvoiceDate). Both dates are
// only moved forward by committing an invoice.
type Contract struct {
	types.Entity
	ID        id.ContractID `json:"id"`
	ClientID  string        `json:"client_id"`
	Enabled   bool          `json:"enabled"`
	Frequency Frequency     `json:"frequency"`
	Currency  string        `json:"currency"`

	AnchorDate      time.Time `json:"anchor_date"`
	PeriodStart     time.Time `json:"period_start"`
	NextInvoiceDate time.Time `json:"next_invoice_date"`

	BaseItems   []BaseItem      `json:"base_items,omitempty"`
	BaseTaxRate decimal.Decimal `json:"base_tax_rate"`

	EmployeePricing map[Tier]types.Money     `json:"employee_pricing,omitempty"`
	EmployeeTiers   map[string]Tier          `json:"employee_tiers,omitempty"`
	DefaultTier     Tier                     `json:"default_tier,omitempty"`
	TierTaxRates    map[Tier]decimal.Decimal `json:"tier_tax_rates,omitempty"`

	DocumentsLimit          int64            `json:"documents_limit"`
	DocumentsOverLimitPrice types.Money      `json:"documents_over_limit_price"`
	MaxHoursPerMonth        *decimal.Decimal `json:"max_hours_per_month,omitempty"`

	PaymentTermsDays int               `json:"payment_terms_days"`
	Version          int64             `json:"version"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// TaxRate returns the rate applied to labor and overage lines. It falls back
// to the first base item's rate when no explicit base rate is configured.
func (c *Contract) TaxRate() decimal.Decimal {
	if c.BaseTaxRate.IsZero() && len(c.BaseItems) > 0 {
		return c.BaseItems[0].TaxRate
	}
	return c.BaseTaxRate
}

// TierFor resolves the pricing tier an employee's minutes are billed at.
// Unmapped employees (including unattributed time, employeeID "") fall back
// to DefaultTier.
func (c *Contract) TierFor(employeeID string) (Tier, bool) {
	if t, ok := c.EmployeeTiers[employeeID]; ok && t != "" {
		return t, true
	}
	if c.DefaultTier != "" {
		return c.DefaultTier, true
	}
	return "", false
}

// HourlyRate returns the configured rate for tier.
func (c *Contract) HourlyRate(t Tier) (types.Money, bool) {
	rate, ok := c.EmployeePricing[t]
	return rate, ok
}

// BillsOverage reports whether documents past the limit are charged.
func (c *Contract) BillsOverage() bool {
	return !c.DocumentsOverLimitPrice.IsZero()
}

// Tiers returns the priced tiers sorted by label.
func (c *Contract) Tiers() []Tier {
	return slices.Sorted(maps.Keys(c.EmployeePricing))
}

// Clone returns a deep copy of c.
func (c *Contract) Clone() *Contract {
	if c == nil {
		return nil
	}
	out := *c
	out.BaseItems = slices.Clone(c.BaseItems)
	out.EmployeePricing = maps.Clone(c.EmployeePricing)
	out.EmployeeTiers = maps.Clone(c.EmployeeTiers)
	out.TierTaxRates = maps.Clone(c.TierTaxRates)
	out.Metadata = maps.Clone(c.Metadata)
	if c.MaxHoursPerMonth != nil {
		v := *c.MaxHoursPerMonth
		out.MaxHoursPerMonth = &v
	}
	return &out
}

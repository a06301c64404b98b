package retainer

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/schedule"
	"github.com/xraph/retainer/types"
)

var hundred = decimal.NewFromInt(100)

// DefaultCurrency is used for contracts saved without a currency.
const DefaultCurrency = "eur"

// normalize fills defaults and canonicalizes dates and currency in place.
func normalize(c *contract.Contract) {
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.Currency = strings.ToLower(strings.TrimSpace(c.Currency))
	if c.Currency == "" {
		c.Currency = DefaultCurrency
	}
	if !c.AnchorDate.IsZero() {
		c.AnchorDate = schedule.Date(c.AnchorDate)
	}
	if !c.PeriodStart.IsZero() {
		c.PeriodStart = schedule.Date(c.PeriodStart)
	}
	if !c.NextInvoiceDate.IsZero() {
		c.NextInvoiceDate = schedule.Date(c.NextInvoiceDate)
	}
}

// ValidateContract checks every contract invariant and reports all
// violations at once. The returned error matches ErrInvalidContract.
func ValidateContract(c *contract.Contract) error {
	var errs MultiError
	field := func(name, format string, args ...any) {
		errs.Add(ValidationError{Field: name, Message: fmt.Sprintf(format, args...)})
	}

	if c.ClientID == "" {
		field("client_id", "is required")
	}
	if !c.Frequency.IsValid() {
		field("frequency", "unknown frequency %q", c.Frequency)
	}
	if c.AnchorDate.IsZero() {
		field("anchor_date", "is required")
	}
	if len(c.Currency) != 3 {
		field("currency", "must be a 3-letter ISO 4217 code, got %q", c.Currency)
	}

	for i, item := range c.BaseItems {
		name := fmt.Sprintf("base_items[%d]", i)
		if strings.TrimSpace(item.Name) == "" {
			field(name+".name", "is required")
		}
		if !item.Quantity.IsPositive() {
			field(name+".quantity", "must be > 0, got %s", item.Quantity)
		}
		checkPrice(field, name+".unit_price", item.UnitPrice, c.Currency)
		checkRate(field, name+".tax_rate", item.TaxRate)
	}
	checkRate(field, "base_tax_rate", c.BaseTaxRate)

	for tier, rate := range c.EmployeePricing {
		name := fmt.Sprintf("employee_pricing[%s]", tier)
		if strings.TrimSpace(string(tier)) == "" {
			field("employee_pricing", "tier label is required")
		}
		checkPrice(field, name, rate, c.Currency)
	}
	for tier, rate := range c.TierTaxRates {
		checkRate(field, fmt.Sprintf("tier_tax_rates[%s]", tier), rate)
	}
	if c.DefaultTier != "" {
		if _, ok := c.EmployeePricing[c.DefaultTier]; !ok {
			field("default_tier", "tier %q has no hourly rate", c.DefaultTier)
		}
	}

	if c.DocumentsLimit < 0 {
		field("documents_limit", "must be >= 0, got %d", c.DocumentsLimit)
	}
	if c.DocumentsLimit > 0 && !c.DocumentsOverLimitPrice.IsPositive() {
		field("documents_over_limit_price", "is required when documents_limit > 0")
	}
	if !c.DocumentsOverLimitPrice.IsZero() {
		checkPrice(field, "documents_over_limit_price", c.DocumentsOverLimitPrice, c.Currency)
	}

	if c.MaxHoursPerMonth != nil && c.MaxHoursPerMonth.IsNegative() {
		field("max_hours_per_month", "must be >= 0, got %s", c.MaxHoursPerMonth)
	}
	if c.PaymentTermsDays < 0 {
		field("payment_terms_days", "must be >= 0, got %d", c.PaymentTermsDays)
	}
	if !c.PeriodStart.IsZero() && !c.NextInvoiceDate.IsZero() && !c.NextInvoiceDate.After(c.PeriodStart) {
		field("next_invoice_date", "must be after period_start")
	}

	return errs.ErrOrNil()
}

func checkPrice(field func(string, string, ...any), name string, m types.Money, currency string) {
	if m.IsNegative() {
		field(name, "must be >= 0, got %s", m.Amount)
	}
	if m.Currency != currency {
		field(name, "currency %q does not match contract currency %q", m.Currency, currency)
	}
}

func checkRate(field func(string, string, ...any), name string, rate decimal.Decimal) {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		field(name, "must be within [0, 100], got %s", rate)
	}
}

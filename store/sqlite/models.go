package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xraph/grove"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/id"
	"github.com/xraph/retainer/meter"
	"github.com/xraph/retainer/types"
)

// SQLite has no date or decimal types: dates are stored as "2006-01-02",
// timestamps as RFC 3339 and decimals as their exact string form. All of
// them sort correctly as text.

// ==================== Contract models ====================

type contractModel struct {
	grove.BaseModel `grove:"table:retainer_contracts"`

	ClientID                string `grove:"client_id,pk"`
	ID                      string `grove:"id"`
	Enabled                 bool   `grove:"enabled"`
	Frequency               string `grove:"frequency"`
	Currency                string `grove:"currency"`
	AnchorDate              string `grove:"anchor_date"`
	PeriodStart             string `grove:"period_start"`
	NextInvoiceDate         string `grove:"next_invoice_date"`
	PendingUsageID          string `grove:"pending_usage_id"`
	BaseItems               string `grove:"base_items"`
	BaseTaxRate             string `grove:"base_tax_rate"`
	EmployeePricing         string `grove:"employee_pricing"`
	EmployeeTiers           string `grove:"employee_tiers"`
	DefaultTier             string `grove:"default_tier"`
	TierTaxRates            string `grove:"tier_tax_rates"`
	DocumentsLimit          int64  `grove:"documents_limit"`
	DocumentsOverLimitPrice string `grove:"documents_over_limit_price"`
	MaxHoursPerMonth        string `grove:"max_hours_per_month"`
	PaymentTermsDays        int    `grove:"payment_terms_days"`
	Version                 int64  `grove:"version"`
	Metadata                string `grove:"metadata"`
	CreatedAt               string `grove:"created_at"`
	UpdatedAt               string `grove:"updated_at"`
}

func toContractModel(c *contract.Contract) (*contractModel, error) {
	rates := make(map[string]decimal.Decimal, len(c.EmployeePricing))
	for tier, rate := range c.EmployeePricing {
		rates[string(tier)] = rate.Amount
	}

	m := &contractModel{
		ClientID:                c.ClientID,
		ID:                      c.ID.String(),
		Enabled:                 c.Enabled,
		Frequency:               string(c.Frequency),
		Currency:                c.Currency,
		AnchorDate:              formatDate(c.AnchorDate),
		PeriodStart:             formatDate(c.PeriodStart),
		NextInvoiceDate:         formatDate(c.NextInvoiceDate),
		BaseTaxRate:             c.BaseTaxRate.String(),
		DefaultTier:             string(c.DefaultTier),
		DocumentsLimit:          c.DocumentsLimit,
		DocumentsOverLimitPrice: c.DocumentsOverLimitPrice.Amount.String(),
		PaymentTermsDays:        c.PaymentTermsDays,
		Version:                 c.Version,
		CreatedAt:               formatTime(c.CreatedAt),
		UpdatedAt:               formatTime(c.UpdatedAt),
	}
	if c.MaxHoursPerMonth != nil {
		m.MaxHoursPerMonth = c.MaxHoursPerMonth.String()
	}

	var err error
	if m.BaseItems, err = marshalJSON(c.BaseItems, "[]"); err != nil {
		return nil, fmt.Errorf("encode base items: %w", err)
	}
	if m.EmployeePricing, err = marshalJSON(rates, "{}"); err != nil {
		return nil, fmt.Errorf("encode employee pricing: %w", err)
	}
	if m.EmployeeTiers, err = marshalJSON(c.EmployeeTiers, "{}"); err != nil {
		return nil, fmt.Errorf("encode employee tiers: %w", err)
	}
	if m.TierTaxRates, err = marshalJSON(c.TierTaxRates, "{}"); err != nil {
		return nil, fmt.Errorf("encode tier tax rates: %w", err)
	}
	if m.Metadata, err = marshalJSON(c.Metadata, "{}"); err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return m, nil
}

func fromContractModel(m *contractModel) (*contract.Contract, error) {
	contractID, err := id.ParseContractID(m.ID)
	if err != nil {
		return nil, err
	}

	c := &contract.Contract{
		ID:               contractID,
		ClientID:         m.ClientID,
		Enabled:          m.Enabled,
		Frequency:        contract.Frequency(m.Frequency),
		Currency:         m.Currency,
		DefaultTier:      contract.Tier(m.DefaultTier),
		DocumentsLimit:   m.DocumentsLimit,
		PaymentTermsDays: m.PaymentTermsDays,
		Version:          m.Version,
	}

	var errs []error
	c.CreatedAt = parseTime(m.CreatedAt, &errs)
	c.UpdatedAt = parseTime(m.UpdatedAt, &errs)
	c.AnchorDate = parseDate(m.AnchorDate, &errs)
	c.PeriodStart = parseDate(m.PeriodStart, &errs)
	c.NextInvoiceDate = parseDate(m.NextInvoiceDate, &errs)
	c.BaseTaxRate = parseDecimal(m.BaseTaxRate, &errs)
	c.DocumentsOverLimitPrice = types.New(parseDecimal(m.DocumentsOverLimitPrice, &errs), m.Currency)
	if m.MaxHoursPerMonth != "" {
		maxHours := parseDecimal(m.MaxHoursPerMonth, &errs)
		c.MaxHoursPerMonth = &maxHours
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("decode contract %s: %w", m.ClientID, errs[0])
	}

	if err := unmarshalJSON(m.BaseItems, &c.BaseItems); err != nil {
		return nil, fmt.Errorf("decode base items of %s: %w", m.ClientID, err)
	}
	var rates map[string]decimal.Decimal
	if err := unmarshalJSON(m.EmployeePricing, &rates); err != nil {
		return nil, fmt.Errorf("decode employee pricing of %s: %w", m.ClientID, err)
	}
	if len(rates) > 0 {
		c.EmployeePricing = make(map[contract.Tier]types.Money, len(rates))
		for tier, amount := range rates {
			c.EmployeePricing[contract.Tier(tier)] = types.New(amount, m.Currency)
		}
	}
	if err := unmarshalJSON(m.EmployeeTiers, &c.EmployeeTiers); err != nil {
		return nil, fmt.Errorf("decode employee tiers of %s: %w", m.ClientID, err)
	}
	if err := unmarshalJSON(m.TierTaxRates, &c.TierTaxRates); err != nil {
		return nil, fmt.Errorf("decode tier tax rates of %s: %w", m.ClientID, err)
	}
	if err := unmarshalJSON(m.Metadata, &c.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", m.ClientID, err)
	}
	return c, nil
}

// ==================== Usage models ====================

type usageModel struct {
	grove.BaseModel `grove:"table:retainer_usage"`

	ClientID          string `grove:"client_id,pk"`
	PeriodStart       string `grove:"period_start,pk"`
	ID                string `grove:"id"`
	PeriodEnd         string `grove:"period_end"`
	DocumentsReceived int64  `grove:"documents_received"`
	MinutesWorked     int64  `grove:"minutes_worked"`
	Closed            bool   `grove:"closed"`
	CreatedAt         string `grove:"created_at"`
	UpdatedAt         string `grove:"updated_at"`
}

type usageMinutesModel struct {
	grove.BaseModel `grove:"table:retainer_usage_minutes"`

	ClientID    string `grove:"client_id,pk"`
	PeriodStart string `grove:"period_start,pk"`
	EmployeeID  string `grove:"employee_id,pk"`
	Minutes     int64  `grove:"minutes"`
}

func toUsageModel(r *meter.Record) *usageModel {
	return &usageModel{
		ClientID:          r.ClientID,
		PeriodStart:       formatDate(r.PeriodStart),
		ID:                r.ID.String(),
		PeriodEnd:         formatDate(r.PeriodEnd),
		DocumentsReceived: r.DocumentsReceived,
		MinutesWorked:     r.MinutesWorked,
		Closed:            r.Closed,
		CreatedAt:         formatTime(r.CreatedAt),
		UpdatedAt:         formatTime(r.UpdatedAt),
	}
}

func fromUsageModel(m *usageModel, minutes []usageMinutesModel) (*meter.Record, error) {
	usageID, err := id.ParseUsagePeriodID(m.ID)
	if err != nil {
		return nil, err
	}

	var errs []error
	r := &meter.Record{
		Entity: types.Entity{
			CreatedAt: parseTime(m.CreatedAt, &errs),
			UpdatedAt: parseTime(m.UpdatedAt, &errs),
		},
		ID:                usageID,
		ClientID:          m.ClientID,
		PeriodStart:       parseDate(m.PeriodStart, &errs),
		PeriodEnd:         parseDate(m.PeriodEnd, &errs),
		DocumentsReceived: m.DocumentsReceived,
		MinutesWorked:     m.MinutesWorked,
		Closed:            m.Closed,
		EmployeeMinutes:   make(map[string]int64, len(minutes)),
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("decode usage %s: %w", m.ID, errs[0])
	}
	for _, em := range minutes {
		r.EmployeeMinutes[em.EmployeeID] += em.Minutes
	}
	return r, nil
}

// ==================== Helpers ====================

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseDate(s string, errs *[]error) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		*errs = append(*errs, err)
	}
	return t
}

func parseTime(s string, errs *[]error) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		*errs = append(*errs, err)
	}
	return t.UTC()
}

func parseDecimal(s string, errs *[]error) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		*errs = append(*errs, err)
	}
	return d
}

func marshalJSON(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func unmarshalJSON(raw string, v any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

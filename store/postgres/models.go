package postgres

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

// ==================== Contract models ====================

type contractModel struct {
	grove.BaseModel `grove:"table:retainer_contracts"`

	ClientID                string              `grove:"client_id,pk"`
	ID                      string              `grove:"id"`
	Enabled                 bool                `grove:"enabled"`
	Frequency               string              `grove:"frequency"`
	Currency                string              `grove:"currency"`
	AnchorDate              time.Time           `grove:"anchor_date"`
	PeriodStart             time.Time           `grove:"period_start"`
	NextInvoiceDate         time.Time           `grove:"next_invoice_date"`
	BaseItems               json.RawMessage     `grove:"base_items,type:jsonb"`
	BaseTaxRate             decimal.Decimal     `grove:"base_tax_rate"`
	EmployeePricing         json.RawMessage     `grove:"employee_pricing,type:jsonb"`
	EmployeeTiers           json.RawMessage     `grove:"employee_tiers,type:jsonb"`
	DefaultTier             string              `grove:"default_tier"`
	TierTaxRates            json.RawMessage     `grove:"tier_tax_rates,type:jsonb"`
	DocumentsLimit          int64               `grove:"documents_limit"`
	DocumentsOverLimitPrice decimal.Decimal     `grove:"documents_over_limit_price"`
	MaxHoursPerMonth        decimal.NullDecimal `grove:"max_hours_per_month"`
	PaymentTermsDays        int                 `grove:"payment_terms_days"`
	Version                 int64               `grove:"version"`
	Metadata                map[string]string   `grove:"metadata,type:jsonb"`
	CreatedAt               time.Time           `grove:"created_at"`
	UpdatedAt               time.Time           `grove:"updated_at"`
}

func toContractModel(c *contract.Contract) (*contractModel, error) {
	baseItems, err := json.Marshal(c.BaseItems)
	if err != nil {
		return nil, fmt.Errorf("encode base items: %w", err)
	}

	rates := make(map[string]decimal.Decimal, len(c.EmployeePricing))
	for tier, rate := range c.EmployeePricing {
		rates[string(tier)] = rate.Amount
	}
	pricing, err := json.Marshal(rates)
	if err != nil {
		return nil, fmt.Errorf("encode employee pricing: %w", err)
	}

	tiers, err := json.Marshal(c.EmployeeTiers)
	if err != nil {
		return nil, fmt.Errorf("encode employee tiers: %w", err)
	}
	taxRates, err := json.Marshal(c.TierTaxRates)
	if err != nil {
		return nil, fmt.Errorf("encode tier tax rates: %w", err)
	}

	m := &contractModel{
		ClientID:                c.ClientID,
		ID:                      c.ID.String(),
		Enabled:                 c.Enabled,
		Frequency:               string(c.Frequency),
		Currency:                c.Currency,
		AnchorDate:              c.AnchorDate,
		PeriodStart:             c.PeriodStart,
		NextInvoiceDate:         c.NextInvoiceDate,
		BaseItems:               baseItems,
		BaseTaxRate:             c.BaseTaxRate,
		EmployeePricing:         pricing,
		EmployeeTiers:           tiers,
		DefaultTier:             string(c.DefaultTier),
		TierTaxRates:            taxRates,
		DocumentsLimit:          c.DocumentsLimit,
		DocumentsOverLimitPrice: c.DocumentsOverLimitPrice.Amount,
		PaymentTermsDays:        c.PaymentTermsDays,
		Version:                 c.Version,
		Metadata:                c.Metadata,
		CreatedAt:               c.CreatedAt,
		UpdatedAt:               c.UpdatedAt,
	}
	if c.MaxHoursPerMonth != nil {
		m.MaxHoursPerMonth = decimal.NewNullDecimal(*c.MaxHoursPerMonth)
	}
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	return m, nil
}

func fromContractModel(m *contractModel) (*contract.Contract, error) {
	contractID, err := id.ParseContractID(m.ID)
	if err != nil {
		return nil, err
	}

	c := &contract.Contract{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:                      contractID,
		ClientID:                m.ClientID,
		Enabled:                 m.Enabled,
		Frequency:               contract.Frequency(m.Frequency),
		Currency:                m.Currency,
		AnchorDate:              dateOf(m.AnchorDate),
		PeriodStart:             dateOf(m.PeriodStart),
		NextInvoiceDate:         dateOf(m.NextInvoiceDate),
		BaseTaxRate:             m.BaseTaxRate,
		DefaultTier:             contract.Tier(m.DefaultTier),
		DocumentsLimit:          m.DocumentsLimit,
		DocumentsOverLimitPrice: types.New(m.DocumentsOverLimitPrice, m.Currency),
		PaymentTermsDays:        m.PaymentTermsDays,
		Version:                 m.Version,
		Metadata:                m.Metadata,
	}
	if m.MaxHoursPerMonth.Valid {
		maxHours := m.MaxHoursPerMonth.Decimal
		c.MaxHoursPerMonth = &maxHours
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
	return c, nil
}

// ==================== Usage models ====================

type usageModel struct {
	grove.BaseModel `grove:"table:retainer_usage"`

	ClientID          string    `grove:"client_id,pk"`
	PeriodStart       time.Time `grove:"period_start,pk"`
	ID                string    `grove:"id"`
	PeriodEnd         time.Time `grove:"period_end"`
	DocumentsReceived int64     `grove:"documents_received"`
	MinutesWorked     int64     `grove:"minutes_worked"`
	Closed            bool      `grove:"closed"`
	CreatedAt         time.Time `grove:"created_at"`
	UpdatedAt         time.Time `grove:"updated_at"`
}

// usageMinutesModel holds one employee's share of a record's minutes.
type usageMinutesModel struct {
	grove.BaseModel `grove:"table:retainer_usage_minutes"`

	ClientID    string    `grove:"client_id,pk"`
	PeriodStart time.Time `grove:"period_start,pk"`
	EmployeeID  string    `grove:"employee_id,pk"`
	Minutes     int64     `grove:"minutes"`
}

func toUsageModel(r *meter.Record) *usageModel {
	return &usageModel{
		ClientID:          r.ClientID,
		PeriodStart:       r.PeriodStart,
		ID:                r.ID.String(),
		PeriodEnd:         r.PeriodEnd,
		DocumentsReceived: r.DocumentsReceived,
		MinutesWorked:     r.MinutesWorked,
		Closed:            r.Closed,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func fromUsageModel(m *usageModel, minutes []usageMinutesModel) (*meter.Record, error) {
	usageID, err := id.ParseUsagePeriodID(m.ID)
	if err != nil {
		return nil, err
	}

	r := &meter.Record{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:                usageID,
		ClientID:          m.ClientID,
		PeriodStart:       dateOf(m.PeriodStart),
		PeriodEnd:         dateOf(m.PeriodEnd),
		DocumentsReceived: m.DocumentsReceived,
		MinutesWorked:     m.MinutesWorked,
		Closed:            m.Closed,
		EmployeeMinutes:   make(map[string]int64, len(minutes)),
	}
	for _, em := range minutes {
		r.EmployeeMinutes[em.EmployeeID] += em.Minutes
	}
	return r, nil
}

// ==================== Helpers ====================

// dateOf normalizes a DATE column to midnight UTC.
func dateOf(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

func unmarshalJSON(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

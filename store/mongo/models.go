package mongo

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/grove"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/id"
	"github.com/xraph/retainer/meter"
	"github.com/xraph/retainer/types"
)

// ==================== Contract models ====================

type contractModel struct {
	grove.BaseModel `grove:"table:retainer_contracts"`

	ClientID                string                     `grove:"client_id,pk"              bson:"_id"`
	ID                      string                     `grove:"id"                        bson:"contract_id"`
	Enabled                 bool                       `grove:"enabled"                   bson:"enabled"`
	Frequency               string                     `grove:"frequency"                 bson:"frequency"`
	Currency                string                     `grove:"currency"                  bson:"currency"`
	AnchorDate              time.Time                  `grove:"anchor_date"               bson:"anchor_date"`
	PeriodStart             time.Time                  `grove:"period_start"              bson:"period_start"`
	NextInvoiceDate         time.Time                  `grove:"next_invoice_date"         bson:"next_invoice_date"`
	BaseItems               []baseItemModel            `grove:"base_items"                bson:"base_items"`
	BaseTaxRate             bson.Decimal128            `grove:"base_tax_rate"             bson:"base_tax_rate"`
	EmployeePricing         map[string]bson.Decimal128 `grove:"employee_pricing"          bson:"employee_pricing,omitempty"`
	EmployeeTiers           map[string]string          `grove:"employee_tiers"            bson:"employee_tiers,omitempty"`
	DefaultTier             string                     `grove:"default_tier"              bson:"default_tier"`
	TierTaxRates            map[string]bson.Decimal128 `grove:"tier_tax_rates"            bson:"tier_tax_rates,omitempty"`
	DocumentsLimit          int64                      `grove:"documents_limit"           bson:"documents_limit"`
	DocumentsOverLimitPrice bson.Decimal128            `grove:"documents_over_limit_price" bson:"documents_over_limit_price"`
	MaxHoursPerMonth        *bson.Decimal128           `grove:"max_hours_per_month"       bson:"max_hours_per_month,omitempty"`
	PaymentTermsDays        int                        `grove:"payment_terms_days"        bson:"payment_terms_days"`
	Version                 int64                      `grove:"version"                   bson:"version"`
	Metadata                map[string]string          `grove:"metadata"                  bson:"metadata,omitempty"`
	CreatedAt               time.Time                  `grove:"created_at"                bson:"created_at"`
	UpdatedAt               time.Time                  `grove:"updated_at"                bson:"updated_at"`
}

type baseItemModel struct {
	Name      string          `bson:"name"`
	Quantity  bson.Decimal128 `bson:"quantity"`
	UnitPrice bson.Decimal128 `bson:"unit_price"`
	TaxRate   bson.Decimal128 `bson:"tax_rate"`
}

func toContractModel(c *contract.Contract) (*contractModel, error) {
	var enc decimalCodec

	items := make([]baseItemModel, len(c.BaseItems))
	for i, item := range c.BaseItems {
		items[i] = baseItemModel{
			Name:      item.Name,
			Quantity:  enc.encode(item.Quantity),
			UnitPrice: enc.encode(item.UnitPrice.Amount),
			TaxRate:   enc.encode(item.TaxRate),
		}
	}

	var pricing map[string]bson.Decimal128
	if len(c.EmployeePricing) > 0 {
		pricing = make(map[string]bson.Decimal128, len(c.EmployeePricing))
		for tier, rate := range c.EmployeePricing {
			pricing[string(tier)] = enc.encode(rate.Amount)
		}
	}

	var taxRates map[string]bson.Decimal128
	if len(c.TierTaxRates) > 0 {
		taxRates = make(map[string]bson.Decimal128, len(c.TierTaxRates))
		for tier, rate := range c.TierTaxRates {
			taxRates[string(tier)] = enc.encode(rate)
		}
	}

	var tiers map[string]string
	if len(c.EmployeeTiers) > 0 {
		tiers = make(map[string]string, len(c.EmployeeTiers))
		for employee, tier := range c.EmployeeTiers {
			tiers[employee] = string(tier)
		}
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
		BaseItems:               items,
		BaseTaxRate:             enc.encode(c.BaseTaxRate),
		EmployeePricing:         pricing,
		EmployeeTiers:           tiers,
		DefaultTier:             string(c.DefaultTier),
		TierTaxRates:            taxRates,
		DocumentsLimit:          c.DocumentsLimit,
		DocumentsOverLimitPrice: enc.encode(c.DocumentsOverLimitPrice.Amount),
		PaymentTermsDays:        c.PaymentTermsDays,
		Version:                 c.Version,
		Metadata:                c.Metadata,
		CreatedAt:               c.CreatedAt,
		UpdatedAt:               c.UpdatedAt,
	}
	if c.MaxHoursPerMonth != nil {
		maxHours := enc.encode(*c.MaxHoursPerMonth)
		m.MaxHoursPerMonth = &maxHours
	}
	if enc.err != nil {
		return nil, fmt.Errorf("encode contract %s: %w", c.ClientID, enc.err)
	}
	return m, nil
}

func fromContractModel(m *contractModel) (*contract.Contract, error) {
	contractID, err := id.ParseContractID(m.ID)
	if err != nil {
		return nil, err
	}

	var dec decimalCodec
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
		AnchorDate:              m.AnchorDate.UTC(),
		PeriodStart:             m.PeriodStart.UTC(),
		NextInvoiceDate:         m.NextInvoiceDate.UTC(),
		BaseTaxRate:             dec.decode(m.BaseTaxRate),
		DefaultTier:             contract.Tier(m.DefaultTier),
		DocumentsLimit:          m.DocumentsLimit,
		DocumentsOverLimitPrice: types.New(dec.decode(m.DocumentsOverLimitPrice), m.Currency),
		PaymentTermsDays:        m.PaymentTermsDays,
		Version:                 m.Version,
		Metadata:                m.Metadata,
	}

	for _, item := range m.BaseItems {
		c.BaseItems = append(c.BaseItems, contract.BaseItem{
			Name:      item.Name,
			Quantity:  dec.decode(item.Quantity),
			UnitPrice: types.New(dec.decode(item.UnitPrice), m.Currency),
			TaxRate:   dec.decode(item.TaxRate),
		})
	}
	if len(m.EmployeePricing) > 0 {
		c.EmployeePricing = make(map[contract.Tier]types.Money, len(m.EmployeePricing))
		for tier, rate := range m.EmployeePricing {
			c.EmployeePricing[contract.Tier(tier)] = types.New(dec.decode(rate), m.Currency)
		}
	}
	if len(m.TierTaxRates) > 0 {
		c.TierTaxRates = make(map[contract.Tier]decimal.Decimal, len(m.TierTaxRates))
		for tier, rate := range m.TierTaxRates {
			c.TierTaxRates[contract.Tier(tier)] = dec.decode(rate)
		}
	}
	if len(m.EmployeeTiers) > 0 {
		c.EmployeeTiers = make(map[string]contract.Tier, len(m.EmployeeTiers))
		for employee, tier := range m.EmployeeTiers {
			c.EmployeeTiers[employee] = contract.Tier(tier)
		}
	}
	if m.MaxHoursPerMonth != nil {
		maxHours := dec.decode(*m.MaxHoursPerMonth)
		c.MaxHoursPerMonth = &maxHours
	}

	if dec.err != nil {
		return nil, fmt.Errorf("decode contract %s: %w", m.ClientID, dec.err)
	}
	return c, nil
}

// ==================== Usage models ====================

type usageModel struct {
	grove.BaseModel `grove:"table:retainer_usage"`

	Key               string           `grove:"key,pk"             bson:"_id"`
	ID                string           `grove:"id"                 bson:"usage_id"`
	ClientID          string           `grove:"client_id"          bson:"client_id"`
	PeriodStart       time.Time        `grove:"period_start"       bson:"period_start"`
	PeriodEnd         time.Time        `grove:"period_end"         bson:"period_end"`
	DocumentsReceived int64            `grove:"documents_received" bson:"documents_received"`
	MinutesWorked     int64            `grove:"minutes_worked"     bson:"minutes_worked"`
	EmployeeMinutes   map[string]int64 `grove:"employee_minutes"   bson:"employee_minutes"`
	Closed            bool             `grove:"closed"             bson:"closed"`
	CreatedAt         time.Time        `grove:"created_at"         bson:"created_at"`
	UpdatedAt         time.Time        `grove:"updated_at"         bson:"updated_at"`
}

// usageKey is the document ID of a client's record for one period.
func usageKey(clientID string, periodStart time.Time) string {
	return clientID + "|" + periodStart.Format(time.DateOnly)
}

func toUsageModel(r *meter.Record) *usageModel {
	minutes := make(map[string]int64, len(r.EmployeeMinutes))
	for employee, n := range r.EmployeeMinutes {
		minutes[employeeField(employee)] = n
	}
	return &usageModel{
		Key:               usageKey(r.ClientID, r.PeriodStart),
		ID:                r.ID.String(),
		ClientID:          r.ClientID,
		PeriodStart:       r.PeriodStart,
		PeriodEnd:         r.PeriodEnd,
		DocumentsReceived: r.DocumentsReceived,
		MinutesWorked:     r.MinutesWorked,
		EmployeeMinutes:   minutes,
		Closed:            r.Closed,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func fromUsageModel(m *usageModel) (*meter.Record, error) {
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
		PeriodStart:       m.PeriodStart.UTC(),
		PeriodEnd:         m.PeriodEnd.UTC(),
		DocumentsReceived: m.DocumentsReceived,
		MinutesWorked:     m.MinutesWorked,
		Closed:            m.Closed,
		EmployeeMinutes:   make(map[string]int64, len(m.EmployeeMinutes)),
	}
	for field, n := range m.EmployeeMinutes {
		employee, err := employeeFromField(field)
		if err != nil {
			return nil, fmt.Errorf("decode usage %s: %w", m.Key, err)
		}
		r.EmployeeMinutes[employee] += n
	}
	return r, nil
}

// ==================== Helpers ====================

var fieldEscaper = strings.NewReplacer("%", "%25", ".", "%2E", "$", "%24")

// employeeField maps an employee ID to a key usable in an update path. The
// prefix keeps the empty ID (unattributed time) a valid field name.
func employeeField(employeeID string) string {
	return "e" + fieldEscaper.Replace(employeeID)
}

func employeeFromField(field string) (string, error) {
	return url.PathUnescape(strings.TrimPrefix(field, "e"))
}

// decimalCodec converts between decimal.Decimal and BSON Decimal128 and
// keeps the first conversion error.
type decimalCodec struct {
	err error
}

func (c *decimalCodec) encode(d decimal.Decimal) bson.Decimal128 {
	v, err := bson.ParseDecimal128(d.String())
	if err != nil && c.err == nil {
		c.err = err
	}
	return v
}

func (c *decimalCodec) decode(v bson.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil && c.err == nil {
		c.err = err
	}
	return d
}

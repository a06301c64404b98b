package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/retainer"
	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/types"
)

// portfolioContract is one client in the config file. Amounts and rates are
// decimal strings so no precision is lost in YAML.
type portfolioContract struct {
	ClientID                string            `mapstructure:"client_id"`
	Disabled                bool              `mapstructure:"disabled"`
	Frequency               string            `mapstructure:"frequency"`
	Currency                string            `mapstructure:"currency"`
	AnchorDate              string            `mapstructure:"anchor_date"`
	PeriodStart             string            `mapstructure:"period_start"`
	BaseTaxRate             string            `mapstructure:"base_tax_rate"`
	BaseItems               []portfolioItem   `mapstructure:"base_items"`
	EmployeePricing         map[string]string `mapstructure:"employee_pricing"`
	EmployeeTiers           map[string]string `mapstructure:"employee_tiers"`
	DefaultTier             string            `mapstructure:"default_tier"`
	TierTaxRates            map[string]string `mapstructure:"tier_tax_rates"`
	DocumentsLimit          int64             `mapstructure:"documents_limit"`
	DocumentsOverLimitPrice string            `mapstructure:"documents_over_limit_price"`
	MaxHoursPerMonth        string            `mapstructure:"max_hours_per_month"`
	PaymentTermsDays        int               `mapstructure:"payment_terms_days"`
	Usage                   portfolioUsage    `mapstructure:"usage"`
}

type portfolioItem struct {
	Name      string `mapstructure:"name"`
	Quantity  string `mapstructure:"quantity"`
	UnitPrice string `mapstructure:"unit_price"`
	TaxRate   string `mapstructure:"tax_rate"`
}

// portfolioUsage is what was metered in the open period so far.
type portfolioUsage struct {
	Documents int64            `mapstructure:"documents"`
	Minutes   map[string]int64 `mapstructure:"minutes"`
}

// decoder parses decimal and date fields and keeps the first error.
type decoder struct {
	clientID string
	err      error
}

func (d *decoder) decimal(field, s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("client %s: %s: %w", d.clientID, field, err)
	}
	return v
}

func (d *decoder) date(field, s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("client %s: %s: %w", d.clientID, field, err)
	}
	return t
}

func (p portfolioContract) toContract() (*contract.Contract, error) {
	d := &decoder{clientID: p.ClientID}

	c := &contract.Contract{
		ClientID:         p.ClientID,
		Enabled:          !p.Disabled,
		Frequency:        contract.Frequency(p.Frequency),
		Currency:         p.Currency,
		AnchorDate:       d.date("anchor_date", p.AnchorDate),
		PeriodStart:      d.date("period_start", p.PeriodStart),
		BaseTaxRate:      d.decimal("base_tax_rate", p.BaseTaxRate),
		DefaultTier:      contract.Tier(p.DefaultTier),
		DocumentsLimit:   p.DocumentsLimit,
		PaymentTermsDays: p.PaymentTermsDays,
	}
	c.DocumentsOverLimitPrice = types.New(d.decimal("documents_over_limit_price", p.DocumentsOverLimitPrice), p.Currency)
	if p.MaxHoursPerMonth != "" {
		maxHours := d.decimal("max_hours_per_month", p.MaxHoursPerMonth)
		c.MaxHoursPerMonth = &maxHours
	}

	for _, item := range p.BaseItems {
		c.BaseItems = append(c.BaseItems, contract.BaseItem{
			Name:      item.Name,
			Quantity:  d.decimal("base_items.quantity", item.Quantity),
			UnitPrice: types.New(d.decimal("base_items.unit_price", item.UnitPrice), p.Currency),
			TaxRate:   d.decimal("base_items.tax_rate", item.TaxRate),
		})
	}
	if len(p.EmployeePricing) > 0 {
		c.EmployeePricing = make(map[contract.Tier]types.Money, len(p.EmployeePricing))
		for tier, rate := range p.EmployeePricing {
			c.EmployeePricing[contract.Tier(tier)] = types.New(d.decimal("employee_pricing."+tier, rate), p.Currency)
		}
	}
	if len(p.EmployeeTiers) > 0 {
		c.EmployeeTiers = make(map[string]contract.Tier, len(p.EmployeeTiers))
		for employee, tier := range p.EmployeeTiers {
			c.EmployeeTiers[employee] = contract.Tier(tier)
		}
	}
	if len(p.TierTaxRates) > 0 {
		c.TierTaxRates = make(map[contract.Tier]decimal.Decimal, len(p.TierTaxRates))
		for tier, rate := range p.TierTaxRates {
			c.TierTaxRates[contract.Tier(tier)] = d.decimal("tier_tax_rates."+tier, rate)
		}
	}

	if d.err != nil {
		return nil, d.err
	}
	return c, nil
}

// loadPortfolio saves every contract and replays its metered usage into the
// open period.
func loadPortfolio(ctx context.Context, eng *retainer.Engine, contracts []portfolioContract) error {
	for _, p := range contracts {
		c, err := p.toContract()
		if err != nil {
			return err
		}
		if err := eng.SaveContract(ctx, c); err != nil {
			return fmt.Errorf("client %s: %w", p.ClientID, err)
		}
		if !c.Enabled {
			continue
		}
		if p.Usage.Documents > 0 {
			if _, err := eng.RecordDocumentBatch(ctx, c.ClientID, p.Usage.Documents); err != nil {
				return fmt.Errorf("client %s: documents: %w", p.ClientID, err)
			}
		}
		for employee, minutes := range p.Usage.Minutes {
			if minutes <= 0 {
				continue
			}
			if _, err := eng.RecordMinutes(ctx, c.ClientID, employee, minutes); err != nil {
				return fmt.Errorf("client %s: minutes of %s: %w", p.ClientID, employee, err)
			}
		}
	}
	return nil
}

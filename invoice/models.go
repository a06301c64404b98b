package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/id"
	"github.com/xraph/retainer/types"
)

// Draft is a priced invoice for one billing period. It is handed to the
// invoicing system that renders and persists it; Retainer does not store it.
type Draft struct {
	types.Entity
	ID          id.DraftID    `json:"id"`
	ClientID    string        `json:"client_id"`
	ContractID  id.ContractID `json:"contract_id"`
	Currency    string        `json:"currency"`
	PeriodStart time.Time     `json:"period_start"`
	PeriodEnd   time.Time     `json:"period_end"`
	IssueDate   time.Time     `json:"issue_date"`
	DueDate     time.Time     `json:"due_date"`
	LineItems   []LineItem    `json:"line_items"`
	TotalNet    types.Money   `json:"total_net"`
	TotalTax    types.Money   `json:"total_tax"`
	TotalGross  types.Money   `json:"total_gross"`

	DocumentsReceived int64 `json:"documents_received"`
	MinutesWorked     int64 `json:"minutes_worked"`
	// UnpricedMinutes counts minutes of employees without a priced tier.
	// They are covered by the base items and produce no labor line.
	UnpricedMinutes int64 `json:"unpriced_minutes,omitempty"`

	Flags     Flags `json:"flags"`
	Committed bool  `json:"committed"`
}

// Flags are informational warnings; none of them change the totals.
type Flags struct {
	DocumentsOverLimit bool `json:"documents_over_limit"`
	HoursOverCap       bool `json:"hours_over_cap"`
}

// LineItemType classifies a draft line.
type LineItemType string

const (
	LineItemBase    LineItemType = "base"
	LineItemLabor   LineItemType = "labor"
	LineItemOverage LineItemType = "overage"
)

// LineItem is one priced line. Net, Tax and Gross are rounded to the
// currency's minor unit independently per line.
type LineItem struct {
	ID          id.LineItemID   `json:"id"`
	Type        LineItemType    `json:"type"`
	Description string          `json:"description"`
	Tier        contract.Tier   `json:"tier,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   types.Money     `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	Net         types.Money     `json:"net"`
	Tax         types.Money     `json:"tax"`
	Gross       types.Money     `json:"gross"`
}

// Lines returns the line items of type t in draft order.
func (d *Draft) Lines(t LineItemType) []LineItem {
	var out []LineItem
	for _, li := range d.LineItems {
		if li.Type == t {
			out = append(out, li)
		}
	}
	return out
}

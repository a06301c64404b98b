// Package entitlement reports how a client's metered usage compares to the
// allowances in its contract. Results are computed on demand and are purely
// informational; usage is never blocked.
package entitlement

import (
	"github.com/shopspring/decimal"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/meter"
)

// Status is the allowance picture of one client for one period.
type Status struct {
	ClientID string       `json:"client_id"`
	Period   meter.Period `json:"period"`

	DocumentsUsed      int64 `json:"documents_used"`
	DocumentsLimit     int64 `json:"documents_limit"`
	DocumentsRemaining int64 `json:"documents_remaining"`
	OverageDocuments   int64 `json:"overage_documents"`
	OverAllowance      bool  `json:"over_allowance"`

	HoursWorked decimal.Decimal  `json:"hours_worked"`
	MaxHours    *decimal.Decimal `json:"max_hours,omitempty"`
	OverHours   bool             `json:"over_hours"`
}

// Evaluate computes the status of rec against c. A nil rec counts as no usage.
func Evaluate(c *contract.Contract, rec *meter.Record) *Status {
	s := &Status{
		ClientID:       c.ClientID,
		DocumentsLimit: c.DocumentsLimit,
		HoursWorked:    decimal.Zero,
	}
	if rec != nil {
		s.Period = rec.Period()
		s.DocumentsUsed = rec.DocumentsReceived
		s.HoursWorked = rec.Hours()
	}

	s.OverageDocuments = meter.OverageDocuments(c, rec)
	s.OverAllowance = s.OverageDocuments > 0
	s.DocumentsRemaining = max(0, c.DocumentsLimit-s.DocumentsUsed)

	if limit, ok := meter.HoursCap(c); ok {
		s.MaxHours = &limit
		s.OverHours = s.HoursWorked.GreaterThan(limit)
	}
	return s
}

package meter

import (
	"fmt"
	"maps"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/retainer/id"
	"github.com/xraph/retainer/types"
)

// Period is a half-open billing interval [Start, End) of calendar dates.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside p.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

func (p Period) String() string {
	return fmt.Sprintf("[%s, %s)", p.Start.Format(time.DateOnly), p.End.Format(time.DateOnly))
}

// Record accumulates metered usage of one client for one billing period.
// Counters only grow while the record is open; a closed record is read-only.
type Record struct {
	types.Entity
	ID                id.UsagePeriodID `json:"id"`
	ClientID          string           `json:"client_id"`
	PeriodStart       time.Time        `json:"period_start"`
	PeriodEnd         time.Time        `json:"period_end"`
	DocumentsReceived int64            `json:"documents_received"`
	MinutesWorked     int64            `json:"minutes_worked"`
	// EmployeeMinutes splits MinutesWorked by employee. Time logged without
	// an employee is kept under the empty key.
	EmployeeMinutes map[string]int64 `json:"employee_minutes,omitempty"`
	Closed          bool             `json:"closed"`
}

// NewRecord returns an empty open record for clientID and p.
func NewRecord(clientID string, p Period, now time.Time) *Record {
	return &Record{
		Entity:          types.NewEntityAt(now),
		ID:              id.NewUsagePeriodID(),
		ClientID:        clientID,
		PeriodStart:     p.Start,
		PeriodEnd:       p.End,
		EmployeeMinutes: make(map[string]int64),
	}
}

// Period returns the interval the record covers.
func (r *Record) Period() Period {
	return Period{Start: r.PeriodStart, End: r.PeriodEnd}
}

// IsEmpty reports whether nothing has been metered yet.
func (r *Record) IsEmpty() bool {
	return r == nil || (r.DocumentsReceived == 0 && r.MinutesWorked == 0)
}

// Hours returns MinutesWorked as hours rounded to two decimals.
func (r *Record) Hours() decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	return MinutesToHours(r.MinutesWorked)
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.EmployeeMinutes = maps.Clone(r.EmployeeMinutes)
	if out.EmployeeMinutes == nil {
		out.EmployeeMinutes = make(map[string]int64)
	}
	return &out
}

// MinutesToHours converts minutes to hours rounded half away from zero to
// two decimals.
func MinutesToHours(minutes int64) decimal.Decimal {
	return decimal.NewFromInt(minutes).Div(decimal.NewFromInt(60)).Round(2)
}

// Batch is one set of received documents added to a period.
type Batch struct {
	ID             id.BatchID `json:"id"`
	ClientID       string     `json:"client_id"`
	Count          int64      `json:"count"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	RecordedAt     time.Time  `json:"recorded_at"`
}

// NewBatch stamps a batch of count documents for clientID.
func NewBatch(clientID string, count int64, key string, at time.Time) *Batch {
	return &Batch{
		ID:             id.NewBatchID(),
		ClientID:       clientID,
		Count:          count,
		IdempotencyKey: key,
		RecordedAt:     at,
	}
}

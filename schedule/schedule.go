// Package schedule computes invoice dates for billing contracts.
//
// All functions are pure and operate on calendar dates in UTC.
package schedule

import (
	"time"

	"github.com/xraph/retainer/contract"
)

// Next returns the first invoice date strictly after from for contract c.
//
// Weekly contracts add seven days. Monthly and quarterly contracts land on
// the anchor day-of-month one (or three) months after from, clamped to the
// last day of that month. Yearly contracts land on the anchor month and day
// in the following year; Feb 29 becomes Feb 28 outside leap years.
func Next(c *contract.Contract, from time.Time) time.Time {
	return NextFor(c.Frequency, c.AnchorDate, from)
}

// NextFor is Next without a contract.
func NextFor(freq contract.Frequency, anchor, from time.Time) time.Time {
	from = Date(from)
	anchor = Date(anchor)

	for k := 1; ; k++ {
		var candidate time.Time
		switch freq {
		case contract.Weekly:
			candidate = from.AddDate(0, 0, 7*k)
		case contract.Quarterly:
			candidate = onAnchorDay(from.Year(), from.Month(), 3*k, anchor.Day())
		case contract.Yearly:
			candidate = onAnchorDay(from.Year()+k, anchor.Month(), 0, anchor.Day())
		default:
			candidate = onAnchorDay(from.Year(), from.Month(), k, anchor.Day())
		}
		if candidate.After(from) {
			return candidate
		}
	}
}

// Period returns the open billing period [start, end) of c.
func Period(c *contract.Contract) (start, end time.Time) {
	return Date(c.PeriodStart), Date(c.NextInvoiceDate)
}

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// onAnchorDay returns day of the month that lies addMonths after year/month,
// clamped to that month's length.
func onAnchorDay(year int, month time.Month, addMonths, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, addMonths, 0)
	if last := DaysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// Package retainer provides a recurring client billing and usage-metering
// engine for Go applications.
//
// Retainer is designed as a library, not a service. Import it directly into
// your Go application. It provides:
//
//   - Per-client billing contracts with weekly, monthly, quarterly or yearly schedules
//   - Document metering against a contracted allowance with overage pricing
//   - A portfolio-wide time tracker that credits minutes to the client it ran for
//   - Tiered hourly pricing of labor per employee
//   - Invoice preview and commit with decimal-exact totals
//   - Pluggable storage (memory, PostgreSQL, SQLite, MongoDB)
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/retainer"
//	    "github.com/xraph/retainer/store/postgres"
//	)
//
//	s := postgres.New(db)
//
//	e := retainer.New(s)
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
// # Core Concepts
//
// A contract describes what a client pays for:
//
//	c := &retainer.Contract{
//	    ClientID:                "acme",
//	    Enabled:                 true,
//	    Frequency:               retainer.Monthly,
//	    Currency:                "eur",
//	    AnchorDate:              time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
//	    DocumentsLimit:          35,
//	    DocumentsOverLimitPrice: retainer.EUR(2500),
//	}
//	err := e.SaveContract(ctx, c)
//
// The open billing period of a contract is [PeriodStart, NextInvoiceDate).
// Usage always lands in it:
//
//	rec, err := e.RecordDocumentBatch(ctx, "acme", 12)
//	session, err := e.StartTimer(ctx, "acme", retainer.WithEmployee("anna"))
//
// Only one timer session runs across the whole portfolio. Starting it for
// another client stops and credits the running one first.
//
// Invoices are pulled, not pushed:
//
//	due, err := e.DueContracts(ctx, time.Now())
//	for _, clientID := range due {
//	    draft, err := e.CommitInvoice(ctx, clientID)
//	}
//
// PreviewInvoice prices the open period without side effects. CommitInvoice
// additionally closes the period's usage and advances the schedule, all or
// nothing.
//
// # Money
//
// All monetary calculations use shopspring/decimal. Line amounts are rounded
// to the currency's minor unit with half-away-from-zero rounding, and
// invoice totals are the sums of the rounded line amounts.
package retainer

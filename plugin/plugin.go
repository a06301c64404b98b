// Package plugin provides an extensible plugin system for Retainer.
// Plugins can hook into billing lifecycle events to extend functionality.
package plugin

import (
	"context"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/entitlement"
	"github.com/xraph/retainer/invoice"
	"github.com/xraph/retainer/meter"
	"github.com/xraph/retainer/timer"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. engine is the *retainer.Engine.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Contract hooks
// ──────────────────────────────────────────────────

// OnContractSaved is called after a contract is created or updated,
// including enable and disable.
type OnContractSaved interface {
	Plugin
	OnContractSaved(ctx context.Context, c *contract.Contract, created bool) error
}

// ──────────────────────────────────────────────────
// Metering hooks
// ──────────────────────────────────────────────────

// OnDocumentsRecorded is called after batch was added to rec.
type OnDocumentsRecorded interface {
	Plugin
	OnDocumentsRecorded(ctx context.Context, batch *meter.Batch, rec *meter.Record) error
}

// OnMinutesCredited is called after minutes were added to rec, from a
// stopped timer or a manual entry.
type OnMinutesCredited interface {
	Plugin
	OnMinutesCredited(ctx context.Context, clientID, employeeID string, minutes int64, rec *meter.Record) error
}

// OnAllowanceExceeded is called when a document batch takes a client past
// its contracted allowance for the period.
type OnAllowanceExceeded interface {
	Plugin
	OnAllowanceExceeded(ctx context.Context, status *entitlement.Status) error
}

// ──────────────────────────────────────────────────
// Timer hooks
// ──────────────────────────────────────────────────

// OnTimerStarted is called after a session was opened.
type OnTimerStarted interface {
	Plugin
	OnTimerStarted(ctx context.Context, s timer.Session) error
}

// OnTimerStopped is called after a session was stopped and credited, either
// explicitly or by switching to another client.
type OnTimerStopped interface {
	Plugin
	OnTimerStopped(ctx context.Context, s *timer.Stopped) error
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoicePreviewed is called after a draft was built without committing.
type OnInvoicePreviewed interface {
	Plugin
	OnInvoicePreviewed(ctx context.Context, d *invoice.Draft) error
}

// OnInvoiceCommitted is called after a draft was committed and the period
// advanced.
type OnInvoiceCommitted interface {
	Plugin
	OnInvoiceCommitted(ctx context.Context, d *invoice.Draft) error
}

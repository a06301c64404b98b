// Package audithook bridges Retainer lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import any
// audit backend directly. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/entitlement"
	"github.com/xraph/retainer/invoice"
	"github.com/xraph/retainer/meter"
	"github.com/xraph/retainer/plugin"
	"github.com/xraph/retainer/timer"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin              = (*Extension)(nil)
	_ plugin.OnContractSaved     = (*Extension)(nil)
	_ plugin.OnDocumentsRecorded = (*Extension)(nil)
	_ plugin.OnMinutesCredited   = (*Extension)(nil)
	_ plugin.OnAllowanceExceeded = (*Extension)(nil)
	_ plugin.OnTimerStarted      = (*Extension)(nil)
	_ plugin.OnTimerStopped      = (*Extension)(nil)
	_ plugin.OnInvoiceCommitted  = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Retainer lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Contract hooks
// ──────────────────────────────────────────────────

// OnContractSaved implements plugin.OnContractSaved.
func (e *Extension) OnContractSaved(ctx context.Context, c *contract.Contract, created bool) error {
	action := ActionContractUpdated
	if created {
		action = ActionContractCreated
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceContract, c.ID.String(), CategoryBilling, nil,
		"client_id", c.ClientID,
		"enabled", c.Enabled,
		"frequency", string(c.Frequency),
		"next_invoice_date", c.NextInvoiceDate.Format(time.DateOnly),
		"version", c.Version,
	)
}

// ──────────────────────────────────────────────────
// Metering hooks
// ──────────────────────────────────────────────────

// OnDocumentsRecorded implements plugin.OnDocumentsRecorded.
func (e *Extension) OnDocumentsRecorded(ctx context.Context, batch *meter.Batch, rec *meter.Record) error {
	return e.record(ctx, ActionDocumentsRecorded, SeverityInfo, OutcomeSuccess,
		ResourceUsage, rec.ID.String(), CategoryUsage, nil,
		"client_id", batch.ClientID,
		"batch_id", batch.ID.String(),
		"count", batch.Count,
		"documents_received", rec.DocumentsReceived,
		"period_start", rec.PeriodStart.Format(time.DateOnly),
	)
}

// OnMinutesCredited implements plugin.OnMinutesCredited.
func (e *Extension) OnMinutesCredited(ctx context.Context, clientID, employeeID string, minutes int64, rec *meter.Record) error {
	return e.record(ctx, ActionMinutesCredited, SeverityInfo, OutcomeSuccess,
		ResourceUsage, rec.ID.String(), CategoryTime, nil,
		"client_id", clientID,
		"employee_id", employeeID,
		"minutes", minutes,
		"minutes_worked", rec.MinutesWorked,
	)
}

// OnAllowanceExceeded implements plugin.OnAllowanceExceeded.
func (e *Extension) OnAllowanceExceeded(ctx context.Context, status *entitlement.Status) error {
	return e.record(ctx, ActionAllowanceExceeded, SeverityWarning, OutcomeSuccess,
		ResourceUsage, status.ClientID, CategoryUsage, nil,
		"client_id", status.ClientID,
		"used", status.DocumentsUsed,
		"limit", status.DocumentsLimit,
		"overage", status.OverageDocuments,
	)
}

// ──────────────────────────────────────────────────
// Timer hooks
// ──────────────────────────────────────────────────

// OnTimerStarted implements plugin.OnTimerStarted.
func (e *Extension) OnTimerStarted(ctx context.Context, s timer.Session) error {
	return e.record(ctx, ActionTimerStarted, SeverityInfo, OutcomeSuccess,
		ResourceSession, s.ID.String(), CategoryTime, nil,
		"client_id", s.ClientID,
		"employee_id", s.EmployeeID,
	)
}

// OnTimerStopped implements plugin.OnTimerStopped.
func (e *Extension) OnTimerStopped(ctx context.Context, s *timer.Stopped) error {
	return e.record(ctx, ActionTimerStopped, SeverityInfo, OutcomeSuccess,
		ResourceSession, s.ID.String(), CategoryTime, nil,
		"client_id", s.ClientID,
		"employee_id", s.EmployeeID,
		"minutes", s.Minutes,
	)
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceCommitted implements plugin.OnInvoiceCommitted.
func (e *Extension) OnInvoiceCommitted(ctx context.Context, d *invoice.Draft) error {
	return e.record(ctx, ActionInvoiceCommitted, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, d.ID.String(), CategoryBilling, nil,
		"client_id", d.ClientID,
		"period_start", d.PeriodStart.Format(time.DateOnly),
		"period_end", d.PeriodEnd.Format(time.DateOnly),
		"total_gross", d.TotalGross.String(),
		"documents_over_limit", d.Flags.DocumentsOverLimit,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled. Recorder
// failures are logged and never fail the operation that triggered them.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

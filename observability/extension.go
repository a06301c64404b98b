// Package observability provides a metrics extension for Retainer that
// records lifecycle event counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/entitlement"
	"github.com/xraph/retainer/invoice"
	"github.com/xraph/retainer/meter"
	"github.com/xraph/retainer/plugin"
	"github.com/xraph/retainer/timer"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin              = (*MetricsExtension)(nil)
	_ plugin.OnInit              = (*MetricsExtension)(nil)
	_ plugin.OnContractSaved     = (*MetricsExtension)(nil)
	_ plugin.OnDocumentsRecorded = (*MetricsExtension)(nil)
	_ plugin.OnMinutesCredited   = (*MetricsExtension)(nil)
	_ plugin.OnAllowanceExceeded = (*MetricsExtension)(nil)
	_ plugin.OnTimerStarted      = (*MetricsExtension)(nil)
	_ plugin.OnTimerStopped      = (*MetricsExtension)(nil)
	_ plugin.OnInvoicePreviewed  = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceCommitted  = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records portfolio-wide billing metrics.
// Register it as a Retainer plugin to track them automatically.
type MetricsExtension struct {
	// Contract metrics
	ContractCreated Counter
	ContractUpdated Counter

	// Metering metrics
	DocumentsRecorded Counter
	DocumentBatchSize Histogram
	MinutesCredited   Counter
	AllowanceExceeded Counter
	OverageDocuments  Histogram

	// Timer metrics
	TimerStarted   Counter
	TimerStopped   Counter
	SessionMinutes Histogram

	// Invoice metrics
	InvoicePreviewed    Counter
	InvoiceCommitted    Counter
	InvoiceGross        Histogram
	InvoiceOverLimit    Counter
	InvoiceHoursOverCap Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		// Contract metrics
		ContractCreated: factory.Counter("retainer.contract.created"),
		ContractUpdated: factory.Counter("retainer.contract.updated"),

		// Metering metrics
		DocumentsRecorded: factory.Counter("retainer.usage.documents"),
		DocumentBatchSize: factory.Histogram("retainer.usage.documents.batch_size"),
		MinutesCredited:   factory.Counter("retainer.usage.minutes"),
		AllowanceExceeded: factory.Counter("retainer.allowance.exceeded"),
		OverageDocuments:  factory.Histogram("retainer.allowance.overage_documents"),

		// Timer metrics
		TimerStarted:   factory.Counter("retainer.timer.started"),
		TimerStopped:   factory.Counter("retainer.timer.stopped"),
		SessionMinutes: factory.Histogram("retainer.timer.session_minutes"),

		// Invoice metrics
		InvoicePreviewed:    factory.Counter("retainer.invoice.previewed"),
		InvoiceCommitted:    factory.Counter("retainer.invoice.committed"),
		InvoiceGross:        factory.Histogram("retainer.invoice.total_gross"),
		InvoiceOverLimit:    factory.Counter("retainer.invoice.documents_over_limit"),
		InvoiceHoursOverCap: factory.Counter("retainer.invoice.hours_over_cap"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Contract hooks
// ──────────────────────────────────────────────────

// OnContractSaved implements plugin.OnContractSaved.
func (m *MetricsExtension) OnContractSaved(_ context.Context, _ *contract.Contract, created bool) error {
	if created {
		m.ContractCreated.Inc()
	} else {
		m.ContractUpdated.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Metering hooks
// ──────────────────────────────────────────────────

// OnDocumentsRecorded implements plugin.OnDocumentsRecorded.
func (m *MetricsExtension) OnDocumentsRecorded(_ context.Context, batch *meter.Batch, _ *meter.Record) error {
	m.DocumentsRecorded.Add(float64(batch.Count))
	m.DocumentBatchSize.Observe(float64(batch.Count))
	return nil
}

// OnMinutesCredited implements plugin.OnMinutesCredited.
func (m *MetricsExtension) OnMinutesCredited(_ context.Context, _, _ string, minutes int64, _ *meter.Record) error {
	m.MinutesCredited.Add(float64(minutes))
	return nil
}

// OnAllowanceExceeded implements plugin.OnAllowanceExceeded.
func (m *MetricsExtension) OnAllowanceExceeded(_ context.Context, status *entitlement.Status) error {
	m.AllowanceExceeded.Inc()
	m.OverageDocuments.Observe(float64(status.OverageDocuments))
	return nil
}

// ──────────────────────────────────────────────────
// Timer hooks
// ──────────────────────────────────────────────────

// OnTimerStarted implements plugin.OnTimerStarted.
func (m *MetricsExtension) OnTimerStarted(_ context.Context, _ timer.Session) error {
	m.TimerStarted.Inc()
	return nil
}

// OnTimerStopped implements plugin.OnTimerStopped.
func (m *MetricsExtension) OnTimerStopped(_ context.Context, s *timer.Stopped) error {
	m.TimerStopped.Inc()
	m.SessionMinutes.Observe(float64(s.Minutes))
	return nil
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoicePreviewed implements plugin.OnInvoicePreviewed.
func (m *MetricsExtension) OnInvoicePreviewed(_ context.Context, _ *invoice.Draft) error {
	m.InvoicePreviewed.Inc()
	return nil
}

// OnInvoiceCommitted implements plugin.OnInvoiceCommitted.
func (m *MetricsExtension) OnInvoiceCommitted(_ context.Context, d *invoice.Draft) error {
	m.InvoiceCommitted.Inc()
	m.InvoiceGross.Observe(d.TotalGross.Amount.InexactFloat64())
	if d.Flags.DocumentsOverLimit {
		m.InvoiceOverLimit.Inc()
	}
	if d.Flags.HoursOverCap {
		m.InvoiceHoursOverCap.Inc()
	}
	return nil
}

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/entitlement"
	"github.com/xraph/retainer/invoice"
	"github.com/xraph/retainer/meter"
	"github.com/xraph/retainer/timer"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so dispatch never type-asserts.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit              []OnInit
	onShutdown          []OnShutdown
	onContractSaved     []OnContractSaved
	onDocumentsRecorded []OnDocumentsRecorded
	onMinutesCredited   []OnMinutesCredited
	onAllowanceExceeded []OnAllowanceExceeded
	onTimerStarted      []OnTimerStarted
	onTimerStopped      []OnTimerStopped
	onInvoicePreviewed  []OnInvoicePreviewed
	onInvoiceCommitted  []OnInvoiceCommitted
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnContractSaved); ok {
		r.onContractSaved = append(r.onContractSaved, v)
	}
	if v, ok := p.(OnDocumentsRecorded); ok {
		r.onDocumentsRecorded = append(r.onDocumentsRecorded, v)
	}
	if v, ok := p.(OnMinutesCredited); ok {
		r.onMinutesCredited = append(r.onMinutesCredited, v)
	}
	if v, ok := p.(OnAllowanceExceeded); ok {
		r.onAllowanceExceeded = append(r.onAllowanceExceeded, v)
	}
	if v, ok := p.(OnTimerStarted); ok {
		r.onTimerStarted = append(r.onTimerStarted, v)
	}
	if v, ok := p.(OnTimerStopped); ok {
		r.onTimerStopped = append(r.onTimerStopped, v)
	}
	if v, ok := p.(OnInvoicePreviewed); ok {
		r.onInvoicePreviewed = append(r.onInvoicePreviewed, v)
	}
	if v, ok := p.(OnInvoiceCommitted); ok {
		r.onInvoiceCommitted = append(r.onInvoiceCommitted, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnContractSaved", reflect.TypeFor[OnContractSaved]()},
	{"OnDocumentsRecorded", reflect.TypeFor[OnDocumentsRecorded]()},
	{"OnMinutesCredited", reflect.TypeFor[OnMinutesCredited]()},
	{"OnAllowanceExceeded", reflect.TypeFor[OnAllowanceExceeded]()},
	{"OnTimerStarted", reflect.TypeFor[OnTimerStarted]()},
	{"OnTimerStopped", reflect.TypeFor[OnTimerStopped]()},
	{"OnInvoicePreviewed", reflect.TypeFor[OnInvoicePreviewed]()},
	{"OnInvoiceCommitted", reflect.TypeFor[OnInvoiceCommitted]()},
}

// implementedInterfaces returns the names of the hooks p implements.
func implementedInterfaces(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every plugin in the snapshot taken under the read lock.
// Failures are logged and never reach the caller.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, list func() []T, fn func(T) error) {
	r.mu.RLock()
	plugins := list()
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", func() []OnInit { return r.onInit }, func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", func() []OnShutdown { return r.onShutdown }, func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitContractSaved emits a contract saved event.
func (r *Registry) EmitContractSaved(ctx context.Context, c *contract.Contract, created bool) {
	emit(ctx, r, "OnContractSaved", func() []OnContractSaved { return r.onContractSaved }, func(p OnContractSaved) error {
		return p.OnContractSaved(ctx, c, created)
	})
}

// EmitDocumentsRecorded emits a documents recorded event.
func (r *Registry) EmitDocumentsRecorded(ctx context.Context, batch *meter.Batch, rec *meter.Record) {
	emit(ctx, r, "OnDocumentsRecorded", func() []OnDocumentsRecorded { return r.onDocumentsRecorded }, func(p OnDocumentsRecorded) error {
		return p.OnDocumentsRecorded(ctx, batch, rec)
	})
}

// EmitMinutesCredited emits a minutes credited event.
func (r *Registry) EmitMinutesCredited(ctx context.Context, clientID, employeeID string, minutes int64, rec *meter.Record) {
	emit(ctx, r, "OnMinutesCredited", func() []OnMinutesCredited { return r.onMinutesCredited }, func(p OnMinutesCredited) error {
		return p.OnMinutesCredited(ctx, clientID, employeeID, minutes, rec)
	})
}

// EmitAllowanceExceeded emits an allowance exceeded event.
func (r *Registry) EmitAllowanceExceeded(ctx context.Context, status *entitlement.Status) {
	emit(ctx, r, "OnAllowanceExceeded", func() []OnAllowanceExceeded { return r.onAllowanceExceeded }, func(p OnAllowanceExceeded) error {
		return p.OnAllowanceExceeded(ctx, status)
	})
}

// EmitTimerStarted emits a timer started event.
func (r *Registry) EmitTimerStarted(ctx context.Context, s timer.Session) {
	emit(ctx, r, "OnTimerStarted", func() []OnTimerStarted { return r.onTimerStarted }, func(p OnTimerStarted) error {
		return p.OnTimerStarted(ctx, s)
	})
}

// EmitTimerStopped emits a timer stopped event.
func (r *Registry) EmitTimerStopped(ctx context.Context, s *timer.Stopped) {
	emit(ctx, r, "OnTimerStopped", func() []OnTimerStopped { return r.onTimerStopped }, func(p OnTimerStopped) error {
		return p.OnTimerStopped(ctx, s)
	})
}

// EmitInvoicePreviewed emits an invoice previewed event.
func (r *Registry) EmitInvoicePreviewed(ctx context.Context, d *invoice.Draft) {
	emit(ctx, r, "OnInvoicePreviewed", func() []OnInvoicePreviewed { return r.onInvoicePreviewed }, func(p OnInvoicePreviewed) error {
		return p.OnInvoicePreviewed(ctx, d)
	})
}

// EmitInvoiceCommitted emits an invoice committed event.
func (r *Registry) EmitInvoiceCommitted(ctx context.Context, d *invoice.Draft) {
	emit(ctx, r, "OnInvoiceCommitted", func() []OnInvoiceCommitted { return r.onInvoiceCommitted }, func(p OnInvoiceCommitted) error {
		return p.OnInvoiceCommitted(ctx, d)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(r.timeout):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}

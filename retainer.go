package retainer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/idempotency"
	"github.com/xraph/retainer/internal/keylock"
	"github.com/xraph/retainer/invoice"
	"github.com/xraph/retainer/meter"
	"github.com/xraph/retainer/plugin"
	"github.com/xraph/retainer/schedule"
	"github.com/xraph/retainer/store"
	"github.com/xraph/retainer/timer"
)

// Engine is the billing engine. It is request driven: nothing runs in the
// background and due invoices are pulled with DueContracts.
//
// Operations on the same client are serialized; different clients proceed
// in parallel. The only portfolio-wide state is the single timer session.
type Engine struct {
	store   store.Store
	meter   *meter.Meter
	timers  *timer.Registry
	builder *invoice.Builder
	plugins *plugin.Registry
	logger  *slog.Logger
	clock   func() time.Time

	// Per-client serialization of contract, usage and commit updates
	locks *keylock.Map

	// Document batch deduplication
	idem    idempotency.Store
	idemTTL time.Duration

	builderOpts []invoice.BuilderOption
}

// New creates a new Engine on top of s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		plugins: plugin.NewRegistry(),
		logger:  slog.Default(),
		clock:   time.Now,
		locks:   keylock.New(),
		idemTTL: idempotency.DefaultTTL,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.idem == nil {
		e.idem = idempotency.NewMemory()
	}
	e.meter = meter.New(s, meter.WithClock(e.now))
	e.builder = invoice.NewBuilder(e.builderOpts...)
	e.timers = timer.NewRegistry(timer.CrediterFunc(e.creditTimer))

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock overrides the time source. Timer sessions, issue dates and
// record timestamps all use it.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// WithIdempotencyStore sets where document batch keys are remembered.
// Defaults to an in-process store.
func WithIdempotencyStore(s idempotency.Store) Option {
	return func(e *Engine) { e.idem = s }
}

// WithIdempotencyTTL sets how long a batch key is remembered.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.idemTTL = ttl
		}
	}
}

// WithLaborTaxPolicy sets how labor lines are taxed.
func WithLaborTaxPolicy(p invoice.LaborTaxPolicy) Option {
	return func(e *Engine) {
		e.builderOpts = append(e.builderOpts, invoice.WithLaborTaxPolicy(p))
	}
}

// WithBuilderOptions passes options to the invoice builder.
func WithBuilderOptions(opts ...invoice.BuilderOption) Option {
	return func(e *Engine) {
		e.builderOpts = append(e.builderOpts, opts...)
	}
}

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return errors.Join(ErrMigrationFailed, err)
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("retainer started",
		"plugins", e.plugins.Count(),
		"idempotency_ttl", e.idemTTL,
	)

	return nil
}

// Stop credits a running timer session, shuts plugins down and closes the
// stores.
func (e *Engine) Stop() error {
	ctx := context.Background()

	if s, ok := e.timers.Active(); ok {
		if stopped, err := e.timers.Stop(ctx, s.ClientID, e.now()); err != nil {
			e.logger.Warn("retainer: timer not credited on shutdown",
				"client_id", s.ClientID,
				"error", err,
			)
		} else {
			e.plugins.EmitTimerStopped(ctx, stopped)
		}
	}

	e.plugins.EmitShutdown(ctx)

	return errors.Join(e.idem.Close(), e.store.Close())
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

func (e *Engine) now() time.Time { return e.clock().UTC() }

// today is the engine clock's calendar date.
func (e *Engine) today() time.Time { return schedule.Date(e.now()) }

// currentPeriod is the open billing period of c.
func currentPeriod(c *contract.Contract) meter.Period {
	start, end := schedule.Period(c)
	return meter.Period{Start: start, End: end}
}

// lockClient serializes work on one client's contract and usage.
func (e *Engine) lockClient(clientID string) func() {
	return e.locks.Lock("client:" + clientID)
}

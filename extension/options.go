package extension

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/retainer"
	audithook "github.com/xraph/retainer/audit_hook"
	"github.com/xraph/retainer/observability"
	"github.com/xraph/retainer/plugin"
	"github.com/xraph/retainer/store"
	mongostore "github.com/xraph/retainer/store/mongo"
	pgstore "github.com/xraph/retainer/store/postgres"
	sqlitestore "github.com/xraph/retainer/store/sqlite"
)

// Option configures the Retainer Forge extension.
type Option func(*Extension)

// WithStore sets the store for the billing engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithPostgres stores contracts and usage in PostgreSQL through db.
func WithPostgres(db *grove.DB) Option {
	return WithStore(pgstore.New(db))
}

// WithSQLite stores contracts and usage in SQLite through db.
func WithSQLite(db *grove.DB) Option {
	return WithStore(sqlitestore.New(db))
}

// WithMongo stores contracts and usage in MongoDB through db.
func WithMongo(db *grove.DB) Option {
	return WithStore(mongostore.New(db))
}

// WithEngineOption passes a retainer.Option through to the underlying engine.
func WithEngineOption(opt retainer.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a retainer plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, retainer.WithPlugin(p))
	}
}

// WithMetrics registers the metrics plugin backed by factory.
func WithMetrics(factory observability.MetricFactory) Option {
	return WithPlugin(observability.NewMetricsExtension(factory))
}

// WithAuditRecorder registers the audit plugin writing to r.
func WithAuditRecorder(r audithook.Recorder, opts ...audithook.Option) Option {
	return WithPlugin(audithook.New(r, opts...))
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithIdempotencyTTL sets how long document batch keys are remembered.
func WithIdempotencyTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.IdempotencyTTL = d }
}

// WithLaborTax selects the labor tax policy by name.
func WithLaborTax(name string) Option {
	return func(e *Extension) { e.config.LaborTax = name }
}

// WithRedisAddr keeps document batch keys in Redis at addr.
func WithRedisAddr(addr string) Option {
	return func(e *Extension) { e.config.Redis.Addr = addr }
}

// Package extension provides the Forge extension adapter for Retainer.
//
// It implements the forge.Extension interface to integrate the billing
// engine into a Forge application with DI registration and lifecycle
// management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.retainer" or "retainer" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/retainer"
	redisidem "github.com/xraph/retainer/idempotency/redis"
	"github.com/xraph/retainer/invoice"
	"github.com/xraph/retainer/store"
	"github.com/xraph/retainer/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "retainer"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Recurring client billing and usage metering"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Retainer as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *retainer.Engine
	store      store.Store
	engineOpts []retainer.Option
}

// New creates a new Retainer Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *retainer.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	opts, err := e.buildEngineOpts(context.Background())
	if err != nil {
		return err
	}

	e.engine = retainer.New(e.store, opts...)

	return vessel.Provide(fapp.Container(), func() (*retainer.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("retainer: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("retainer: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs retainer.Option values from the resolved config.
func (e *Extension) buildEngineOpts(ctx context.Context) ([]retainer.Option, error) {
	opts := make([]retainer.Option, 0, len(e.engineOpts)+3)

	if e.config.IdempotencyTTL > 0 {
		opts = append(opts, retainer.WithIdempotencyTTL(e.config.IdempotencyTTL))
	}

	policy, err := laborTaxPolicy(e.config.LaborTax)
	if err != nil {
		return nil, err
	}
	opts = append(opts, retainer.WithLaborTaxPolicy(policy))

	if e.config.Redis.Addr != "" {
		idem, err := redisidem.New(ctx, e.config.Redis)
		if err != nil {
			return nil, fmt.Errorf("retainer: idempotency store: %w", err)
		}
		opts = append(opts, retainer.WithIdempotencyStore(idem))
	}

	// Append any pass-through engine options.
	opts = append(opts, e.engineOpts...)

	return opts, nil
}

func laborTaxPolicy(name string) (invoice.LaborTaxPolicy, error) {
	switch name {
	case "", LaborTaxTierRate:
		return invoice.TierRateOrBase, nil
	case LaborTaxSharedBase:
		return invoice.SharedBaseRate, nil
	default:
		return nil, fmt.Errorf("retainer: unknown labor tax policy %q", name)
	}
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("retainer: configuration is required but not found in config files; " +
				"ensure 'extensions.retainer' or 'retainer' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("retainer: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("idempotency_ttl", e.config.IdempotencyTTL),
		forge.F("labor_tax", e.config.LaborTax),
		forge.F("redis", e.config.Redis.Addr != ""),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.retainer", "retainer"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("retainer: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("retainer: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.IdempotencyTTL == 0 {
		cfg.IdempotencyTTL = defaults.IdempotencyTTL
	}
	if cfg.LaborTax == "" {
		cfg.LaborTax = defaults.LaborTax
	}
	if cfg.Redis.Addr != "" && cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = redisidem.DefaultKeyPrefix
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if yamlConfig.IdempotencyTTL == 0 && programmaticConfig.IdempotencyTTL != 0 {
		yamlConfig.IdempotencyTTL = programmaticConfig.IdempotencyTTL
	}
	if yamlConfig.LaborTax == "" && programmaticConfig.LaborTax != "" {
		yamlConfig.LaborTax = programmaticConfig.LaborTax
	}
	if yamlConfig.Redis.Addr == "" && programmaticConfig.Redis.Addr != "" {
		yamlConfig.Redis = programmaticConfig.Redis
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}

package extension

import (
	"time"

	redisidem "github.com/xraph/retainer/idempotency/redis"
)

// Labor tax policy names accepted in Config.LaborTax.
const (
	LaborTaxTierRate   = "tier_rate"
	LaborTaxSharedBase = "shared_base"
)

// Config holds the Retainer extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.retainer" or "retainer" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// IdempotencyTTL is how long document batch keys are remembered
	// (default: 24h).
	IdempotencyTTL time.Duration `json:"idempotency_ttl" mapstructure:"idempotency_ttl" yaml:"idempotency_ttl"`

	// LaborTax selects how labor lines are taxed: "tier_rate" uses the
	// tier's rate with the base rate as fallback, "shared_base" always uses
	// the base rate (default: "tier_rate").
	LaborTax string `json:"labor_tax" mapstructure:"labor_tax" yaml:"labor_tax"`

	// Redis moves document batch keys to Redis so several processes share
	// them. Left empty, keys stay in process memory.
	Redis redisidem.Config `json:"redis" mapstructure:"redis" yaml:"redis"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		IdempotencyTTL: 24 * time.Hour,
		LaborTax:       LaborTaxTierRate,
	}
}

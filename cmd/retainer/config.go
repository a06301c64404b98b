package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the CLI configuration. It is read from retainer.yaml (or the
// file given with -config) and RETAINER_* environment variables.
type Config struct {
	Log       LogConfig
	LaborTax  string
	Contracts []portfolioContract
}

// Priority (highest to lowest):
// 1. Environment variables with RETAINER_ prefix (e.g., RETAINER_LOG_LEVEL)
// 2. The config file
// 3. Built-in defaults
func loadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("labor_tax", "tier_rate")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("retainer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/retainer")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("RETAINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		LaborTax: v.GetString("labor_tax"),
	}
	if err := v.UnmarshalKey("contracts", &cfg.Contracts); err != nil {
		return nil, fmt.Errorf("decode contracts: %w", err)
	}
	return cfg, nil
}

// parseAsOf reads a -as-of flag value. Empty means today.
func parseAsOf(s string, now time.Time) (time.Time, error) {
	if s == "" {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid -as-of %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

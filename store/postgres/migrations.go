package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Retainer store.
var Migrations = migrate.NewGroup("retainer")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_retainer_contracts",
			Version: "20240301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS retainer_contracts (
    client_id                  TEXT PRIMARY KEY,
    id                         TEXT NOT NULL UNIQUE,
    enabled                    BOOLEAN NOT NULL DEFAULT TRUE,
    frequency                  TEXT NOT NULL DEFAULT 'monthly',
    currency                   TEXT NOT NULL DEFAULT 'eur',
    anchor_date                DATE NOT NULL,
    period_start               DATE NOT NULL,
    next_invoice_date          DATE NOT NULL,
    base_items                 JSONB NOT NULL DEFAULT '[]',
    base_tax_rate              NUMERIC(7,4) NOT NULL DEFAULT 0,
    employee_pricing           JSONB NOT NULL DEFAULT '{}',
    employee_tiers             JSONB NOT NULL DEFAULT '{}',
    default_tier               TEXT NOT NULL DEFAULT '',
    tier_tax_rates             JSONB NOT NULL DEFAULT '{}',
    documents_limit            BIGINT NOT NULL DEFAULT 0,
    documents_over_limit_price NUMERIC(20,6) NOT NULL DEFAULT 0,
    max_hours_per_month        NUMERIC(10,2),
    payment_terms_days         INT NOT NULL DEFAULT 0,
    version                    BIGINT NOT NULL DEFAULT 0,
    metadata                   JSONB NOT NULL DEFAULT '{}',
    created_at                 TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at                 TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (next_invoice_date > period_start)
);

CREATE INDEX IF NOT EXISTS idx_retainer_contracts_due ON retainer_contracts (next_invoice_date, client_id) WHERE enabled;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS retainer_contracts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_retainer_usage",
			Version: "20240301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS retainer_usage (
    client_id          TEXT NOT NULL,
    period_start       DATE NOT NULL,
    id                 TEXT NOT NULL UNIQUE,
    period_end         DATE NOT NULL,
    documents_received BIGINT NOT NULL DEFAULT 0 CHECK (documents_received >= 0),
    minutes_worked     BIGINT NOT NULL DEFAULT 0 CHECK (minutes_worked >= 0),
    closed             BOOLEAN NOT NULL DEFAULT FALSE,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (client_id, period_start)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS retainer_usage`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_retainer_usage_minutes",
			Version: "20240301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS retainer_usage_minutes (
    client_id    TEXT NOT NULL,
    period_start DATE NOT NULL,
    employee_id  TEXT NOT NULL DEFAULT '',
    minutes      BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (client_id, period_start, employee_id),
    FOREIGN KEY (client_id, period_start) REFERENCES retainer_usage (client_id, period_start) ON DELETE CASCADE
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS retainer_usage_minutes`)
				return err
			},
		},
	)
}

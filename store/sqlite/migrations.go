package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Retainer store (SQLite).
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
    enabled                    INTEGER NOT NULL DEFAULT 1,
    frequency                  TEXT NOT NULL DEFAULT 'monthly',
    currency                   TEXT NOT NULL DEFAULT 'eur',
    anchor_date                TEXT NOT NULL,
    period_start               TEXT NOT NULL,
    next_invoice_date          TEXT NOT NULL,
    pending_usage_id           TEXT NOT NULL DEFAULT '',
    base_items                 TEXT NOT NULL DEFAULT '[]',
    base_tax_rate              TEXT NOT NULL DEFAULT '0',
    employee_pricing           TEXT NOT NULL DEFAULT '{}',
    employee_tiers             TEXT NOT NULL DEFAULT '{}',
    default_tier               TEXT NOT NULL DEFAULT '',
    tier_tax_rates             TEXT NOT NULL DEFAULT '{}',
    documents_limit            INTEGER NOT NULL DEFAULT 0,
    documents_over_limit_price TEXT NOT NULL DEFAULT '0',
    max_hours_per_month        TEXT NOT NULL DEFAULT '',
    payment_terms_days         INTEGER NOT NULL DEFAULT 0,
    version                    INTEGER NOT NULL DEFAULT 0,
    metadata                   TEXT NOT NULL DEFAULT '{}',
    created_at                 TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    updated_at                 TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    CHECK (next_invoice_date > period_start)
);

CREATE INDEX IF NOT EXISTS idx_retainer_contracts_due ON retainer_contracts (enabled, next_invoice_date, client_id);
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
    period_start       TEXT NOT NULL,
    id                 TEXT NOT NULL UNIQUE,
    period_end         TEXT NOT NULL,
    documents_received INTEGER NOT NULL DEFAULT 0 CHECK (documents_received >= 0),
    minutes_worked     INTEGER NOT NULL DEFAULT 0 CHECK (minutes_worked >= 0),
    closed             INTEGER NOT NULL DEFAULT 0,
    created_at         TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    updated_at         TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    PRIMARY KEY (client_id, period_start)
);

CREATE TABLE IF NOT EXISTS retainer_usage_minutes (
    client_id    TEXT NOT NULL,
    period_start TEXT NOT NULL,
    employee_id  TEXT NOT NULL DEFAULT '',
    minutes      INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (client_id, period_start, employee_id)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS retainer_usage_minutes;
DROP TABLE IF EXISTS retainer_usage;
`)
				return err
			},
		},
		&migrate.Migration{
			// Minute shares roll up into the record total, and moving a
			// contract's period closes the old record and opens the next one.
			// Both happen inside the triggering statement.
			Name:    "create_retainer_triggers",
			Version: "20240301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TRIGGER IF NOT EXISTS retainer_usage_minutes_added
AFTER INSERT ON retainer_usage_minutes
BEGIN
    UPDATE retainer_usage
    SET minutes_worked = minutes_worked + NEW.minutes,
        updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
    WHERE client_id = NEW.client_id AND period_start = NEW.period_start;
END;

CREATE TRIGGER IF NOT EXISTS retainer_usage_minutes_changed
AFTER UPDATE OF minutes ON retainer_usage_minutes
BEGIN
    UPDATE retainer_usage
    SET minutes_worked = minutes_worked + NEW.minutes - OLD.minutes,
        updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
    WHERE client_id = NEW.client_id AND period_start = NEW.period_start;
END;

CREATE TRIGGER IF NOT EXISTS retainer_contracts_period_committed
AFTER UPDATE OF period_start ON retainer_contracts
WHEN NEW.period_start <> OLD.period_start
BEGIN
    UPDATE retainer_usage
    SET closed = 1, updated_at = NEW.updated_at
    WHERE client_id = NEW.client_id AND period_start = OLD.period_start;

    INSERT OR IGNORE INTO retainer_usage
        (client_id, period_start, id, period_end, documents_received, minutes_worked, closed, created_at, updated_at)
    VALUES
        (NEW.client_id, NEW.period_start, NEW.pending_usage_id, NEW.next_invoice_date, 0, 0, 0, NEW.updated_at, NEW.updated_at);
END;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TRIGGER IF EXISTS retainer_contracts_period_committed;
DROP TRIGGER IF EXISTS retainer_usage_minutes_changed;
DROP TRIGGER IF EXISTS retainer_usage_minutes_added;
`)
				return err
			},
		},
	)
}

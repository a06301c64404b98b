package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/retainer"
	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/meter"
	retainerstore "github.com/xraph/retainer/store"
)

// compile-time interface check
var _ retainerstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
//
// Counter updates are single statements, and CommitPeriod runs as one
// statement made of data-modifying CTEs, so no explicit transactions are
// needed.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("retainer/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("retainer/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Contract Store ====================

func (s *Store) CreateContract(ctx context.Context, c *contract.Contract) error {
	m, err := toContractModel(c)
	if err != nil {
		return fmt.Errorf("retainer/postgres: %w", err)
	}
	res, err := s.pg.NewInsert(m).
		OnConflict("(client_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("retainer/postgres: create contract: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: client %s", retainer.ErrContractExists, c.ClientID)
	}
	return nil
}

func (s *Store) GetContract(ctx context.Context, clientID string) (*contract.Contract, error) {
	m := new(contractModel)
	err := s.pg.NewSelect(m).
		Where("client_id = $1", clientID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: client %s", retainer.ErrContractNotFound, clientID)
		}
		return nil, fmt.Errorf("retainer/postgres: get contract: %w", err)
	}
	return fromContractModel(m)
}

// UpdateContract writes the terms of c. The billing period columns are
// left alone; only CommitPeriod moves them.
func (s *Store) UpdateContract(ctx context.Context, c *contract.Contract) error {
	m, err := toContractModel(c)
	if err != nil {
		return fmt.Errorf("retainer/postgres: %w", err)
	}
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("retainer/postgres: encode metadata: %w", err)
	}
	t := now()

	var version int64
	err = s.pg.NewRaw(`
		UPDATE retainer_contracts SET
			enabled = $3,
			frequency = $4,
			currency = $5,
			anchor_date = $6,
			base_items = $7::jsonb,
			base_tax_rate = $8,
			employee_pricing = $9::jsonb,
			employee_tiers = $10::jsonb,
			default_tier = $11,
			tier_tax_rates = $12::jsonb,
			documents_limit = $13,
			documents_over_limit_price = $14,
			max_hours_per_month = $15,
			payment_terms_days = $16,
			metadata = $17::jsonb,
			version = version + 1,
			updated_at = $18
		WHERE client_id = $1 AND version = $2
		RETURNING version
	`,
		m.ClientID, m.Version,
		m.Enabled, m.Frequency, m.Currency, m.AnchorDate,
		string(m.BaseItems), m.BaseTaxRate, string(m.EmployeePricing),
		string(m.EmployeeTiers), m.DefaultTier, string(m.TierTaxRates),
		m.DocumentsLimit, m.DocumentsOverLimitPrice, m.MaxHoursPerMonth,
		m.PaymentTermsDays, string(metadata), t,
	).Scan(ctx, &version)
	if err != nil {
		if isNoRows(err) {
			return s.versionConflict(ctx, c)
		}
		return fmt.Errorf("retainer/postgres: update contract: %w", err)
	}

	c.Version = version
	c.Touch(t)
	return nil
}

func (s *Store) ListContracts(ctx context.Context, opts contract.ListOpts) ([]*contract.Contract, error) {
	var models []contractModel
	q := s.pg.NewSelect(&models)

	if opts.EnabledOnly {
		q = q.Where("enabled = $1", true)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("client_id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("retainer/postgres: list contracts: %w", err)
	}
	return fromContractModels(models)
}

func (s *Store) ListDueContracts(ctx context.Context, asOf time.Time) ([]*contract.Contract, error) {
	var models []contractModel
	err := s.pg.NewSelect(&models).
		Where("enabled = $1", true).
		Where("next_invoice_date <= $2", dateOf(asOf)).
		OrderExpr("next_invoice_date ASC, client_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("retainer/postgres: list due contracts: %w", err)
	}
	return fromContractModels(models)
}

func fromContractModels(models []contractModel) ([]*contract.Contract, error) {
	result := make([]*contract.Contract, len(models))
	for i := range models {
		c, err := fromContractModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

// versionConflict explains why a versioned write matched no row.
func (s *Store) versionConflict(ctx context.Context, c *contract.Contract) error {
	cur, err := s.GetContract(ctx, c.ClientID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: client %s at version %d, have %d",
		retainer.ErrConcurrentUpdate, c.ClientID, cur.Version, c.Version)
}

// ==================== Usage Store ====================

func (s *Store) OpenUsage(ctx context.Context, r *meter.Record) error {
	_, err := s.pg.NewInsert(toUsageModel(r)).
		OnConflict("(client_id, period_start) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("retainer/postgres: open usage: %w", err)
	}
	return nil
}

func (s *Store) GetUsage(ctx context.Context, clientID string, periodStart time.Time) (*meter.Record, error) {
	m := new(usageModel)
	err := s.pg.NewSelect(m).
		Where("client_id = $1", clientID).
		Where("period_start = $2", dateOf(periodStart)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: client %s period %s", meter.ErrNoRecord, clientID, periodStart.Format(time.DateOnly))
		}
		return nil, fmt.Errorf("retainer/postgres: get usage: %w", err)
	}

	var minutes []usageMinutesModel
	err = s.pg.NewSelect(&minutes).
		Where("client_id = $1", clientID).
		Where("period_start = $2", dateOf(periodStart)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("retainer/postgres: get usage minutes: %w", err)
	}
	return fromUsageModel(m, minutes)
}

func (s *Store) AddDocuments(ctx context.Context, clientID string, periodStart time.Time, count int64) error {
	res, err := s.pg.NewUpdate((*usageModel)(nil)).
		Set("documents_received = documents_received + $1", count).
		Set("updated_at = $2", now()).
		Where("client_id = $3", clientID).
		Where("period_start = $4", dateOf(periodStart)).
		Where("closed = FALSE").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("retainer/postgres: add documents: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.notWritable(ctx, clientID, periodStart)
	}
	return nil
}

// AddMinutes bumps the record total and the employee's share in a single
// statement.
func (s *Store) AddMinutes(ctx context.Context, clientID string, periodStart time.Time, employeeID string, minutes int64) error {
	var matched int64
	err := s.pg.NewRaw(`
		WITH rec AS (
			UPDATE retainer_usage
			SET minutes_worked = minutes_worked + $3, updated_at = $5
			WHERE client_id = $1 AND period_start = $2 AND closed = FALSE
			RETURNING client_id, period_start
		), emp AS (
			INSERT INTO retainer_usage_minutes (client_id, period_start, employee_id, minutes)
			SELECT client_id, period_start, $4, $3 FROM rec
			ON CONFLICT (client_id, period_start, employee_id)
			DO UPDATE SET minutes = retainer_usage_minutes.minutes + EXCLUDED.minutes
			RETURNING 1
		)
		SELECT COUNT(*) FROM rec
	`, clientID, dateOf(periodStart), minutes, employeeID, now()).Scan(ctx, &matched)
	if err != nil {
		return fmt.Errorf("retainer/postgres: add minutes: %w", err)
	}
	if matched == 0 {
		return s.notWritable(ctx, clientID, periodStart)
	}
	return nil
}

// notWritable tells a missing record from a closed one after an increment
// matched nothing.
func (s *Store) notWritable(ctx context.Context, clientID string, periodStart time.Time) error {
	r, err := s.GetUsage(ctx, clientID, periodStart)
	if err != nil {
		return err
	}
	if r.Closed {
		return fmt.Errorf("%w: client %s period %s", meter.ErrPeriodClosed, clientID, periodStart.Format(time.DateOnly))
	}
	return fmt.Errorf("retainer/postgres: usage of %s for %s changed concurrently", clientID, periodStart.Format(time.DateOnly))
}

func (s *Store) ListUsage(ctx context.Context, clientID string, opts meter.ListOpts) ([]*meter.Record, error) {
	var models []usageModel
	q := s.pg.NewSelect(&models).
		Where("client_id = $1", clientID)

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("period_start DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("retainer/postgres: list usage: %w", err)
	}
	if len(models) == 0 {
		return nil, nil
	}

	var minutes []usageMinutesModel
	err := s.pg.NewSelect(&minutes).
		Where("client_id = $1", clientID).
		Where("period_start >= $2", models[len(models)-1].PeriodStart).
		Where("period_start <= $3", models[0].PeriodStart).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("retainer/postgres: list usage minutes: %w", err)
	}
	byPeriod := make(map[string][]usageMinutesModel)
	for _, em := range minutes {
		k := dateOf(em.PeriodStart).Format(time.DateOnly)
		byPeriod[k] = append(byPeriod[k], em)
	}

	result := make([]*meter.Record, len(models))
	for i := range models {
		r, err := fromUsageModel(&models[i], byPeriod[dateOf(models[i].PeriodStart).Format(time.DateOnly)])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

// ==================== Commit ====================

// CommitPeriod advances the contract, closes the old record and opens next
// in one statement. The contract update is the guard: when the version does
// not match, the other two CTEs see no rows and change nothing.
func (s *Store) CommitPeriod(ctx context.Context, c *contract.Contract, next *meter.Record) error {
	t := now()

	var version int64
	err := s.pg.NewRaw(`
		WITH ctr AS (
			UPDATE retainer_contracts
			SET period_start = $3, next_invoice_date = $4, version = version + 1, updated_at = $5
			WHERE client_id = $1 AND version = $2
			RETURNING version
		), old AS (
			UPDATE retainer_usage
			SET closed = TRUE, updated_at = $5
			WHERE client_id = $1 AND period_start = $6 AND EXISTS (SELECT 1 FROM ctr)
			RETURNING 1
		), opened AS (
			INSERT INTO retainer_usage (client_id, period_start, id, period_end, documents_received, minutes_worked, closed, created_at, updated_at)
			SELECT $1, $3, $7, $4, 0, 0, FALSE, $5, $5 FROM ctr
			ON CONFLICT (client_id, period_start) DO NOTHING
			RETURNING 1
		)
		SELECT version FROM ctr
	`,
		c.ClientID, c.Version,
		dateOf(next.PeriodStart), dateOf(next.PeriodEnd), t,
		dateOf(c.PeriodStart), next.ID.String(),
	).Scan(ctx, &version)
	if err != nil {
		if isNoRows(err) {
			return s.versionConflict(ctx, c)
		}
		return fmt.Errorf("retainer/postgres: commit period: %w", err)
	}

	c.PeriodStart = dateOf(next.PeriodStart)
	c.NextInvoiceDate = dateOf(next.PeriodEnd)
	c.Version = version
	c.Touch(t)
	return nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

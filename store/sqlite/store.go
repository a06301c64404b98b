package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/retainer"
	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/meter"
	retainerstore "github.com/xraph/retainer/store"
)

// compile-time interface check
var _ retainerstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
//
// Multi-row effects (minute roll-up, period commit) run in triggers so each
// operation stays a single statement.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables, indexes and triggers using the grove
// orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("retainer/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("retainer/sqlite: migration failed: %w", err)
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
		return fmt.Errorf("retainer/sqlite: %w", err)
	}
	res, err := s.sdb.NewInsert(m).
		OnConflict("(client_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("retainer/sqlite: create contract: %w", err)
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
	err := s.sdb.NewSelect(m).
		Where("client_id = ?", clientID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: client %s", retainer.ErrContractNotFound, clientID)
		}
		return nil, fmt.Errorf("retainer/sqlite: get contract: %w", err)
	}
	return fromContractModel(m)
}

// UpdateContract writes the terms of c. The billing period columns are
// left alone; only CommitPeriod moves them.
func (s *Store) UpdateContract(ctx context.Context, c *contract.Contract) error {
	m, err := toContractModel(c)
	if err != nil {
		return fmt.Errorf("retainer/sqlite: %w", err)
	}
	t := now()

	var version int64
	err = s.sdb.NewRaw(`
		UPDATE retainer_contracts SET
			enabled = ?,
			frequency = ?,
			currency = ?,
			anchor_date = ?,
			base_items = ?,
			base_tax_rate = ?,
			employee_pricing = ?,
			employee_tiers = ?,
			default_tier = ?,
			tier_tax_rates = ?,
			documents_limit = ?,
			documents_over_limit_price = ?,
			max_hours_per_month = ?,
			payment_terms_days = ?,
			metadata = ?,
			version = version + 1,
			updated_at = ?
		WHERE client_id = ? AND version = ?
		RETURNING version
	`,
		m.Enabled, m.Frequency, m.Currency, m.AnchorDate,
		m.BaseItems, m.BaseTaxRate, m.EmployeePricing,
		m.EmployeeTiers, m.DefaultTier, m.TierTaxRates,
		m.DocumentsLimit, m.DocumentsOverLimitPrice, m.MaxHoursPerMonth,
		m.PaymentTermsDays, m.Metadata, formatTime(t),
		m.ClientID, m.Version,
	).Scan(ctx, &version)
	if err != nil {
		if isNoRows(err) {
			return s.versionConflict(ctx, c)
		}
		return fmt.Errorf("retainer/sqlite: update contract: %w", err)
	}

	c.Version = version
	c.Touch(t)
	return nil
}

func (s *Store) ListContracts(ctx context.Context, opts contract.ListOpts) ([]*contract.Contract, error) {
	var models []contractModel
	q := s.sdb.NewSelect(&models)

	if opts.EnabledOnly {
		q = q.Where("enabled = ?", true)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("client_id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("retainer/sqlite: list contracts: %w", err)
	}
	return fromContractModels(models)
}

func (s *Store) ListDueContracts(ctx context.Context, asOf time.Time) ([]*contract.Contract, error) {
	var models []contractModel
	err := s.sdb.NewSelect(&models).
		Where("enabled = ?", true).
		Where("next_invoice_date <= ?", formatDate(asOf)).
		OrderExpr("next_invoice_date ASC, client_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("retainer/sqlite: list due contracts: %w", err)
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
	_, err := s.sdb.NewInsert(toUsageModel(r)).
		OnConflict("(client_id, period_start) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("retainer/sqlite: open usage: %w", err)
	}
	return nil
}

func (s *Store) GetUsage(ctx context.Context, clientID string, periodStart time.Time) (*meter.Record, error) {
	m := new(usageModel)
	err := s.sdb.NewSelect(m).
		Where("client_id = ?", clientID).
		Where("period_start = ?", formatDate(periodStart)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: client %s period %s", meter.ErrNoRecord, clientID, formatDate(periodStart))
		}
		return nil, fmt.Errorf("retainer/sqlite: get usage: %w", err)
	}

	var minutes []usageMinutesModel
	err = s.sdb.NewSelect(&minutes).
		Where("client_id = ?", clientID).
		Where("period_start = ?", formatDate(periodStart)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("retainer/sqlite: get usage minutes: %w", err)
	}
	return fromUsageModel(m, minutes)
}

func (s *Store) AddDocuments(ctx context.Context, clientID string, periodStart time.Time, count int64) error {
	res, err := s.sdb.NewUpdate((*usageModel)(nil)).
		Set("documents_received = documents_received + ?", count).
		Set("updated_at = ?", formatTime(now())).
		Where("client_id = ?", clientID).
		Where("period_start = ?", formatDate(periodStart)).
		Where("closed = 0").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("retainer/sqlite: add documents: %w", err)
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

// AddMinutes upserts the employee's share; a trigger adds it to the record
// total in the same statement.
func (s *Store) AddMinutes(ctx context.Context, clientID string, periodStart time.Time, employeeID string, minutes int64) error {
	day := formatDate(periodStart)
	var share int64
	err := s.sdb.NewRaw(`
		INSERT INTO retainer_usage_minutes (client_id, period_start, employee_id, minutes)
		SELECT ?, ?, ?, ?
		WHERE EXISTS (
			SELECT 1 FROM retainer_usage
			WHERE client_id = ? AND period_start = ? AND closed = 0
		)
		ON CONFLICT (client_id, period_start, employee_id)
		DO UPDATE SET minutes = minutes + excluded.minutes
		RETURNING minutes
	`, clientID, day, employeeID, minutes, clientID, day).Scan(ctx, &share)
	if err != nil {
		if isNoRows(err) {
			return s.notWritable(ctx, clientID, periodStart)
		}
		return fmt.Errorf("retainer/sqlite: add minutes: %w", err)
	}
	return nil
}

func (s *Store) notWritable(ctx context.Context, clientID string, periodStart time.Time) error {
	r, err := s.GetUsage(ctx, clientID, periodStart)
	if err != nil {
		return err
	}
	if r.Closed {
		return fmt.Errorf("%w: client %s period %s", meter.ErrPeriodClosed, clientID, formatDate(periodStart))
	}
	return fmt.Errorf("retainer/sqlite: usage of %s for %s changed concurrently", clientID, formatDate(periodStart))
}

func (s *Store) ListUsage(ctx context.Context, clientID string, opts meter.ListOpts) ([]*meter.Record, error) {
	var models []usageModel
	q := s.sdb.NewSelect(&models).
		Where("client_id = ?", clientID)

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("period_start DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("retainer/sqlite: list usage: %w", err)
	}
	if len(models) == 0 {
		return nil, nil
	}

	var minutes []usageMinutesModel
	err := s.sdb.NewSelect(&minutes).
		Where("client_id = ?", clientID).
		Where("period_start >= ?", models[len(models)-1].PeriodStart).
		Where("period_start <= ?", models[0].PeriodStart).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("retainer/sqlite: list usage minutes: %w", err)
	}
	byPeriod := make(map[string][]usageMinutesModel)
	for _, em := range minutes {
		byPeriod[em.PeriodStart] = append(byPeriod[em.PeriodStart], em)
	}

	result := make([]*meter.Record, len(models))
	for i := range models {
		r, err := fromUsageModel(&models[i], byPeriod[models[i].PeriodStart])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

// ==================== Commit ====================

// CommitPeriod moves the contract's period with a version-guarded update.
// The retainer_contracts_period_committed trigger closes the old record and
// opens next within the same statement.
func (s *Store) CommitPeriod(ctx context.Context, c *contract.Contract, next *meter.Record) error {
	t := now()

	var version int64
	err := s.sdb.NewRaw(`
		UPDATE retainer_contracts SET
			period_start = ?,
			next_invoice_date = ?,
			pending_usage_id = ?,
			version = version + 1,
			updated_at = ?
		WHERE client_id = ? AND version = ?
		RETURNING version
	`,
		formatDate(next.PeriodStart), formatDate(next.PeriodEnd), next.ID.String(), formatTime(t),
		c.ClientID, c.Version,
	).Scan(ctx, &version)
	if err != nil {
		if isNoRows(err) {
			return s.versionConflict(ctx, c)
		}
		return fmt.Errorf("retainer/sqlite: commit period: %w", err)
	}

	c.PeriodStart = next.PeriodStart
	c.NextInvoiceDate = next.PeriodEnd
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

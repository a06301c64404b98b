package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/retainer"
	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/meter"
	retainerstore "github.com/xraph/retainer/store"
)

// Collection name constants.
const (
	colContracts = "retainer_contracts"
	colUsage     = "retainer_usage"
)

// compile-time interface check
var _ retainerstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
//
// Counter updates are single-document $inc operations and therefore atomic.
// CommitPeriod uses a transaction when the server supports one.
type Store struct {
	db     *grove.DB
	mdb    *mongodriver.MongoDB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for commit warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		mdb:    mongodriver.Unwrap(db),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all retainer collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("retainer/mongo: migrate %s indexes: %w", col, err)
		}
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
		return fmt.Errorf("retainer/mongo: %w", err)
	}
	_, err = s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: client %s", retainer.ErrContractExists, c.ClientID)
		}
		return fmt.Errorf("retainer/mongo: create contract: %w", err)
	}
	return nil
}

func (s *Store) GetContract(ctx context.Context, clientID string) (*contract.Contract, error) {
	var m contractModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": clientID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("%w: client %s", retainer.ErrContractNotFound, clientID)
		}
		return nil, fmt.Errorf("retainer/mongo: get contract: %w", err)
	}
	return fromContractModel(&m)
}

// UpdateContract writes the terms of c when the stored version matches.
// The billing period fields are left alone; only CommitPeriod moves them.
func (s *Store) UpdateContract(ctx context.Context, c *contract.Contract) error {
	m, err := toContractModel(c)
	if err != nil {
		return fmt.Errorf("retainer/mongo: %w", err)
	}
	t := now()

	res, err := s.mdb.NewUpdate((*contractModel)(nil)).
		Filter(bson.M{"_id": m.ClientID, "version": m.Version}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"enabled":                    m.Enabled,
				"frequency":                  m.Frequency,
				"currency":                   m.Currency,
				"anchor_date":                m.AnchorDate,
				"base_items":                 m.BaseItems,
				"base_tax_rate":              m.BaseTaxRate,
				"employee_pricing":           m.EmployeePricing,
				"employee_tiers":             m.EmployeeTiers,
				"default_tier":               m.DefaultTier,
				"tier_tax_rates":             m.TierTaxRates,
				"documents_limit":            m.DocumentsLimit,
				"documents_over_limit_price": m.DocumentsOverLimitPrice,
				"max_hours_per_month":        m.MaxHoursPerMonth,
				"payment_terms_days":         m.PaymentTermsDays,
				"metadata":                   m.Metadata,
				"updated_at":                 t,
			},
			"$inc": bson.M{"version": 1},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("retainer/mongo: update contract: %w", err)
	}
	if res.MatchedCount() == 0 {
		return s.versionConflict(ctx, c)
	}

	c.Version++
	c.Touch(t)
	return nil
}

func (s *Store) ListContracts(ctx context.Context, opts contract.ListOpts) ([]*contract.Contract, error) {
	var models []contractModel

	filter := bson.M{}
	if opts.EnabledOnly {
		filter["enabled"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("retainer/mongo: list contracts: %w", err)
	}
	return fromContractModels(models)
}

func (s *Store) ListDueContracts(ctx context.Context, asOf time.Time) ([]*contract.Contract, error) {
	var models []contractModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"enabled":           true,
			"next_invoice_date": bson.M{"$lte": asOf},
		}).
		Sort(bson.D{{Key: "next_invoice_date", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("retainer/mongo: list due contracts: %w", err)
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
	_, err := s.mdb.NewInsert(toUsageModel(r)).Exec(ctx)
	if err != nil {
		// Someone else opened the period first
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("retainer/mongo: open usage: %w", err)
	}
	return nil
}

func (s *Store) GetUsage(ctx context.Context, clientID string, periodStart time.Time) (*meter.Record, error) {
	var m usageModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": usageKey(clientID, periodStart)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("%w: client %s period %s", meter.ErrNoRecord, clientID, periodStart.Format(time.DateOnly))
		}
		return nil, fmt.Errorf("retainer/mongo: get usage: %w", err)
	}
	return fromUsageModel(&m)
}

func (s *Store) AddDocuments(ctx context.Context, clientID string, periodStart time.Time, count int64) error {
	return s.increment(ctx, clientID, periodStart, bson.M{
		"documents_received": count,
	})
}

func (s *Store) AddMinutes(ctx context.Context, clientID string, periodStart time.Time, employeeID string, minutes int64) error {
	inc := bson.M{"minutes_worked": minutes}
	inc["employee_minutes."+employeeField(employeeID)] = minutes
	return s.increment(ctx, clientID, periodStart, inc)
}

// increment applies inc to the open record of the period.
func (s *Store) increment(ctx context.Context, clientID string, periodStart time.Time, inc bson.M) error {
	res, err := s.mdb.NewUpdate((*usageModel)(nil)).
		Filter(bson.M{"_id": usageKey(clientID, periodStart), "closed": false}).
		SetUpdate(bson.M{
			"$inc": inc,
			"$set": bson.M{"updated_at": now()},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("retainer/mongo: increment usage: %w", err)
	}
	if res.MatchedCount() > 0 {
		return nil
	}

	r, err := s.GetUsage(ctx, clientID, periodStart)
	if err != nil {
		return err
	}
	if r.Closed {
		return fmt.Errorf("%w: client %s period %s", meter.ErrPeriodClosed, clientID, periodStart.Format(time.DateOnly))
	}
	return fmt.Errorf("retainer/mongo: usage of %s for %s changed concurrently", clientID, periodStart.Format(time.DateOnly))
}

func (s *Store) ListUsage(ctx context.Context, clientID string, opts meter.ListOpts) ([]*meter.Record, error) {
	var models []usageModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{"client_id": clientID}).
		Sort(bson.D{{Key: "period_start", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("retainer/mongo: list usage: %w", err)
	}

	result := make([]*meter.Record, len(models))
	for i := range models {
		r, err := fromUsageModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

// ==================== Commit ====================

// CommitPeriod moves the contract with a version-guarded update, closes the
// old record and opens next, all in one transaction.
//
// Transactions need a replica set. On a standalone server the writes run in
// order and the contract update is the commit point: once it lands, a failed
// follow-up write is logged and CommitPeriod still succeeds. The old record
// no longer receives usage and the new one is opened lazily on first write.
func (s *Store) CommitPeriod(ctx context.Context, c *contract.Contract, next *meter.Record) error {
	t := now()
	oldStart := c.PeriodStart

	advance := func(ctx context.Context) error { return s.advanceContract(ctx, c, next, t) }
	closeOld := func(ctx context.Context) error { return s.closeRecord(ctx, c.ClientID, oldStart, t) }
	openNext := func(ctx context.Context) error { return s.openRecord(ctx, next) }

	err := s.inTransaction(ctx, func(tx context.Context) error {
		if err := advance(tx); err != nil {
			return err
		}
		if err := closeOld(tx); err != nil {
			return err
		}
		return openNext(tx)
	})
	if transactionsUnsupported(err) {
		err = commitWrites(ctx, s.logger, c.ClientID, advance, closeOld, openNext)
	}
	if errors.Is(err, errVersionMismatch) {
		return s.versionConflict(ctx, c)
	}
	if err != nil {
		return err
	}

	c.PeriodStart = next.PeriodStart
	c.NextInvoiceDate = next.PeriodEnd
	c.Version++
	c.Touch(t)
	return nil
}

// errVersionMismatch marks a contract update that matched no document.
var errVersionMismatch = errors.New("retainer/mongo: contract version mismatch")

func (s *Store) inTransaction(ctx context.Context, fn func(tx context.Context) error) error {
	sess, err := s.mdb.Collection(colContracts).Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("retainer/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(tx context.Context) (any, error) {
		return nil, fn(tx)
	})
	return err
}

// commitWrites runs advance and then each follow-up write. advance decides
// the outcome; follow-up failures are only logged.
func commitWrites(ctx context.Context, log *slog.Logger, clientID string, advance func(context.Context) error, follow ...func(context.Context) error) error {
	if err := advance(ctx); err != nil {
		return err
	}
	for _, fn := range follow {
		if err := fn(ctx); err != nil {
			log.Warn("retainer/mongo: commit follow-up write failed",
				"client_id", clientID,
				"error", err,
			)
		}
	}
	return nil
}

// transactionsUnsupported reports whether err comes from a server that
// cannot run multi-document transactions.
func transactionsUnsupported(err error) bool {
	var se mongo.ServerError
	if !errors.As(err, &se) {
		return false
	}
	// IllegalOperation: "Transaction numbers are only allowed on a replica
	// set member or mongos".
	return se.HasErrorCode(20)
}

func (s *Store) advanceContract(ctx context.Context, c *contract.Contract, next *meter.Record, t time.Time) error {
	res, err := s.mdb.Collection(colContracts).UpdateOne(ctx,
		bson.M{"_id": c.ClientID, "version": c.Version},
		bson.M{
			"$set": bson.M{
				"period_start":      next.PeriodStart,
				"next_invoice_date": next.PeriodEnd,
				"updated_at":        t,
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("retainer/mongo: commit period: %w", err)
	}
	if res.MatchedCount == 0 {
		return errVersionMismatch
	}
	return nil
}

func (s *Store) closeRecord(ctx context.Context, clientID string, periodStart, t time.Time) error {
	_, err := s.mdb.Collection(colUsage).UpdateOne(ctx,
		bson.M{"_id": usageKey(clientID, periodStart)},
		bson.M{"$set": bson.M{"closed": true, "updated_at": t}},
	)
	if err != nil {
		return fmt.Errorf("retainer/mongo: close period %s of %s: %w", periodStart.Format(time.DateOnly), clientID, err)
	}
	return nil
}

func (s *Store) openRecord(ctx context.Context, next *meter.Record) error {
	m := toUsageModel(next)
	_, err := s.mdb.Collection(colUsage).UpdateOne(ctx,
		bson.M{"_id": m.Key},
		bson.M{"$setOnInsert": bson.M{
			"usage_id":           m.ID,
			"client_id":          m.ClientID,
			"period_start":       m.PeriodStart,
			"period_end":         m.PeriodEnd,
			"documents_received": m.DocumentsReceived,
			"minutes_worked":     m.MinutesWorked,
			"employee_minutes":   m.EmployeeMinutes,
			"closed":             false,
			"created_at":         m.CreatedAt,
			"updated_at":         m.UpdatedAt,
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("retainer/mongo: open period %s of %s: %w", next.PeriodStart.Format(time.DateOnly), next.ClientID, err)
	}
	return nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all retainer collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colContracts: {
			{
				Keys:    bson.D{{Key: "contract_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "enabled", Value: 1}, {Key: "next_invoice_date", Value: 1}, {Key: "_id", Value: 1}}},
		},
		colUsage: {
			{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "period_start", Value: -1}}},
			{
				Keys:    bson.D{{Key: "usage_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}

package retainer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/retainer/entitlement"
	"github.com/xraph/retainer/meter"
	"github.com/xraph/retainer/timer"
)

// ──────────────────────────────────────────────────
// Usage Metering
// ──────────────────────────────────────────────────

// BatchOption configures RecordDocumentBatch.
type BatchOption func(*batchConfig)

type batchConfig struct {
	key string
}

// WithIdempotencyKey makes a batch count once: a retry with the same key
// for the same client fails with ErrDuplicateBatch and changes nothing.
func WithIdempotencyKey(key string) BatchOption {
	return func(c *batchConfig) { c.key = key }
}

// RecordDocumentBatch adds count received documents to the client's open
// period and returns the updated usage. Documents keep accruing past the
// allowance; crossing it fires OnAllowanceExceeded once.
func (e *Engine) RecordDocumentBatch(ctx context.Context, clientID string, count int64, opts ...BatchOption) (*meter.Record, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: document count %d", ErrInvalidQuantity, count)
	}

	var cfg batchConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.key != "" {
		key := clientID + ":" + cfg.key
		fresh, err := e.idem.MarkProcessed(ctx, key, e.idemTTL)
		if err != nil {
			return nil, fmt.Errorf("check batch %s: %w", cfg.key, err)
		}
		if !fresh {
			return nil, fmt.Errorf("%w: client %s key %s", ErrDuplicateBatch, clientID, cfg.key)
		}

		rec, err := e.recordDocuments(ctx, clientID, count, cfg.key)
		if err != nil {
			if rerr := e.idem.Release(ctx, key); rerr != nil {
				e.logger.Warn("batch key not released",
					"client_id", clientID,
					"key", cfg.key,
					"error", rerr,
				)
			}
			return nil, err
		}
		return rec, nil
	}

	return e.recordDocuments(ctx, clientID, count, "")
}

func (e *Engine) recordDocuments(ctx context.Context, clientID string, count int64, key string) (*meter.Record, error) {
	unlock := e.lockClient(clientID)
	defer unlock()

	c, err := e.enabledContract(ctx, clientID)
	if err != nil {
		return nil, err
	}

	rec, err := e.meter.RecordDocuments(ctx, clientID, currentPeriod(c), count)
	if err != nil {
		return nil, err
	}

	batch := meter.NewBatch(clientID, count, key, e.now())
	e.logger.Debug("documents recorded",
		"client_id", clientID,
		"batch_id", batch.ID.String(),
		"count", count,
		"total", rec.DocumentsReceived,
	)
	e.plugins.EmitDocumentsRecorded(ctx, batch, rec.Clone())

	before := &meter.Record{DocumentsReceived: rec.DocumentsReceived - count}
	if meter.IsOverAllowance(c, rec) && !meter.IsOverAllowance(c, before) {
		status := entitlement.Evaluate(c, rec)
		e.logger.Info("document allowance exceeded",
			"client_id", clientID,
			"used", status.DocumentsUsed,
			"limit", status.DocumentsLimit,
		)
		e.plugins.EmitAllowanceExceeded(ctx, status)
	}
	return rec, nil
}

// RecordMinutes logs minutes worked without the timer, e.g. a manual time
// entry. employeeID may be empty.
func (e *Engine) RecordMinutes(ctx context.Context, clientID, employeeID string, minutes int64) (*meter.Record, error) {
	if minutes < 0 {
		return nil, fmt.Errorf("%w: minutes %d", ErrInvalidQuantity, minutes)
	}

	unlock := e.lockClient(clientID)
	defer unlock()

	c, err := e.enabledContract(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return e.creditMinutes(ctx, c, employeeID, minutes)
}

// creditMinutes must be called with the client lock held.
func (e *Engine) creditMinutes(ctx context.Context, c *Contract, employeeID string, minutes int64) (*meter.Record, error) {
	rec, err := e.meter.RecordMinutes(ctx, c.ClientID, currentPeriod(c), employeeID, minutes)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("minutes credited",
		"client_id", c.ClientID,
		"employee_id", employeeID,
		"minutes", minutes,
		"total", rec.MinutesWorked,
	)
	e.plugins.EmitMinutesCredited(ctx, c.ClientID, employeeID, minutes, rec.Clone())
	return rec, nil
}

// Usage returns the usage of the client's open period. A period without
// usage yields an empty record.
func (e *Engine) Usage(ctx context.Context, clientID string) (*meter.Record, error) {
	c, err := e.store.GetContract(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return e.meter.Snapshot(ctx, clientID, currentPeriod(c))
}

// UsageHistory lists the client's usage records, newest period first.
func (e *Engine) UsageHistory(ctx context.Context, clientID string, opts meter.ListOpts) ([]*meter.Record, error) {
	return e.store.ListUsage(ctx, clientID, opts)
}

// AllowanceStatus reports the client's open period against its allowances.
// It is computed on demand and never blocks recording.
func (e *Engine) AllowanceStatus(ctx context.Context, clientID string) (*entitlement.Status, error) {
	c, err := e.store.GetContract(ctx, clientID)
	if err != nil {
		return nil, err
	}
	rec, err := e.meter.Snapshot(ctx, clientID, currentPeriod(c))
	if err != nil {
		return nil, err
	}
	return entitlement.Evaluate(c, rec), nil
}

// ──────────────────────────────────────────────────
// Time Tracking
// ──────────────────────────────────────────────────

// TimerOption configures StartTimer.
type TimerOption func(*timerConfig)

type timerConfig struct {
	employeeID string
}

// WithEmployee attributes the session's minutes to employeeID, which
// selects the pricing tier they bill at.
func WithEmployee(employeeID string) TimerOption {
	return func(c *timerConfig) { c.employeeID = employeeID }
}

// StartTimer starts the portfolio-wide timer for clientID. A session running
// for another client is stopped and credited first. Starting the client
// that already holds the session is a no-op.
func (e *Engine) StartTimer(ctx context.Context, clientID string, opts ...TimerOption) (timer.Session, error) {
	var cfg timerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, err := e.enabledContract(ctx, clientID); err != nil {
		return timer.Session{}, err
	}

	res, err := e.timers.Start(ctx, clientID, cfg.employeeID, e.now())
	if err != nil {
		return timer.Session{}, err
	}
	if res.Noop {
		return res.Session, nil
	}

	if res.Previous != nil {
		e.plugins.EmitTimerStopped(ctx, res.Previous)
	}
	e.logger.Info("timer started",
		"client_id", clientID,
		"employee_id", cfg.employeeID,
	)
	e.plugins.EmitTimerStarted(ctx, res.Session)
	return res.Session, nil
}

// StopTimer stops the session held by clientID and credits its whole
// minutes to the client's open period.
func (e *Engine) StopTimer(ctx context.Context, clientID string) (*timer.Stopped, error) {
	if _, err := e.store.GetContract(ctx, clientID); err != nil {
		return nil, err
	}

	stopped, err := e.timers.Stop(ctx, clientID, e.now())
	if err != nil {
		return nil, err
	}

	e.logger.Info("timer stopped",
		"client_id", clientID,
		"minutes", stopped.Minutes,
	)
	e.plugins.EmitTimerStopped(ctx, stopped)
	return stopped, nil
}

// ActiveTimer returns the running session, if any.
func (e *Engine) ActiveTimer() (timer.Session, bool) {
	return e.timers.Active()
}

// creditTimer receives the minutes of every stopped session. Minutes of a
// client whose contract is gone or disabled are dropped with a warning so
// the session can still end.
func (e *Engine) creditTimer(ctx context.Context, s timer.Session, _ time.Time, minutes int64) error {
	unlock := e.lockClient(s.ClientID)
	defer unlock()

	c, err := e.enabledContract(ctx, s.ClientID)
	if errors.Is(err, ErrContractNotFound) || errors.Is(err, ErrContractDisabled) {
		e.logger.Warn("timer minutes dropped",
			"client_id", s.ClientID,
			"minutes", minutes,
			"reason", err,
		)
		return nil
	}
	if err != nil {
		return err
	}

	_, err = e.creditMinutes(ctx, c, s.EmployeeID, minutes)
	return err
}

// Package memory is an in-process store.Store for tests, demos and the
// batch CLI. One mutex guards all state, which makes CommitPeriod atomic.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/xraph/retainer"
	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/meter"
	"github.com/xraph/retainer/store"
)

type Store struct {
	mu sync.RWMutex

	// Contract storage keyed by client ID
	contracts map[string]*contract.Contract

	// Usage storage keyed by client ID and period start
	usage map[usageKey]*meter.Record

	closed bool
	now    func() time.Time
}

type usageKey struct {
	clientID    string
	periodStart string
}

func keyOf(clientID string, periodStart time.Time) usageKey {
	return usageKey{clientID: clientID, periodStart: periodStart.Format(time.DateOnly)}
}

func New() *Store {
	return &Store{
		contracts: make(map[string]*contract.Contract),
		usage:     make(map[usageKey]*meter.Record),
		now:       time.Now,
	}
}

var _ store.Store = (*Store)(nil)

// Contract Store implementation

func (s *Store) CreateContract(_ context.Context, c *contract.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return retainer.ErrStoreClosed
	}
	if _, exists := s.contracts[c.ClientID]; exists {
		return fmt.Errorf("%w: client %s", retainer.ErrContractExists, c.ClientID)
	}
	s.contracts[c.ClientID] = c.Clone()
	return nil
}

func (s *Store) GetContract(_ context.Context, clientID string) (*contract.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.contracts[clientID]; ok {
		return c.Clone(), nil
	}
	return nil, fmt.Errorf("%w: client %s", retainer.ErrContractNotFound, clientID)
}

func (s *Store) UpdateContract(_ context.Context, c *contract.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return retainer.ErrStoreClosed
	}
	cur, ok := s.contracts[c.ClientID]
	if !ok {
		return fmt.Errorf("%w: client %s", retainer.ErrContractNotFound, c.ClientID)
	}
	if cur.Version != c.Version {
		return fmt.Errorf("%w: client %s at version %d, have %d",
			retainer.ErrConcurrentUpdate, c.ClientID, cur.Version, c.Version)
	}
	c.Version++
	c.Touch(s.now())
	s.contracts[c.ClientID] = c.Clone()
	return nil
}

func (s *Store) ListContracts(_ context.Context, opts contract.ListOpts) ([]*contract.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*contract.Contract
	for _, c := range s.contracts {
		if opts.EnabledOnly && !c.Enabled {
			continue
		}
		result = append(result, c.Clone())
	}
	slices.SortFunc(result, func(a, b *contract.Contract) int {
		return cmp.Compare(a.ClientID, b.ClientID)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListDueContracts(_ context.Context, asOf time.Time) ([]*contract.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*contract.Contract
	for _, c := range s.contracts {
		if c.Enabled && !c.NextInvoiceDate.After(asOf) {
			result = append(result, c.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *contract.Contract) int {
		return cmp.Or(
			a.NextInvoiceDate.Compare(b.NextInvoiceDate),
			cmp.Compare(a.ClientID, b.ClientID),
		)
	})
	return result, nil
}

// Usage Store implementation

func (s *Store) OpenUsage(_ context.Context, r *meter.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return retainer.ErrStoreClosed
	}
	k := keyOf(r.ClientID, r.PeriodStart)
	if _, exists := s.usage[k]; !exists {
		s.usage[k] = r.Clone()
	}
	return nil
}

func (s *Store) GetUsage(_ context.Context, clientID string, periodStart time.Time) (*meter.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.usage[keyOf(clientID, periodStart)]; ok {
		return r.Clone(), nil
	}
	return nil, fmt.Errorf("%w: client %s period %s", meter.ErrNoRecord, clientID, periodStart.Format(time.DateOnly))
}

func (s *Store) AddDocuments(_ context.Context, clientID string, periodStart time.Time, count int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.openRecordLocked(clientID, periodStart)
	if err != nil {
		return err
	}
	r.DocumentsReceived += count
	r.Touch(s.now())
	return nil
}

func (s *Store) AddMinutes(_ context.Context, clientID string, periodStart time.Time, employeeID string, minutes int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.openRecordLocked(clientID, periodStart)
	if err != nil {
		return err
	}
	r.MinutesWorked += minutes
	r.EmployeeMinutes[employeeID] += minutes
	r.Touch(s.now())
	return nil
}

func (s *Store) ListUsage(_ context.Context, clientID string, opts meter.ListOpts) ([]*meter.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*meter.Record
	for k, r := range s.usage {
		if k.clientID == clientID {
			result = append(result, r.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *meter.Record) int {
		return b.PeriodStart.Compare(a.PeriodStart)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) openRecordLocked(clientID string, periodStart time.Time) (*meter.Record, error) {
	if s.closed {
		return nil, retainer.ErrStoreClosed
	}
	r, ok := s.usage[keyOf(clientID, periodStart)]
	if !ok {
		return nil, fmt.Errorf("%w: client %s period %s", meter.ErrNoRecord, clientID, periodStart.Format(time.DateOnly))
	}
	if r.Closed {
		return nil, fmt.Errorf("%w: client %s period %s", meter.ErrPeriodClosed, clientID, periodStart.Format(time.DateOnly))
	}
	if r.EmployeeMinutes == nil {
		r.EmployeeMinutes = make(map[string]int64)
	}
	return r, nil
}

// Commit

func (s *Store) CommitPeriod(_ context.Context, c *contract.Contract, next *meter.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return retainer.ErrStoreClosed
	}
	cur, ok := s.contracts[c.ClientID]
	if !ok {
		return fmt.Errorf("%w: client %s", retainer.ErrContractNotFound, c.ClientID)
	}
	if cur.Version != c.Version {
		return fmt.Errorf("%w: client %s at version %d, have %d",
			retainer.ErrConcurrentUpdate, c.ClientID, cur.Version, c.Version)
	}

	// All checks passed; nothing below can fail.
	now := s.now()
	if r, ok := s.usage[keyOf(c.ClientID, c.PeriodStart)]; ok {
		r.Closed = true
		r.Touch(now)
	}

	updated := cur.Clone()
	updated.PeriodStart = next.PeriodStart
	updated.NextInvoiceDate = next.PeriodEnd
	updated.Version++
	updated.Touch(now)
	s.contracts[c.ClientID] = updated

	nk := keyOf(next.ClientID, next.PeriodStart)
	if _, exists := s.usage[nk]; !exists {
		s.usage[nk] = next.Clone()
	}

	c.PeriodStart = updated.PeriodStart
	c.NextInvoiceDate = updated.NextInvoiceDate
	c.Version = updated.Version
	c.UpdatedAt = updated.UpdatedAt
	return nil
}

// Lifecycle

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return retainer.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

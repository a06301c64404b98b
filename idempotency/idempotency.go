// Package idempotency remembers keys of already applied requests so that a
// retried document batch is counted once.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Store records processed keys with a time to live.
type Store interface {
	// MarkProcessed records key. It returns true when key was newly marked
	// and false when it was already present and not expired.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	IsProcessed(ctx context.Context, key string) (bool, error)
	// Release forgets key so the request can be retried after a failure.
	Release(ctx context.Context, key string) error
	Close() error
}

// DefaultTTL is how long a batch key is remembered when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// Memory is an in-process Store for single-instance deployments and tests.
// Expired keys are swept every CleanupInterval.
type Memory struct {
	mu        sync.RWMutex
	entries   map[string]time.Time
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// CleanupInterval is the sweep period of Memory.
var CleanupInterval = 5 * time.Minute

// NewMemory returns an empty Memory store and starts its sweeper.
func NewMemory() *Memory {
	m := &Memory{
		entries:  make(map[string]time.Time),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.cleanupLoop()
	return m
}

func (m *Memory) MarkProcessed(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.entries[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.entries[key] = now.Add(ttl)
	return true, nil
}

func (m *Memory) IsProcessed(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exp, ok := m.entries[key]
	return ok && m.now().Before(exp), nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Close stops the sweeper. Safe to call more than once.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopChan)
		m.wg.Wait()
	})
	return nil
}

// Len returns the number of remembered keys, expired ones included until
// the next sweep.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *Memory) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, key)
		}
	}
}

var _ Store = (*Memory)(nil)

package timer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type creditLog struct {
	mu      sync.Mutex
	credits map[string]int64
	fail    error
}

func newCreditLog() *creditLog { return &creditLog{credits: make(map[string]int64)} }

func (l *creditLog) CreditMinutes(_ context.Context, s Session, _ time.Time, minutes int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return l.fail
	}
	l.credits[s.ClientID] += minutes
	return nil
}

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func TestStartStop(t *testing.T) {
	l := newCreditLog()
	r := NewRegistry(l)
	ctx := context.Background()

	res, err := r.Start(ctx, "acme", "anna", t0)
	require.NoError(t, err)
	assert.Nil(t, res.Previous)
	assert.False(t, res.Noop)
	assert.Equal(t, "acme", res.Session.ClientID)

	s, ok := r.Active()
	require.True(t, ok)
	assert.Equal(t, "acme", s.ClientID)
	assert.Equal(t, "anna", s.EmployeeID)
	assert.False(t, s.ID.IsNil())

	stopped, err := r.Stop(ctx, "acme", t0.Add(25*time.Minute+59*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(25), stopped.Minutes)
	assert.Equal(t, int64(25), l.credits["acme"])

	_, ok = r.Active()
	assert.False(t, ok)
}

func TestSwitchCreditsPreviousClient(t *testing.T) {
	l := newCreditLog()
	r := NewRegistry(l)
	ctx := context.Background()

	_, err := r.Start(ctx, "acme", "", t0)
	require.NoError(t, err)

	res, err := r.Start(ctx, "globex", "", t0.Add(47*time.Minute+30*time.Second))
	require.NoError(t, err)
	prev := res.Previous
	require.NotNil(t, prev)
	assert.Equal(t, "acme", prev.ClientID)
	assert.Equal(t, int64(47), prev.Minutes)
	assert.Equal(t, int64(47), l.credits["acme"])
	assert.Zero(t, l.credits["globex"])

	s, ok := r.Active()
	require.True(t, ok)
	assert.Equal(t, "globex", s.ClientID)
}

func TestStartSameClientIsNoop(t *testing.T) {
	l := newCreditLog()
	r := NewRegistry(l)
	ctx := context.Background()

	_, err := r.Start(ctx, "acme", "", t0)
	require.NoError(t, err)
	first, _ := r.Active()

	res, err := r.Start(ctx, "acme", "", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Nil(t, res.Previous)
	assert.Equal(t, first, res.Session)

	again, _ := r.Active()
	assert.Equal(t, first, again)
	assert.Empty(t, l.credits)
}

func TestStopByNonHolder(t *testing.T) {
	r := NewRegistry(newCreditLog())
	ctx := context.Background()

	_, err := r.Stop(ctx, "acme", t0)
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, err = r.Start(ctx, "acme", "", t0)
	require.NoError(t, err)

	_, err = r.Stop(ctx, "globex", t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrNoActiveSession)

	s, ok := r.Active()
	require.True(t, ok)
	assert.Equal(t, "acme", s.ClientID)
}

func TestCreditFailureKeepsSession(t *testing.T) {
	l := newCreditLog()
	r := NewRegistry(l)
	ctx := context.Background()

	_, err := r.Start(ctx, "acme", "", t0)
	require.NoError(t, err)

	l.fail = errors.New("store down")
	_, err = r.Start(ctx, "globex", "", t0.Add(10*time.Minute))
	require.Error(t, err)

	s, ok := r.Active()
	require.True(t, ok)
	assert.Equal(t, "acme", s.ClientID)

	_, err = r.Stop(ctx, "acme", t0.Add(10*time.Minute))
	require.Error(t, err)
	_, ok = r.Active()
	assert.True(t, ok)

	l.fail = nil
	stopped, err := r.Stop(ctx, "acme", t0.Add(12*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(12), stopped.Minutes)
}

func TestNegativeElapsedCreditsZero(t *testing.T) {
	l := newCreditLog()
	r := NewRegistry(l)
	ctx := context.Background()

	_, err := r.Start(ctx, "acme", "", t0)
	require.NoError(t, err)
	assert.Zero(t, r.Elapsed(t0.Add(-time.Hour)))

	stopped, err := r.Stop(ctx, "acme", t0.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, stopped.Minutes)
}

func TestStartRequiresClient(t *testing.T) {
	r := NewRegistry(newCreditLog())
	_, err := r.Start(context.Background(), "", "", t0)
	assert.Error(t, err)
}

func TestConcurrentStartsLeaveOneSession(t *testing.T) {
	l := newCreditLog()
	r := NewRegistry(l)
	ctx := context.Background()
	clients := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = r.Start(ctx, clients[i%len(clients)], "", t0.Add(time.Duration(i)*time.Minute))
		}(i)
	}
	wg.Wait()

	s, ok := r.Active()
	require.True(t, ok)
	assert.Contains(t, clients, s.ClientID)
}

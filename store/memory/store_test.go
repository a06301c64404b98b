package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/retainer"
	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/id"
	"github.com/xraph/retainer/meter"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newContract(clientID string, start, next time.Time) *contract.Contract {
	return &contract.Contract{
		ID:              id.NewContractID(),
		ClientID:        clientID,
		Enabled:         true,
		Frequency:       contract.Monthly,
		Currency:        "eur",
		AnchorDate:      start,
		PeriodStart:     start,
		NextInvoiceDate: next,
	}
}

func TestContractVersioning(t *testing.T) {
	ctx := context.Background()
	s := New()

	c := newContract("acme", day(2024, 1, 31), day(2024, 2, 29))
	require.NoError(t, s.CreateContract(ctx, c))
	assert.ErrorIs(t, s.CreateContract(ctx, c), retainer.ErrContractExists)

	first, err := s.GetContract(ctx, "acme")
	require.NoError(t, err)
	second, err := s.GetContract(ctx, "acme")
	require.NoError(t, err)

	first.Enabled = false
	require.NoError(t, s.UpdateContract(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	second.PaymentTermsDays = 30
	assert.ErrorIs(t, s.UpdateContract(ctx, second), retainer.ErrConcurrentUpdate)

	stored, err := s.GetContract(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	assert.Zero(t, stored.PaymentTermsDays)

	_, err = s.GetContract(ctx, "nobody")
	assert.ErrorIs(t, err, retainer.ErrContractNotFound)
}

func TestUsageCounters(t *testing.T) {
	ctx := context.Background()
	s := New()
	start := day(2024, 3, 1)

	err := s.AddDocuments(ctx, "acme", start, 1)
	assert.ErrorIs(t, err, meter.ErrNoRecord)

	r := meter.NewRecord("acme", meter.Period{Start: start, End: day(2024, 4, 1)}, time.Now())
	require.NoError(t, s.OpenUsage(ctx, r))
	require.NoError(t, s.AddDocuments(ctx, "acme", start, 4))
	require.NoError(t, s.AddMinutes(ctx, "acme", start, "anna", 30))
	require.NoError(t, s.AddMinutes(ctx, "acme", start, "anna", 15))
	require.NoError(t, s.AddMinutes(ctx, "acme", start, "", 5))

	// Opening again must not reset the counters.
	require.NoError(t, s.OpenUsage(ctx, meter.NewRecord("acme", r.Period(), time.Now())))

	got, err := s.GetUsage(ctx, "acme", start)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, int64(4), got.DocumentsReceived)
	assert.Equal(t, int64(50), got.MinutesWorked)
	assert.Equal(t, map[string]int64{"anna": 45, "": 5}, got.EmployeeMinutes)
}

func TestCommitPeriod(t *testing.T) {
	ctx := context.Background()
	s := New()

	c := newContract("acme", day(2024, 1, 31), day(2024, 2, 29))
	require.NoError(t, s.CreateContract(ctx, c))
	require.NoError(t, s.OpenUsage(ctx, meter.NewRecord("acme", meter.Period{Start: c.PeriodStart, End: c.NextInvoiceDate}, time.Now())))
	require.NoError(t, s.AddDocuments(ctx, "acme", c.PeriodStart, 2))

	stale := c.Clone()
	next := meter.NewRecord("acme", meter.Period{Start: day(2024, 2, 29), End: day(2024, 3, 31)}, time.Now())
	require.NoError(t, s.CommitPeriod(ctx, c, next))

	assert.Equal(t, day(2024, 2, 29), c.PeriodStart)
	assert.Equal(t, day(2024, 3, 31), c.NextInvoiceDate)
	assert.Equal(t, int64(1), c.Version)

	err := s.AddDocuments(ctx, "acme", day(2024, 1, 31), 1)
	assert.ErrorIs(t, err, meter.ErrPeriodClosed)
	require.NoError(t, s.AddDocuments(ctx, "acme", day(2024, 2, 29), 1))

	// A second commit with the old version changes nothing.
	err = s.CommitPeriod(ctx, stale, meter.NewRecord("acme", meter.Period{Start: day(2024, 3, 31), End: day(2024, 4, 30)}, time.Now()))
	assert.ErrorIs(t, err, retainer.ErrConcurrentUpdate)

	history, err := s.ListUsage(ctx, "acme", meter.ListOpts{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, day(2024, 2, 29), history[0].PeriodStart)
	assert.False(t, history[0].Closed)
	assert.True(t, history[1].Closed)
	assert.Equal(t, int64(2), history[1].DocumentsReceived)
}

func TestListContracts(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, tc := range []struct {
		client  string
		next    time.Time
		enabled bool
	}{
		{"delta", day(2024, 3, 1), true},
		{"alpha", day(2024, 3, 5), true},
		{"charlie", day(2024, 3, 1), false},
		{"bravo", day(2024, 2, 1), true},
	} {
		c := newContract(tc.client, tc.next.AddDate(0, -1, 0), tc.next)
		c.Enabled = tc.enabled
		require.NoError(t, s.CreateContract(ctx, c))
	}

	all, err := s.ListContracts(ctx, contract.ListOpts{})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "bravo", "charlie", "delta"}, clientIDs(all))

	page, err := s.ListContracts(ctx, contract.ListOpts{EnabledOnly: true, Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"bravo"}, clientIDs(page))

	due, err := s.ListDueContracts(ctx, day(2024, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"bravo", "delta"}, clientIDs(due))
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Ping(ctx), retainer.ErrStoreClosed)
	assert.ErrorIs(t, s.CreateContract(ctx, newContract("acme", day(2024, 1, 1), day(2024, 2, 1))), retainer.ErrStoreClosed)
	assert.ErrorIs(t, s.AddDocuments(ctx, "acme", day(2024, 1, 1), 1), retainer.ErrStoreClosed)
}

func clientIDs(cs []*contract.Contract) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ClientID)
	}
	return out
}

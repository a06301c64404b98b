package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/retainer/invoice"
	"github.com/xraph/retainer/timer"
)

type recorder struct {
	name      string
	committed atomic.Int32
	started   atomic.Int32
	fail      bool
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnInvoiceCommitted(context.Context, *invoice.Draft) error {
	r.committed.Add(1)
	if r.fail {
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) OnTimerStarted(context.Context, timer.Session) error {
	r.started.Add(1)
	return nil
}

type sleeper struct{}

func (sleeper) Name() string { return "sleeper" }

func (sleeper) OnInvoicePreviewed(ctx context.Context, _ *invoice.Draft) error {
	time.Sleep(200 * time.Millisecond)
	return nil
}

func quietRegistry() *Registry {
	return NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterCachesHooks(t *testing.T) {
	r := quietRegistry()
	p := &recorder{name: "rec"}
	require.NoError(t, r.Register(p))

	assert.Len(t, r.onInvoiceCommitted, 1)
	assert.Len(t, r.onTimerStarted, 1)
	assert.Empty(t, r.onInvoicePreviewed)
	assert.Equal(t, []string{"OnTimerStarted", "OnInvoiceCommitted"}, implementedInterfaces(p))
	assert.Equal(t, 1, r.Count())
	assert.Same(t, p, r.Get("rec"))
	assert.Nil(t, r.Get("missing"))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := quietRegistry()
	require.NoError(t, r.Register(&recorder{name: "rec"}))
	assert.Error(t, r.Register(&recorder{name: "rec"}))
	assert.Len(t, r.List(), 1)
}

func TestEmitSwallowsErrors(t *testing.T) {
	r := quietRegistry()
	failing := &recorder{name: "failing", fail: true}
	ok := &recorder{name: "ok"}
	require.NoError(t, r.Register(failing))
	require.NoError(t, r.Register(ok))

	r.EmitInvoiceCommitted(context.Background(), &invoice.Draft{})
	r.EmitTimerStarted(context.Background(), timer.Session{ClientID: "acme"})

	assert.Equal(t, int32(1), failing.committed.Load())
	assert.Equal(t, int32(1), ok.committed.Load())
	assert.Equal(t, int32(1), ok.started.Load())
}

func TestEmitTimeout(t *testing.T) {
	r := quietRegistry().WithTimeout(10 * time.Millisecond)
	require.NoError(t, r.Register(sleeper{}))

	start := time.Now()
	r.EmitInvoicePreviewed(context.Background(), &invoice.Draft{})
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

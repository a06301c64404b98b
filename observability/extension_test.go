package observability

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/entitlement"
	"github.com/xraph/retainer/invoice"
	"github.com/xraph/retainer/meter"
	"github.com/xraph/retainer/timer"
	"github.com/xraph/retainer/types"
)

type fakeFactory struct {
	mu     sync.Mutex
	values map[string]float64
	obs    map[string][]float64
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{values: map[string]float64{}, obs: map[string][]float64{}}
}

type fakeCounter struct {
	f    *fakeFactory
	name string
}

func (c fakeCounter) Inc() { c.Add(1) }

func (c fakeCounter) Add(v float64) {
	c.f.mu.Lock()
	c.f.values[c.name] += v
	c.f.mu.Unlock()
}

type fakeHistogram struct {
	f    *fakeFactory
	name string
}

func (h fakeHistogram) Observe(v float64) {
	h.f.mu.Lock()
	h.f.obs[h.name] = append(h.f.obs[h.name], v)
	h.f.mu.Unlock()
}

func (f *fakeFactory) Counter(name string) Counter     { return fakeCounter{f: f, name: name} }
func (f *fakeFactory) Histogram(name string) Histogram { return fakeHistogram{f: f, name: name} }

func TestMetricsExtension(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	m := NewMetricsExtension(f)

	require.NoError(t, m.OnContractSaved(ctx, &contract.Contract{}, true))
	require.NoError(t, m.OnContractSaved(ctx, &contract.Contract{}, false))
	require.NoError(t, m.OnContractSaved(ctx, &contract.Contract{}, false))
	require.NoError(t, m.OnDocumentsRecorded(ctx, &meter.Batch{ClientID: "acme", Count: 12}, nil))
	require.NoError(t, m.OnDocumentsRecorded(ctx, &meter.Batch{ClientID: "acme", Count: 3}, nil))
	require.NoError(t, m.OnMinutesCredited(ctx, "acme", "anna", 42, nil))
	require.NoError(t, m.OnAllowanceExceeded(ctx, &entitlement.Status{OverageDocuments: 4}))
	require.NoError(t, m.OnTimerStopped(ctx, &timer.Stopped{Minutes: 42}))
	require.NoError(t, m.OnInvoiceCommitted(ctx, &invoice.Draft{
		TotalGross: types.MustParse("428.40", "eur"),
		Flags:      invoice.Flags{DocumentsOverLimit: true},
	}))

	assert.Equal(t, 1.0, f.values["retainer.contract.created"])
	assert.Equal(t, 2.0, f.values["retainer.contract.updated"])
	assert.Equal(t, 15.0, f.values["retainer.usage.documents"])
	assert.Equal(t, []float64{12, 3}, f.obs["retainer.usage.documents.batch_size"])
	assert.Equal(t, 42.0, f.values["retainer.usage.minutes"])
	assert.Equal(t, []float64{4}, f.obs["retainer.allowance.overage_documents"])
	assert.Equal(t, []float64{42}, f.obs["retainer.timer.session_minutes"])
	assert.Equal(t, 1.0, f.values["retainer.invoice.committed"])
	assert.Equal(t, 1.0, f.values["retainer.invoice.documents_over_limit"])
	assert.Zero(t, f.values["retainer.invoice.hours_over_cap"])
	assert.InDelta(t, 428.40, f.obs["retainer.invoice.total_gross"][0], 1e-9)
}

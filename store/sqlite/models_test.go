package sqlite

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/id"
	"github.com/xraph/retainer/meter"
	"github.com/xraph/retainer/types"
)

func TestDatesSortAsText(t *testing.T) {
	a := formatDate(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))
	b := formatDate(time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC))
	assert.Less(t, a, b)
	assert.Empty(t, formatDate(time.Time{}))
}

func TestContractModel(t *testing.T) {
	c := &contract.Contract{
		ID:                      id.NewContractID(),
		ClientID:                "acme",
		Enabled:                 true,
		Frequency:               contract.Monthly,
		Currency:                "chf",
		AnchorDate:              time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		PeriodStart:             time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		NextInvoiceDate:         time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		BaseTaxRate:             decimal.RequireFromString("8.1"),
		EmployeePricing:         map[contract.Tier]types.Money{"junior": types.CHF(6000)},
		DefaultTier:             "junior",
		DocumentsOverLimitPrice: types.CHF(150),
		Metadata:                map[string]string{"region": "zh"},
		Entity:                  types.NewEntityAt(time.Date(2024, 1, 2, 3, 4, 5, 6000, time.UTC)),
	}

	m, err := toContractModel(c)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", m.NextInvoiceDate)
	assert.Empty(t, m.MaxHoursPerMonth)
	assert.Equal(t, "[]", m.BaseItems)

	got, err := fromContractModel(m)
	require.NoError(t, err)
	assert.Nil(t, got.MaxHoursPerMonth)
	assert.True(t, got.BaseTaxRate.Equal(c.BaseTaxRate))
	assert.True(t, got.EmployeePricing["junior"].Equal(types.CHF(6000)))
	assert.True(t, got.DocumentsOverLimitPrice.Equal(types.CHF(150)))
	assert.Equal(t, c.PeriodStart, got.PeriodStart)
	assert.Equal(t, c.CreatedAt, got.CreatedAt)
	assert.Equal(t, "zh", got.Metadata["region"])
}

func TestContractModelRejectsBadColumns(t *testing.T) {
	m := &contractModel{
		ID:              id.NewContractID().String(),
		ClientID:        "acme",
		PeriodStart:     "31/01/2024",
		NextInvoiceDate: "2024-02-29",
	}
	_, err := fromContractModel(m)
	assert.Error(t, err)
}

func TestUsageModel(t *testing.T) {
	r := meter.NewRecord("acme", meter.Period{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}, time.Now())

	m := toUsageModel(r)
	got, err := fromUsageModel(m, []usageMinutesModel{
		{ClientID: "acme", PeriodStart: m.PeriodStart, EmployeeID: "anna", Minutes: 45},
		{ClientID: "acme", PeriodStart: m.PeriodStart, EmployeeID: "", Minutes: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"anna": 45, "": 5}, got.EmployeeMinutes)
	assert.Equal(t, r.PeriodEnd, got.PeriodEnd)
}

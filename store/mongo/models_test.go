package mongo

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

func TestEmployeeField(t *testing.T) {
	tests := []string{"", "anna", "a.b", "$x", "100%", "e", "e.%2E"}
	for _, employee := range tests {
		field := employeeField(employee)
		assert.NotContains(t, field, ".", employee)
		assert.NotContains(t, field, "$", employee)
		assert.NotEmpty(t, field)

		back, err := employeeFromField(field)
		require.NoError(t, err)
		assert.Equal(t, employee, back)
	}
}

func TestContractModelKeepsDecimals(t *testing.T) {
	maxHours := decimal.RequireFromString("12.5")
	c := &contract.Contract{
		ID:              id.NewContractID(),
		ClientID:        "acme",
		Enabled:         true,
		Frequency:       contract.Quarterly,
		Currency:        "eur",
		AnchorDate:      time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		PeriodStart:     time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		NextInvoiceDate: time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC),
		BaseItems: []contract.BaseItem{{
			Name:      "Payroll",
			Quantity:  decimal.RequireFromString("1.5"),
			UnitPrice: types.MustParse("199.99", "eur"),
			TaxRate:   decimal.NewFromInt(19),
		}},
		EmployeePricing:         map[contract.Tier]types.Money{"senior": types.EUR(9500)},
		TierTaxRates:            map[contract.Tier]decimal.Decimal{"senior": decimal.RequireFromString("7.7")},
		EmployeeTiers:           map[string]contract.Tier{"anna": "senior"},
		DocumentsLimit:          35,
		DocumentsOverLimitPrice: types.EUR(2500),
		MaxHoursPerMonth:        &maxHours,
	}

	m, err := toContractModel(c)
	require.NoError(t, err)
	got, err := fromContractModel(m)
	require.NoError(t, err)

	require.Len(t, got.BaseItems, 1)
	assert.True(t, got.BaseItems[0].UnitPrice.Equal(c.BaseItems[0].UnitPrice))
	assert.True(t, got.BaseItems[0].Quantity.Equal(c.BaseItems[0].Quantity))
	assert.True(t, got.EmployeePricing["senior"].Equal(types.EUR(9500)))
	assert.True(t, got.TierTaxRates["senior"].Equal(decimal.RequireFromString("7.7")))
	assert.True(t, got.DocumentsOverLimitPrice.Equal(types.EUR(2500)))
	require.NotNil(t, got.MaxHoursPerMonth)
	assert.True(t, got.MaxHoursPerMonth.Equal(maxHours))
	assert.Equal(t, contract.Tier("senior"), got.EmployeeTiers["anna"])
	assert.Equal(t, c.NextInvoiceDate, got.NextInvoiceDate)
}

func TestUsageModel(t *testing.T) {
	r := meter.NewRecord("acme", meter.Period{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}, time.Now())
	r.MinutesWorked = 70
	r.EmployeeMinutes[""] = 10
	r.EmployeeMinutes["j.doe"] = 60

	m := toUsageModel(r)
	assert.Equal(t, "acme|2024-03-01", m.Key)

	got, err := fromUsageModel(m)
	require.NoError(t, err)
	assert.Equal(t, r.EmployeeMinutes, got.EmployeeMinutes)
	assert.Equal(t, r.ID, got.ID)
}

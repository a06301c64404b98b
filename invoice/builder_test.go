package invoice

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/meter"
	"github.com/xraph/retainer/types"
)

var (
	march = meter.Period{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	issued = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func eur(s string) types.Money { return types.MustParse(s, "eur") }

func baseContract() *contract.Contract {
	return &contract.Contract{
		ClientID:  "acme",
		Enabled:   true,
		Frequency: contract.Monthly,
		Currency:  "eur",
		BaseItems: []contract.BaseItem{
			{Name: "Bookkeeping", Quantity: dec("1"), UnitPrice: eur("450.00"), TaxRate: dec("23")},
		},
		DocumentsLimit:          35,
		DocumentsOverLimitPrice: eur("25"),
		PaymentTermsDays:        14,
	}
}

func record(docs int64, minutes map[string]int64) *meter.Record {
	r := meter.NewRecord("acme", march, issued)
	r.DocumentsReceived = docs
	for emp, m := range minutes {
		r.EmployeeMinutes[emp] = m
		r.MinutesWorked += m
	}
	return r
}

func TestBuildOverageLine(t *testing.T) {
	c := baseContract()
	c.BaseItems = nil
	c.BaseTaxRate = dec("0")

	d, err := NewBuilder().Build(c, march, record(38, nil), issued)
	require.NoError(t, err)

	over := d.Lines(LineItemOverage)
	require.Len(t, over, 1)
	assert.True(t, dec("3").Equal(over[0].Quantity))
	assert.True(t, eur("75.00").Equal(over[0].Net), "net %s", over[0].Net)
	assert.True(t, d.Flags.DocumentsOverLimit)
}

func TestBuildNoOverageAtLimit(t *testing.T) {
	d, err := NewBuilder().Build(baseContract(), march, record(35, nil), issued)
	require.NoError(t, err)
	assert.Empty(t, d.Lines(LineItemOverage))
	assert.False(t, d.Flags.DocumentsOverLimit)
}

func TestBuildUnpricedDocumentsFlagOnly(t *testing.T) {
	c := baseContract()
	c.DocumentsLimit = 0
	c.DocumentsOverLimitPrice = types.Money{}

	d, err := NewBuilder().Build(c, march, record(5, nil), issued)
	require.NoError(t, err)
	assert.Empty(t, d.Lines(LineItemOverage))
	assert.True(t, d.Flags.DocumentsOverLimit)
	assert.Equal(t, int64(5), d.DocumentsReceived)
}

func TestBuildBaseLines(t *testing.T) {
	c := baseContract()
	c.BaseItems = append(c.BaseItems, contract.BaseItem{
		Name: "Payroll", Quantity: dec("3"), UnitPrice: eur("19.99"), TaxRate: dec("8"),
	})

	d, err := NewBuilder().Build(c, march, nil, issued)
	require.NoError(t, err)
	require.Len(t, d.LineItems, 2)

	first := d.LineItems[0]
	assert.Equal(t, LineItemBase, first.Type)
	assert.Equal(t, "Bookkeeping", first.Description)
	assert.True(t, eur("450.00").Equal(first.Net))
	assert.True(t, eur("103.50").Equal(first.Tax))
	assert.True(t, eur("553.50").Equal(first.Gross))

	second := d.LineItems[1]
	assert.True(t, eur("59.97").Equal(second.Net))
	// 59.97 * 8% = 4.7976
	assert.True(t, eur("4.80").Equal(second.Tax))

	assert.True(t, eur("509.97").Equal(d.TotalNet))
	assert.True(t, eur("108.30").Equal(d.TotalTax))
	assert.True(t, eur("618.27").Equal(d.TotalGross))
	assert.Equal(t, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC), d.DueDate)
	assert.Equal(t, march.Start, d.PeriodStart)
	assert.Equal(t, march.End, d.PeriodEnd)
}

func TestBuildLaborLines(t *testing.T) {
	c := baseContract()
	c.EmployeePricing = map[contract.Tier]types.Money{
		"senior": eur("120"),
		"junior": eur("60"),
	}
	c.EmployeeTiers = map[string]contract.Tier{
		"anna": "senior",
		"ben":  "junior",
		"cleo": "junior",
		"dan":  "partner",
	}

	rec := record(10, map[string]int64{
		"anna": 100, // 1.67 h
		"ben":  30,
		"cleo": 45,
		"dan":  60, // tier without a rate
		"":     20, // unattributed, no default tier
	})

	d, err := NewBuilder().Build(c, march, rec, issued)
	require.NoError(t, err)

	labor := d.Lines(LineItemLabor)
	require.Len(t, labor, 2)

	assert.Equal(t, contract.Tier("junior"), labor[0].Tier)
	assert.True(t, dec("1.25").Equal(labor[0].Quantity))
	assert.True(t, eur("75.00").Equal(labor[0].Net))

	assert.Equal(t, contract.Tier("senior"), labor[1].Tier)
	assert.True(t, dec("1.67").Equal(labor[1].Quantity))
	assert.True(t, eur("200.40").Equal(labor[1].Net))
	assert.True(t, dec("23").Equal(labor[1].TaxRate))

	assert.Equal(t, int64(80), d.UnpricedMinutes)
	assert.Equal(t, int64(255), d.MinutesWorked)

	// base first, then labor
	assert.Equal(t, LineItemBase, d.LineItems[0].Type)
	assert.Equal(t, LineItemLabor, d.LineItems[1].Type)
}

func TestBuildDefaultTier(t *testing.T) {
	c := baseContract()
	c.EmployeePricing = map[contract.Tier]types.Money{"standard": eur("80")}
	c.DefaultTier = "standard"

	d, err := NewBuilder().Build(c, march, record(0, map[string]int64{"": 90, "zoe": 30}), issued)
	require.NoError(t, err)

	labor := d.Lines(LineItemLabor)
	require.Len(t, labor, 1)
	assert.True(t, dec("2").Equal(labor[0].Quantity))
	assert.True(t, eur("160").Equal(labor[0].Net))
	assert.Zero(t, d.UnpricedMinutes)
}

func TestLaborTaxPolicy(t *testing.T) {
	c := baseContract()
	c.EmployeePricing = map[contract.Tier]types.Money{"senior": eur("100")}
	c.DefaultTier = "senior"
	c.TierTaxRates = map[contract.Tier]decimal.Decimal{"senior": dec("5")}
	rec := record(0, map[string]int64{"anna": 60})

	d, err := NewBuilder().Build(c, march, rec, issued)
	require.NoError(t, err)
	labor := d.Lines(LineItemLabor)
	require.Len(t, labor, 1)
	assert.True(t, dec("5").Equal(labor[0].TaxRate))
	assert.True(t, eur("5.00").Equal(labor[0].Tax))

	d, err = NewBuilder(WithLaborTaxPolicy(SharedBaseRate)).Build(c, march, rec, issued)
	require.NoError(t, err)
	labor = d.Lines(LineItemLabor)
	require.Len(t, labor, 1)
	assert.True(t, dec("23").Equal(labor[0].TaxRate))
	assert.True(t, eur("23.00").Equal(labor[0].Tax))
}

func TestBuildErrors(t *testing.T) {
	b := NewBuilder()

	disabled := baseContract()
	disabled.Enabled = false
	_, err := b.Build(disabled, march, record(50, nil), issued)
	assert.ErrorIs(t, err, ErrContractDisabled)

	noBase := baseContract()
	noBase.BaseItems = nil
	_, err = b.Build(noBase, march, nil, issued)
	assert.ErrorIs(t, err, ErrNoUsageForPeriod)

	_, err = b.Build(noBase, march, record(0, nil), issued)
	assert.ErrorIs(t, err, ErrNoUsageForPeriod)

	// base items alone are billable
	d, err := b.Build(baseContract(), march, nil, issued)
	require.NoError(t, err)
	assert.Len(t, d.LineItems, 1)

	mixed := baseContract()
	mixed.BaseItems[0].UnitPrice = types.USD(100)
	_, err = b.Build(mixed, march, nil, issued)
	assert.Error(t, err)
}

func TestHoursOverCapFlag(t *testing.T) {
	c := baseContract()
	limit := dec("1")
	c.MaxHoursPerMonth = &limit

	d, err := NewBuilder().Build(c, march, record(0, map[string]int64{"anna": 61}), issued)
	require.NoError(t, err)
	assert.True(t, d.Flags.HoursOverCap)

	d, err = NewBuilder().Build(c, march, record(0, map[string]int64{"anna": 60}), issued)
	require.NoError(t, err)
	assert.False(t, d.Flags.HoursOverCap)
}

func TestBuildIsRepeatable(t *testing.T) {
	c := baseContract()
	rec := record(40, nil)

	a, err := NewBuilder().Build(c, march, rec, issued)
	require.NoError(t, err)
	b, err := NewBuilder().Build(c, march, rec, issued)
	require.NoError(t, err)

	assert.True(t, a.TotalGross.Equal(b.TotalGross))
	assert.Len(t, b.LineItems, len(a.LineItems))
	assert.Equal(t, int64(40), rec.DocumentsReceived)
}

func TestTotalsEqualSumOfLines(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		c := baseContract()
		c.BaseItems = nil
		n := 1 + rng.Intn(12)
		for j := 0; j < n; j++ {
			c.BaseItems = append(c.BaseItems, contract.BaseItem{
				Name:      "item",
				Quantity:  decimal.New(int64(1+rng.Intn(500)), -int32(rng.Intn(3))),
				UnitPrice: types.New(decimal.New(int64(rng.Intn(1000000)), -3), "eur"),
				TaxRate:   decimal.New(int64(rng.Intn(2500)), -2),
			})
		}

		d, err := NewBuilder().Build(c, march, record(int64(rng.Intn(80)), nil), issued)
		require.NoError(t, err)

		net, tax, gross := types.Zero("eur"), types.Zero("eur"), types.Zero("eur")
		for _, li := range d.LineItems {
			assert.True(t, li.Net.Add(li.Tax).Equal(li.Gross))
			assert.True(t, li.Gross.Equal(li.Gross.Round()))
			net = net.Add(li.Net)
			tax = tax.Add(li.Tax)
			gross = gross.Add(li.Gross)
		}
		require.True(t, d.TotalNet.Equal(net))
		require.True(t, d.TotalTax.Equal(tax))
		require.True(t, d.TotalGross.Equal(gross), "draft %d: %s != %s", i, d.TotalGross, gross)
		require.True(t, d.TotalGross.Equal(d.TotalNet.Add(d.TotalTax)))
	}
}

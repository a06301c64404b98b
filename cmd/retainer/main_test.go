package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/retainer/contract"
)

const portfolioYAML = `
log:
  level: error
  output: stderr
contracts:
  - client_id: acme
    frequency: monthly
    currency: eur
    anchor_date: "2024-01-31"
    documents_limit: 35
    documents_over_limit_price: "25"
    payment_terms_days: 14
    usage:
      documents: 38
  - client_id: bakery
    frequency: monthly
    currency: eur
    anchor_date: "2024-02-15"
    base_tax_rate: "19"
    employee_pricing:
      senior: "90.00"
    default_tier: senior
    usage:
      minutes:
        anna: 90
  - client_id: idle
    frequency: quarterly
    currency: eur
    anchor_date: "2024-01-01"
`

func writePortfolio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "retainer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(portfolioYAML), 0o600))
	return path
}

type draftJSON struct {
	ClientID string `json:"client_id"`
	DueDate  string `json:"due_date"`
	TotalNet struct {
		Amount decimal.Decimal `json:"amount"`
	} `json:"total_net"`
}

func TestRunDue(t *testing.T) {
	path := writePortfolio(t)

	var out bytes.Buffer
	err := run(context.Background(), []string{"-config", path, "-as-of", "2024-03-01", "due"}, &out)
	require.NoError(t, err)

	var due []string
	require.NoError(t, json.Unmarshal(out.Bytes(), &due))
	assert.Equal(t, []string{"acme"}, due)
}

func TestRunCommit(t *testing.T) {
	path := writePortfolio(t)

	var out bytes.Buffer
	err := run(context.Background(), []string{"-config", path, "-as-of", "2024-03-15", "commit"}, &out)
	require.NoError(t, err)

	var drafts []draftJSON
	require.NoError(t, json.Unmarshal(out.Bytes(), &drafts))
	require.Len(t, drafts, 2)

	assert.Equal(t, "acme", drafts[0].ClientID)
	assert.True(t, drafts[0].TotalNet.Amount.Equal(decimal.NewFromInt(75)))
	assert.Contains(t, drafts[0].DueDate, "2024-03-29")

	assert.Equal(t, "bakery", drafts[1].ClientID)
	assert.True(t, drafts[1].TotalNet.Amount.Equal(decimal.NewFromInt(135)))
}

func TestRunPreviewNamedClient(t *testing.T) {
	path := writePortfolio(t)

	var out bytes.Buffer
	err := run(context.Background(), []string{"-config", path, "-as-of", "2024-02-01", "preview", "bakery"}, &out)
	require.NoError(t, err)

	var drafts []draftJSON
	require.NoError(t, json.Unmarshal(out.Bytes(), &drafts))
	require.Len(t, drafts, 1)
	assert.True(t, drafts[0].TotalNet.Amount.Equal(decimal.NewFromInt(135)))
}

func TestRunUsage(t *testing.T) {
	var out bytes.Buffer
	assert.ErrorIs(t, run(context.Background(), nil, &out), errUsage)
	assert.ErrorIs(t, run(context.Background(), []string{"-config", writePortfolio(t), "refund"}, &out), errUsage)

	_, err := parseAsOf("01.03.2024", time.Now())
	assert.Error(t, err)
}

func TestPortfolioContract(t *testing.T) {
	p := portfolioContract{
		ClientID:         "acme",
		Frequency:        "yearly",
		Currency:         "chf",
		AnchorDate:       "2024-02-29",
		BaseTaxRate:      "8.1",
		BaseItems:        []portfolioItem{{Name: "Annual report", Quantity: "1", UnitPrice: "1200.00", TaxRate: "8.1"}},
		EmployeePricing:  map[string]string{"junior": "60"},
		EmployeeTiers:    map[string]string{"ben": "junior"},
		MaxHoursPerMonth: "10",
	}

	c, err := p.toContract()
	require.NoError(t, err)
	assert.True(t, c.Enabled)
	assert.Equal(t, contract.Yearly, c.Frequency)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), c.AnchorDate)
	assert.Equal(t, "chf", c.BaseItems[0].UnitPrice.Currency)
	assert.True(t, c.EmployeePricing["junior"].Amount.Equal(decimal.NewFromInt(60)))
	require.NotNil(t, c.MaxHoursPerMonth)

	p.BaseTaxRate = "nineteen"
	_, err = p.toContract()
	assert.ErrorContains(t, err, "base_tax_rate")
}

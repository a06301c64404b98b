package retainer_test

import (
	"context"
	"log"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/retainer"
	"github.com/xraph/retainer/contract"
	"github.com/xraph/retainer/store/memory"
	"github.com/xraph/retainer/types"
)

// TestDocumentationExamples verifies that the examples in the package
// documentation work.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		e := retainer.New(store,
			retainer.WithLogger(slog.Default()),
			retainer.WithLaborTaxPolicy(retainer.TierRateOrBase),
		)

		ctx := context.Background()
		if err := e.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer e.Stop()

		c := &retainer.Contract{
			ClientID:   "acme",
			Enabled:    true,
			Frequency:  retainer.Monthly,
			Currency:   "eur",
			AnchorDate: time.Now().AddDate(0, 0, -40),
			BaseItems: []retainer.BaseItem{
				{
					Name:      "Bookkeeping",
					Quantity:  decimal.NewFromInt(1),
					UnitPrice: retainer.EUR(29900), // €299.00
					TaxRate:   decimal.NewFromInt(19),
				},
			},
			EmployeePricing: map[contract.Tier]types.Money{
				"senior": retainer.EUR(9500), // €95.00 per hour
			},
			DefaultTier:             "senior",
			DocumentsLimit:          35,
			DocumentsOverLimitPrice: retainer.EUR(2500),
			PaymentTermsDays:        14,
		}

		if err := e.SaveContract(ctx, c); err != nil {
			t.Fatal(err)
		}

		if _, err := e.RecordDocumentBatch(ctx, "acme", 12, retainer.WithIdempotencyKey("upload-1")); err != nil {
			t.Fatal(err)
		}
		if _, err := e.RecordMinutes(ctx, "acme", "anna", 90); err != nil {
			t.Fatal(err)
		}

		status, err := e.AllowanceStatus(ctx, "acme")
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("Documents remaining: %d\n", status.DocumentsRemaining)

		due, err := e.DueContracts(ctx, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if len(due) != 1 {
			t.Fatalf("expected acme to be due, got %v", due)
		}

		draft, err := e.CommitInvoice(ctx, "acme")
		if err != nil {
			t.Fatal(err)
		}

		log.Printf("Invoice committed: %s\n", draft.TotalGross.String())
	})

	t.Run("MoneyExamples", func(t *testing.T) {
		// Constructors
		_ = types.USD(4900)   // $49.00
		_ = types.EUR(9900)   // €99.00
		_ = types.Zero("usd") // $0.00

		// Arithmetic
		m1 := types.USD(100)
		m2 := types.USD(200)
		_ = m1.Add(m2)                         // $3.00
		_ = m1.MulInt(3)                       // $3.00
		_ = m1.Percent(decimal.NewFromInt(20)) // $0.20

		if !m1.LessThan(m2) {
			t.Fatal("expected $1.00 < $2.00")
		}

		// Formatting
		_ = m1.String()      // "$1.00"
		_ = m1.FormatMajor() // "1.00"
	})
}

// Package types provides common value types used across Retainer.
package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a fixed-point monetary value in major currency units.
// Arithmetic never goes through floating point; amounts keep full decimal
// precision until Round is called.
//
// Examples:
//   - EUR(4900) = €49.00
//   - MustParse("12.345", "eur") = €12.345 (unrounded)
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"` // ISO 4217 lowercase: "eur", "usd"
}

// New creates a Money value from a decimal amount in major units.
func New(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToLower(currency)}
}

// FromMinor creates a Money value from an amount in the currency's smallest unit.
func FromMinor(minor int64, currency string) Money {
	return New(decimal.New(minor, -int32(currencyDecimals(currency))), currency)
}

// Parse parses a decimal string such as "25.00" into Money.
func Parse(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", amount, err)
	}
	return New(d, currency), nil
}

// MustParse is like Parse but panics on error. Use for literals.
func MustParse(amount, currency string) Money {
	m, err := Parse(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// EUR creates a Money value in Euros from cents.
func EUR(cents int64) Money { return FromMinor(cents, "eur") }

// USD creates a Money value in US Dollars from cents.
func USD(cents int64) Money { return FromMinor(cents, "usd") }

// GBP creates a Money value in British Pounds from pence.
func GBP(pence int64) Money { return FromMinor(pence, "gbp") }

// CHF creates a Money value in Swiss Francs from rappen.
func CHF(rappen int64) Money { return FromMinor(rappen, "chf") }

// JPY creates a Money value in Japanese Yen (no minor unit).
func JPY(yen int64) Money { return FromMinor(yen, "jpy") }

// Zero returns a zero Money value in the specified currency.
func Zero(currency string) Money { return New(decimal.Zero, currency) }

// ──────────────────────────────────────────────────
// Arithmetic
// ──────────────────────────────────────────────────

// Add adds two Money values. Panics if currencies don't match.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}
}

// Subtract subtracts another Money value. Panics if currencies don't match.
func (m Money) Subtract(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}
}

// Mul multiplies the Money by a decimal quantity without rounding.
func (m Money) Mul(qty decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(qty), Currency: m.Currency}
}

// MulInt multiplies the Money by an integer quantity.
func (m Money) MulInt(qty int64) Money {
	return m.Mul(decimal.NewFromInt(qty))
}

// Percent returns rate percent of m without rounding (rate 19 = 19%).
func (m Money) Percent(rate decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(rate).Div(decimal.NewFromInt(100)), Currency: m.Currency}
}

// Round rounds half away from zero to the currency's minor unit.
func (m Money) Round() Money {
	return Money{Amount: m.Amount.Round(int32(currencyDecimals(m.Currency))), Currency: m.Currency}
}

// Negate returns the negative of the Money value.
func (m Money) Negate() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

// ──────────────────────────────────────────────────
// Comparison
// ──────────────────────────────────────────────────

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount.IsZero() }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }

// IsNegative returns true if the amount is less than zero.
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

// Equal reports whether both values have the same currency and numeric amount.
// Trailing zeros are ignored: 75 equals 75.00.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// LessThan returns true if m is less than other. Panics if currencies don't match.
func (m Money) LessThan(other Money) bool {
	m.assertSameCurrency(other)
	return m.Amount.LessThan(other.Amount)
}

// GreaterThan returns true if m is greater than other. Panics if currencies don't match.
func (m Money) GreaterThan(other Money) bool {
	m.assertSameCurrency(other)
	return m.Amount.GreaterThan(other.Amount)
}

// ──────────────────────────────────────────────────
// Formatting
// ──────────────────────────────────────────────────

// FormatMajor returns the amount at the currency's precision without a symbol,
// e.g. "75.00" or "100" for JPY.
func (m Money) FormatMajor() string {
	return m.Amount.StringFixed(int32(currencyDecimals(m.Currency)))
}

// String returns a human-readable string with currency symbol.
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON implements json.Marshaler. The amount is emitted as a
// decimal string so no precision is lost in transit.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount.String(),
		Currency: m.Currency,
		Display:  m.String(),
	})
}

// UnmarshalJSON implements json.Unmarshaler. It accepts the shape produced
// by MarshalJSON; the display field is ignored.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("money: unmarshal: %w", err)
	}
	*m = New(raw.Amount, raw.Currency)
	return nil
}

// Sum adds values in the given currency. An empty list sums to zero.
func Sum(currency string, values ...Money) Money {
	result := Zero(currency)
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}

func (m Money) assertSameCurrency(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

func currencySymbol(currency string) string {
	symbols := map[string]string{
		"usd": "$",
		"eur": "€",
		"gbp": "£",
		"jpy": "¥",
		"chf": "CHF ",
		"pln": "zł ",
		"sek": "kr ",
	}
	if sym, ok := symbols[strings.ToLower(currency)]; ok {
		return sym
	}
	return strings.ToUpper(currency) + " "
}

// currencyDecimals returns the number of minor-unit digits for a currency.
func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case "jpy", "krw", "vnd", "clp", "isk":
		return 0
	default:
		return 2
	}
}

// Decimals returns the number of minor-unit digits used by currency.
func Decimals(currency string) int { return currencyDecimals(currency) }

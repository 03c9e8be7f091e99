/*
Package generic provides the domain-agnostic primitives of the settlement engine.

PURPOSE:
  The settlement package reasons about bookings, hosts, payouts and tax
  years. Underneath it sit a few small building blocks that know nothing
  about rentals: money arithmetic, calendar dates, closed periods, and the
  error taxonomy shared by every calculator.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount with a currency (never float64)
  - Rate: A decimal fraction (0.25 = 25%)
  - Identifiers: Type-safe booking/host/version IDs

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point drift
  2. Conservation: Splits round one side and subtract for the other, so a
     split never creates or loses a cent
  3. Type Safety: Strong typing for IDs prevents mixing hosts and bookings

USAGE:
  subtotal := generic.USD("400.00")
  fee := subtotal.MulRate(generic.MustRate("0.15")) // $60.00
  refund, kept := subtotal.Split(generic.MustRate("1"))

SEE ALSO:
  - time.go: Calendar dates
  - period.go: Closed reporting periods
  - errors.go: Error taxonomy
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount with currency
// =============================================================================

// Money is an amount in a single currency. The engine never converts
// currencies; mixing them in arithmetic is a programming error.
type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

type Currency string

const CurrencyUSD Currency = "USD"

// CentPlaces is the number of decimal places of the smallest currency unit.
const CentPlaces int32 = 2

func NewMoney(value decimal.Decimal, currency Currency) Money {
	return Money{Value: value, Currency: currency}
}

// USD parses a dollar amount. Invalid input yields zero, matching
// MustParseDecimal; use ParseMoney where input is untrusted.
func USD(s string) Money {
	return Money{Value: MustParseDecimal(s), Currency: CurrencyUSD}
}

func USDFromCents(cents int64) Money {
	return Money{Value: decimal.New(cents, -CentPlaces), Currency: CurrencyUSD}
}

func ZeroUSD() Money { return Money{Value: decimal.Zero, Currency: CurrencyUSD} }

// ParseMoney parses s as an amount in the given currency.
func ParseMoney(s string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse money %q: %w", s, err)
	}
	return Money{Value: d, Currency: currency}, nil
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (m Money) currency() Currency {
	if m.Currency == "" {
		return CurrencyUSD
	}
	return m.Currency
}

func (m Money) Zero() Money                { return Money{Value: decimal.Zero, Currency: m.currency()} }
func (m Money) Add(o Money) Money          { return Money{Value: m.Value.Add(o.Value), Currency: m.currency()} }
func (m Money) Sub(o Money) Money          { return Money{Value: m.Value.Sub(o.Value), Currency: m.currency()} }
func (m Money) Neg() Money                 { return Money{Value: m.Value.Neg(), Currency: m.currency()} }
func (m Money) Round() Money               { return Money{Value: m.Value.Round(CentPlaces), Currency: m.currency()} }
func (m Money) IsZero() bool               { return m.Value.IsZero() }
func (m Money) IsNegative() bool           { return m.Value.IsNegative() }
func (m Money) IsPositive() bool           { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool         { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool   { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool      { return m.Value.LessThan(o.Value) }
func (m Money) GreaterOrEqual(o Money) bool { return m.Value.GreaterThanOrEqual(o.Value) }

// MulRate multiplies by a fraction and rounds to the smallest currency unit.
func (m Money) MulRate(r Rate) Money {
	return Money{Value: m.Value.Mul(r.Value).Round(CentPlaces), Currency: m.currency()}
}

// Split divides m into (share, remainder) where share = round(m × r) and
// remainder = m − share. share + remainder == m exactly.
func (m Money) Split(r Rate) (share, remainder Money) {
	share = m.MulRate(r)
	return share, m.Sub(share)
}

// String renders the amount with two decimal places, e.g. "373.50".
func (m Money) String() string { return m.Value.StringFixed(CentPlaces) }

// Sum adds amounts, returning zero USD for an empty list.
func Sum(amounts ...Money) Money {
	total := ZeroUSD()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// =============================================================================
// RATE - Decimal fraction
// =============================================================================

// Rate is a fraction in [0, 1] for commission, fee and share rates.
type Rate struct {
	Value decimal.Decimal
}

func NewRate(d decimal.Decimal) Rate { return Rate{Value: d} }

// MustRate parses a fraction; invalid input yields zero.
func MustRate(s string) Rate { return Rate{Value: MustParseDecimal(s)} }

// RateFromPercent converts a whole percentage (25) into a fraction (0.25).
func RateFromPercent(pct int64) Rate {
	return Rate{Value: decimal.New(pct, -2)}
}

func (r Rate) Complement() Rate         { return Rate{Value: decimal.NewFromInt(1).Sub(r.Value)} }
func (r Rate) Equal(o Rate) bool        { return r.Value.Equal(o.Value) }
func (r Rate) GreaterThan(o Rate) bool  { return r.Value.GreaterThan(o.Value) }
func (r Rate) LessThan(o Rate) bool     { return r.Value.LessThan(o.Value) }
func (r Rate) IsNegative() bool         { return r.Value.IsNegative() }
func (r Rate) IsZero() bool             { return r.Value.IsZero() }
func (r Rate) String() string           { return r.Value.String() }

// Percent returns the rate as a whole-number percentage.
func (r Rate) Percent() decimal.Decimal { return r.Value.Mul(decimal.NewFromInt(100)) }

// InUnitInterval reports whether 0 <= r < 1.
func (r Rate) InUnitInterval() bool {
	return !r.Value.IsNegative() && r.Value.LessThan(decimal.NewFromInt(1))
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BookingID string
type HostID string
type PolicyVersion string

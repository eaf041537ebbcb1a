/*
Package money provides the decimal amount primitives shared by every entity
in the disbursement and liquidation engine.

PURPOSE:
  A single Amount type backed by decimal.Decimal so that disbursed,
  liquidated, and remaining totals never drift from floating-point error.
  Every arithmetic rule the ledger relies on lives here:
  - Sub never silently goes negative for ledger fields (use SubFloorZero)
  - Clamp keeps derived totals within [0, cap]
  - JSON round-trips as a decimal string, never a float

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal only. No float64 in any money path.
  2. Value semantics: Amount is a small immutable value; methods return
     new values, never mutate.
  3. Conservation: liquidated + remaining == amount is enforced by
     construction (see aid.RecomputeDisbursement), not by callers doing
     ad hoc arithmetic.

USAGE:
  total := money.MustParse("1000.00")
  spent := money.NewFromInt(600)
  left  := total.SubFloorZero(spent) // 400

SEE ALSO:
  - aid/reconcile.go: the only writer of derived ledger fields
*/
package money

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Decimal-safe money value
// =============================================================================

type Amount struct {
	Value decimal.Decimal
}

func Zero() Amount {
	return Amount{Value: decimal.Zero}
}

func NewFromInt(v int64) Amount {
	return Amount{Value: decimal.NewFromInt(v)}
}

func NewFromFloat(v float64) Amount {
	return Amount{Value: decimal.NewFromFloat(v)}
}

// Parse parses a decimal string ("1234.50").
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Value: d}, nil
}

// MustParse is Parse for literals in tests and seeds; bad input yields zero.
func MustParse(s string) Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero()
	}
	return Amount{Value: d}
}

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s)} }
func (a Amount) MulInt(n int64) Amount        { return Amount{Value: a.Value.Mul(decimal.NewFromInt(n))} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg()} }

func (a Amount) IsZero() bool     { return a.Value.IsZero() }
func (a Amount) IsNegative() bool { return a.Value.IsNegative() }
func (a Amount) IsPositive() bool { return a.Value.IsPositive() }

func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// SubFloorZero returns a-b clamped at zero. Ledger fields never go negative.
func (a Amount) SubFloorZero(b Amount) Amount {
	r := a.Sub(b)
	if r.IsNegative() {
		return Zero()
	}
	return r
}

// ClampCap returns a limited to at most cap.
func (a Amount) ClampCap(cap Amount) Amount {
	if a.GreaterThan(cap) {
		return cap
	}
	return a
}

func (a Amount) String() string {
	return a.Value.String()
}

// =============================================================================
// SERIALIZATION - Always a decimal string on the wire and in storage
// =============================================================================

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.Value.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	a.Value = d
	return nil
}

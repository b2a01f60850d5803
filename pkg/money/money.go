// Package money provides a fixed-point currency type used everywhere a
// persisted or rule-evaluated amount flows through the engine. Binary
// floating point never appears on these paths.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money wraps decimal.Decimal so the rest of the codebase has one
// vocabulary type for currency amounts instead of passing decimal.Decimal
// or float64 around directly.
type Money struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Money{d: decimal.Zero}

// New builds a Money from a float64. Only call this at an external boundary
// (parsing a broker payload); never derive Money by dividing two Moneys and
// truncating through float64.
func New(f float64) Money {
	return Money{d: decimal.NewFromFloat(f)}
}

// NewFromString parses a decimal string, e.g. config or CLI input.
func NewFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse money %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// FromDecimal wraps an existing decimal.Decimal.
func FromDecimal(d decimal.Decimal) Money {
	return Money{d: d}
}

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }

// Mul multiplies by a plain integer quantity (contract size, tick count).
func (m Money) Mul(n int64) Money {
	return Money{d: m.d.Mul(decimal.NewFromInt(n))}
}

// MulDecimal multiplies by an arbitrary decimal factor (e.g. a signed tick
// count derived from a price division).
func (m Money) MulDecimal(f decimal.Decimal) Money {
	return Money{d: m.d.Mul(f)}
}

// Div divides by another Money, used only for tick-count derivation
// (price delta / tick size), never for allocating a Money amount.
func (m Money) Div(o Money) decimal.Decimal {
	if o.d.IsZero() {
		return decimal.Zero
	}
	return m.d.Div(o.d)
}

func (m Money) Neg() Money { return Money{d: m.d.Neg()} }

func (m Money) LessThanOrEqual(o Money) bool    { return m.d.LessThanOrEqual(o.d) }
func (m Money) GreaterThanOrEqual(o Money) bool { return m.d.GreaterThanOrEqual(o.d) }
func (m Money) LessThan(o Money) bool           { return m.d.LessThan(o.d) }
func (m Money) GreaterThan(o Money) bool        { return m.d.GreaterThan(o.d) }
func (m Money) Equal(o Money) bool              { return m.d.Equal(o.d) }
func (m Money) IsZero() bool                    { return m.d.IsZero() }
func (m Money) IsNegative() bool                { return m.d.IsNegative() }
func (m Money) IsPositive() bool                { return m.d.IsPositive() }

func (m Money) Abs() Money { return Money{d: m.d.Abs()} }

// Float64 is for display/logging only; never feed it back into a
// persisted or rule-evaluated computation.
func (m Money) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

func (m Money) String() string {
	return m.d.StringFixed(2)
}

// Value implements driver.Valuer so Money can be written directly by the
// store's repositories.
func (m Money) Value() (driver.Value, error) {
	return m.d.StringFixed(4), nil
}

// Scan implements sql.Scanner so the store's repositories can read a Money
// column back without a manual parse at every call site.
func (m *Money) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("scan money: %w", err)
		}
		m.d = d
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("scan money: %w", err)
		}
		m.d = d
	case float64:
		m.d = decimal.NewFromFloat(v)
	case int64:
		m.d = decimal.NewFromInt(v)
	case nil:
		m.d = decimal.Zero
	default:
		return fmt.Errorf("scan money: unsupported type %T", src)
	}
	return nil
}

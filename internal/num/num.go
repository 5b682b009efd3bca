// Package num provides the exact-decimal scalar used by every position
// economics formula.
//
// A Value is either a finite shopspring/decimal or an infinite sentinel with
// a sign. Quantities that diverge (a take-profit price of zero in notional
// terms, an unconstrained capacity bound) are represented by the sentinel
// instead of an error, and every arithmetic operation below spells out how
// the sentinel propagates. NaN is not representable: the indeterminate forms
// (∞−∞, ∞·0, 0/0) collapse to zero.
//
// All monetary values use shopspring/decimal, never float64 for money.
package num

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DivisionScale is the number of fractional digits kept by Div.
var DivisionScale int32 = 32

// ErrInvalid is returned when a string cannot be parsed as a Value.
var ErrInvalid = errors.New("num: invalid decimal value")

const (
	infText    = "Infinity"
	negInfText = "-Infinity"
)

// Value is an exact decimal or a signed infinity. The zero Value is 0.
type Value struct {
	d   decimal.Decimal
	inf int8 // 0 finite, +1 +∞, -1 −∞
}

var (
	Zero   = Value{}
	One    = FromInt(1)
	Two    = FromInt(2)
	Inf    = Value{inf: 1}
	NegInf = Value{inf: -1}
)

// FromDecimal wraps a finite decimal.
func FromDecimal(d decimal.Decimal) Value {
	return Value{d: d}
}

// FromInt returns the finite value i.
func FromInt(i int64) Value {
	return Value{d: decimal.NewFromInt(i)}
}

// New returns value · 10^exp, e.g. New(1, -7) is 1e-7.
func New(value int64, exp int32) Value {
	return Value{d: decimal.New(value, exp)}
}

// FromFloat converts a float64. Intended for constants and tests only.
func FromFloat(f float64) Value {
	return Value{d: decimal.NewFromFloat(f)}
}

// Parse reads a decimal string, "Infinity", "+Infinity", "-Infinity" or "inf".
func Parse(s string) (Value, error) {
	t := strings.TrimSpace(s)
	switch strings.ToLower(t) {
	case "infinity", "+infinity", "inf", "+inf":
		return Inf, nil
	case "-infinity", "-inf":
		return NegInf, nil
	}
	d, err := decimal.NewFromString(t)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return Value{d: d}, nil
}

// MustParse is Parse for literals; it panics on malformed input.
func MustParse(s string) Value {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsInf reports whether v is +∞ or −∞.
func (v Value) IsInf() bool { return v.inf != 0 }

// IsPosInf reports whether v is +∞.
func (v Value) IsPosInf() bool { return v.inf > 0 }

// IsZero reports whether v is a finite zero.
func (v Value) IsZero() bool { return v.inf == 0 && v.d.IsZero() }

// Sign returns -1, 0 or +1.
func (v Value) Sign() int {
	if v.inf != 0 {
		return int(v.inf)
	}
	return v.d.Sign()
}

// IsNegative reports v < 0.
func (v Value) IsNegative() bool { return v.Sign() < 0 }

// IsPositive reports v > 0.
func (v Value) IsPositive() bool { return v.Sign() > 0 }

// Decimal returns the finite payload. ok is false for the infinities.
func (v Value) Decimal() (d decimal.Decimal, ok bool) {
	return v.d, v.inf == 0
}

// Neg returns −v.
func (v Value) Neg() Value {
	if v.inf != 0 {
		return Value{inf: -v.inf}
	}
	return Value{d: v.d.Neg()}
}

// Abs returns |v|.
func (v Value) Abs() Value {
	if v.inf != 0 {
		return Inf
	}
	return Value{d: v.d.Abs()}
}

// Add returns v + o. Opposite infinities cancel to zero.
func (v Value) Add(o Value) Value {
	switch {
	case v.inf != 0 && o.inf != 0:
		if v.inf == o.inf {
			return v
		}
		return Zero
	case v.inf != 0:
		return v
	case o.inf != 0:
		return o
	}
	return Value{d: v.d.Add(o.d)}
}

// Sub returns v − o.
func (v Value) Sub(o Value) Value {
	return v.Add(o.Neg())
}

// Mul returns v · o. An infinity times zero is zero.
func (v Value) Mul(o Value) Value {
	if v.inf == 0 && o.inf == 0 {
		return Value{d: v.d.Mul(o.d)}
	}
	s := v.Sign() * o.Sign()
	if s == 0 {
		return Zero
	}
	return Value{inf: int8(s)}
}

// Div returns v / o rounded to DivisionScale fractional digits.
//
//	x / ±∞ = 0
//	±∞ / y = ±∞ · sign(y)  (∞/0 keeps the sign of the numerator)
//	x / 0  = ±∞ · sign(x), 0 / 0 = 0
func (v Value) Div(o Value) Value {
	switch {
	case o.inf != 0:
		return Zero
	case v.inf != 0:
		if s := o.Sign(); s != 0 {
			return Value{inf: v.inf * int8(s)}
		}
		return v
	case o.d.IsZero():
		if s := v.d.Sign(); s != 0 {
			return Value{inf: int8(s)}
		}
		return Zero
	}
	return Value{d: v.d.DivRound(o.d, DivisionScale)}
}

// Floor rounds toward −∞. Infinities are unchanged.
func (v Value) Floor() Value {
	if v.inf != 0 {
		return v
	}
	return Value{d: v.d.Floor()}
}

// Ceil rounds toward +∞. Infinities are unchanged.
func (v Value) Ceil() Value {
	if v.inf != 0 {
		return v
	}
	return Value{d: v.d.Ceil()}
}

// Round rounds a finite value to places fractional digits.
func (v Value) Round(places int32) Value {
	if v.inf != 0 {
		return v
	}
	return Value{d: v.d.Round(places)}
}

// Cmp returns -1, 0 or +1. Equal infinities compare equal.
func (v Value) Cmp(o Value) int {
	if v.inf != 0 || o.inf != 0 {
		a, b := int(v.inf), int(o.inf)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		if a != 0 {
			return 0
		}
	}
	return v.d.Cmp(o.d)
}

func (v Value) Equal(o Value) bool              { return v.Cmp(o) == 0 }
func (v Value) LessThan(o Value) bool           { return v.Cmp(o) < 0 }
func (v Value) LessThanOrEqual(o Value) bool    { return v.Cmp(o) <= 0 }
func (v Value) GreaterThan(o Value) bool        { return v.Cmp(o) > 0 }
func (v Value) GreaterThanOrEqual(o Value) bool { return v.Cmp(o) >= 0 }

// Min returns the smallest argument.
func Min(first Value, rest ...Value) Value {
	m := first
	for _, v := range rest {
		if v.LessThan(m) {
			m = v
		}
	}
	return m
}

// Max returns the largest argument.
func Max(first Value, rest ...Value) Value {
	m := first
	for _, v := range rest {
		if v.GreaterThan(m) {
			m = v
		}
	}
	return m
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi Value) Value {
	return Max(Min(v, hi), lo)
}

// String renders finite values without exponent and the infinities as
// "Infinity" / "-Infinity".
func (v Value) String() string {
	switch {
	case v.inf > 0:
		return infText
	case v.inf < 0:
		return negInfText
	}
	return v.d.String()
}

// InexactFloat64 converts v for instrumentation. Infinities map to
// math.Inf.
func (v Value) InexactFloat64() float64 {
	if v.inf != 0 {
		return math.Inf(int(v.inf))
	}
	return v.d.InexactFloat64()
}

// MarshalText implements encoding.TextMarshaler; JSON renders it as a string.
func (v Value) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Value) UnmarshalText(b []byte) error {
	p, err := Parse(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// UnmarshalJSON accepts both JSON strings and bare numbers.
func (v *Value) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		*v = Zero
		return nil
	}
	return v.UnmarshalText([]byte(s))
}

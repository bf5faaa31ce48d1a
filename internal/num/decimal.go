// Package num provides the fixed-precision decimal type used for all
// prices and amounts. Values carry at most 8 fractional digits and have a
// canonical text form with no exponent and no trailing zeros.
package num

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxScale is the maximum number of fractional digits accepted on parse.
const MaxScale = 8

// Decimal wraps shopspring/decimal so that parsing, rendering and JSON
// encoding stay canonical everywhere in the engine.
type Decimal struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{}

// Parse converts a canonical decimal string. Exponent notation and more
// than MaxScale fractional digits are rejected.
func Parse(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("empty decimal")
	}
	if strings.ContainsAny(s, "eE") {
		return Zero, fmt.Errorf("exponent notation not allowed: %q", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	if d.Exponent() < -MaxScale {
		return Zero, fmt.Errorf("decimal %q exceeds %d fractional digits", s, MaxScale)
	}
	return Decimal{d: d}, nil
}

// MustParse is Parse for literals known to be valid; it panics otherwise.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromInt builds a Decimal from an integer value.
func FromInt(n int64) Decimal {
	return Decimal{d: decimal.NewFromInt(n)}
}

func (d Decimal) Add(o Decimal) Decimal { return Decimal{d: d.d.Add(o.d)} }
func (d Decimal) Sub(o Decimal) Decimal { return Decimal{d: d.d.Sub(o.d)} }

// Min returns the smaller of a and b.
func Min(a, b Decimal) Decimal {
	if a.d.LessThan(b.d) {
		return a
	}
	return b
}

func (d Decimal) Cmp(o Decimal) int          { return d.d.Cmp(o.d) }
func (d Decimal) Equal(o Decimal) bool       { return d.d.Equal(o.d) }
func (d Decimal) LessThan(o Decimal) bool    { return d.d.LessThan(o.d) }
func (d Decimal) GreaterThan(o Decimal) bool { return d.d.GreaterThan(o.d) }
func (d Decimal) IsPositive() bool           { return d.d.IsPositive() }
func (d Decimal) IsZero() bool               { return d.d.IsZero() }

// String renders the canonical form: plain notation, trailing zeros
// stripped, integral values without a decimal point.
func (d Decimal) String() string { return d.d.String() }

// Score converts to float64 for use as an ordered-set score. Scores are a
// secondary index only; ordering decisions always compare Decimals.
func (d Decimal) Score() float64 {
	f, _ := d.d.Float64()
	return f
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Decimal) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		*d = Zero
		return nil
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

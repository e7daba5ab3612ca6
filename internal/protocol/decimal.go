package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Decimal is a NUMERIC/DECIMAL value in Firebird's transmission form: an
// unscaled two's-complement integer plus the column's scale, so that
// Value = Unscaled × 10^Scale. Scale is negative for fractional columns —
// DECIMAL(18,4) carries scale -4, and 1234.5679 travels as 12345679.
type Decimal struct {
	Unscaled int64
	Scale    int16
}

// Float64 returns the value as a float, with float64's usual rounding.
func (d Decimal) Float64() float64 {
	return float64(d.Unscaled) * math.Pow(10, float64(d.Scale))
}

// String renders the exact decimal representation.
func (d Decimal) String() string {
	s := strconv.FormatInt(d.Unscaled, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	switch {
	case d.Scale > 0:
		s += strings.Repeat("0", int(d.Scale))
	case d.Scale < 0:
		digits := -int(d.Scale)
		if len(s) <= digits {
			s = strings.Repeat("0", digits-len(s)+1) + s
		}
		s = s[:len(s)-digits] + "." + s[len(s)-digits:]
	}
	if neg {
		s = "-" + s
	}
	return s
}

// Rescale returns the unscaled integer this value transmits as at the
// target scale, failing when significant digits would be lost.
func (d Decimal) Rescale(scale int16) (int64, error) {
	diff := int(d.Scale) - int(scale)
	n := d.Unscaled
	switch {
	case diff == 0:
		return n, nil
	case diff > 0:
		return mulPow10(n, diff)
	default:
		for i := 0; i < -diff; i++ {
			if n%10 != 0 {
				return 0, fmt.Errorf("protocol: %s cannot be represented exactly at scale %d", d, scale)
			}
			n /= 10
		}
		return n, nil
	}
}

func mulPow10(n int64, p int) (int64, error) {
	for i := 0; i < p; i++ {
		if n > math.MaxInt64/10 || n < math.MinInt64/10 {
			return 0, fmt.Errorf("protocol: scaled value overflows 64 bits")
		}
		n *= 10
	}
	return n, nil
}

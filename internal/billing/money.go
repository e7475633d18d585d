package billing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a monetary value in fixed-point units of 1/10000 of a currency
// unit (four decimal places). All arithmetic is integer-only; no floating
// point is ever stored or persisted.
//
// Examples:
//   - Amount(33)    = $0.0033 (one second of talk time at the default rate)
//   - Amount(5000)  = $0.50
//   - Amount(10000) = $1.00
type Amount int64

// Scale is the number of fixed-point units per whole currency unit.
const Scale = 10_000

// FromUnits builds an Amount from whole currency units (e.g. dollars).
func FromUnits(units int64) Amount { return Amount(units * Scale) }

// IsPositive reports whether the amount is greater than zero.
func (a Amount) IsPositive() bool { return a > 0 }

// IsNegative reports whether the amount is less than zero.
func (a Amount) IsNegative() bool { return a < 0 }

// Neg returns the negated amount.
func (a Amount) Neg() Amount { return -a }

// Min returns the smaller of a and b.
func (a Amount) Min(b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// String renders the amount as a decimal with four fractional digits,
// e.g. "1.0000", "-0.0033".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%04d", sign, v/Scale, v%Scale)
}

var errBadAmount = errors.New("billing: malformed amount")

// ParseAmount parses a decimal string ("0.0033", "12", "-1.50") into an
// Amount. At most four fractional digits are accepted; config values with
// more precision are rejected rather than silently rounded.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errBadAmount
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return 0, errBadAmount
	}
	if len(frac) > 4 {
		return 0, fmt.Errorf("%w: more than 4 decimal places in %q", errBadAmount, s)
	}

	var units int64
	if whole != "" {
		n, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", errBadAmount, s)
		}
		units = n * Scale
	}
	if frac != "" {
		n, err := strconv.ParseInt(frac+strings.Repeat("0", 4-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", errBadAmount, s)
		}
		units += n
	}
	if neg {
		units = -units
	}
	return Amount(units), nil
}

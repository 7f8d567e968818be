package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the precision of LP tokens and of the native currency.
const Decimals = 18

var errEmptyAmount = errors.New("empty amount")

// ParseAmount parses a base-unit integer amount. Decimal and 0x-prefixed
// hexadecimal forms are accepted.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errEmptyAmount
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := uint256.FromHex(s)
		if err != nil {
			return nil, fmt.Errorf("invalid hex amount %q: %w", s, err)
		}
		return v, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

// ParseUnits parses a human-readable amount such as "1.5" into base units
// with the given number of decimals ("1.5", 18 → 1500000000000000000).
func ParseUnits(s string, decimals int) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errEmptyAmount
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	if hasDot && frac == "" {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}
	if whole == "" {
		whole = "0"
	}
	frac += strings.Repeat("0", decimals-len(frac))

	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

// FormatUnits renders base units as a decimal string with the given
// precision, trimming trailing zeros ("1500000000000000000", 18 → "1.5").
func FormatUnits(v *uint256.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	s := v.Dec()
	if decimals == 0 {
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole, frac := s[:len(s)-decimals], strings.TrimRight(s[len(s)-decimals:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// Ether returns n whole units at 18 decimals.
func Ether(n uint64) *uint256.Int {
	v := uint256.NewInt(n)
	return v.Mul(v, uint256.NewInt(1_000_000_000_000_000_000))
}

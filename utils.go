package x402

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseAmount converts a decimal string ("0.01") into minor units for the given decimals.
// More fractional digits than decimals is an error rather than a silent truncation.
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(amount), "$"))
	if amount == "" {
		return nil, fmt.Errorf("amount is required")
	}
	if decimals < 0 {
		return nil, fmt.Errorf("invalid decimals: %d", decimals)
	}

	whole, frac, _ := strings.Cut(amount, ".")
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))

	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative: %s", amount)
	}
	return value, nil
}

// FormatAmount renders minor units as a decimal string, trimming trailing zeros
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	if decimals <= 0 {
		return amount.String()
	}

	s := new(big.Int).Abs(amount).String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole := s[:len(s)-decimals]
	frac := strings.TrimRight(s[len(s)-decimals:], "0")

	out := whole
	if frac != "" {
		out += "." + frac
	}
	if amount.Sign() < 0 {
		out = "-" + out
	}
	return out
}

// Package money converts between kobo, the integer minor unit every ledger
// column stores, and naira decimals used at API and gateway boundaries.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const KoboPerNaira = 100

// Currency is the ISO code of every amount the platform handles.
const Currency = "NGN"

var hundred = decimal.NewFromInt(KoboPerNaira)

// KoboToNaira renders a kobo amount as an exact naira decimal.
func KoboToNaira(kobo int64) decimal.Decimal {
	return decimal.New(kobo, -2)
}

// NairaToKobo converts a naira decimal to kobo. Amounts with sub-kobo
// precision are rejected rather than rounded.
func NairaToKobo(naira decimal.Decimal) (int64, error) {
	kobo := naira.Mul(hundred)
	if !kobo.Equal(kobo.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than two decimal places", naira.String())
	}
	return kobo.IntPart(), nil
}

// ParseNaira parses a decimal naira string such as "5000" or "5000.50".
func ParseNaira(value string) (int64, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(value, ",", ""))
	if trimmed == "" {
		return 0, fmt.Errorf("amount is required")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q must not be negative", value)
	}
	return NairaToKobo(d)
}

// FormatNaira renders kobo for humans, e.g. 500000 -> "₦5,000.00".
func FormatNaira(kobo int64) string {
	sign := ""
	if kobo < 0 {
		sign = "-"
		kobo = -kobo
	}
	whole := fmt.Sprintf("%d", kobo/KoboPerNaira)
	var grouped strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}
	return fmt.Sprintf("%s₦%s.%02d", sign, grouped.String(), kobo%KoboPerNaira)
}

package billing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FormatBRL formats cents as Brazilian reais, e.g. 123456 -> "R$ 1.234,56".
func FormatBRL(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	s := decimal.NewFromInt(cents).Div(hundred).StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	out := "R$ " + b.String() + "," + frac
	if neg {
		return "-" + out
	}
	return out
}

// ParseAmount converts a decimal string ("150.00", "150,5", "1.234,56") to cents.
// More than two fractional digits is rejected rather than rounded.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "R$"))
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if strings.Contains(s, ",") {
		// pt-BR: "." groups thousands and "," marks decimals
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.Exponent() < -2 && !d.Equal(d.Round(2)) {
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", s)
	}
	cents := d.Mul(hundred)
	if !cents.IsInteger() || cents.GreaterThan(decimal.NewFromInt(MaxTenderAmount)) {
		return 0, fmt.Errorf("amount %q exceeds %s", s, FormatBRL(MaxTenderAmount))
	}
	return cents.IntPart(), nil
}

package statement

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// million scales source magnitudes, which are published in millions, to
// full currency units.
var million = decimal.NewFromInt(1_000_000)

var hundred = decimal.NewFromInt(100)

// ParseValue converts raw textual cell content to a typed value.
//
// "-" and the empty string are the reported-as-absent sentinel and yield a
// null Value. Thousands separators are stripped and parenthesized values are
// negative. Percentages are divided by 100 with no further scaling. EPS
// fields are literal decimals; all other numeric fields are scaled from
// millions to full units.
//
// When the scaled parse of a non-EPS cell fails, ParseValue falls back to a
// literal decimal parse and returns the value together with a non-nil error
// so the caller can log a data-quality warning without dropping the record.
func ParseValue(text string, eps bool) (Value, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || trimmed == "-" {
		return Null(), nil
	}
	cleaned := strings.ReplaceAll(trimmed, ",", "")

	if eps {
		d, err := decimal.NewFromString(negateParens(cleaned))
		if err != nil {
			return Null(), fmt.Errorf("parse eps value %q: %w", text, err)
		}
		return Num(d), nil
	}

	if strings.Contains(cleaned, "%") {
		d, err := decimal.NewFromString(negateParens(strings.ReplaceAll(cleaned, "%", "")))
		if err != nil {
			return Null(), fmt.Errorf("parse percent value %q: %w", text, err)
		}
		return Num(d.Div(hundred)), nil
	}

	cleaned = negateParens(cleaned)
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		// Literal fallback keeps the record alive; the caller logs this.
		f, litErr := strconv.ParseFloat(cleaned, 64)
		if litErr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return Null(), fmt.Errorf("parse value %q: %w", text, err)
		}
		return Num(decimal.NewFromFloat(f)), fmt.Errorf("value %q parsed without magnitude scaling: %w", text, err)
	}
	return Num(d.Mul(million)), nil
}

func negateParens(s string) string {
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		return "-" + strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	return s
}

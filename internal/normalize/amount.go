package normalize

import (
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"neoexcelsync/internal/models"
	apperrors "neoexcelsync/pkg/errors"
)

var amountDisallowed = regexp.MustCompile(`[^0-9.,-]`)

// ParseAmount reads a money amount written in any of the local styles:
// "1 234 567,89", "45,000.00", "7,000,000", "1.234,56", "7000000". Numeric
// cells pass through. Non-finite values never parse.
func ParseAmount(c models.Cell) (float64, bool) {
	switch c.Kind() {
	case models.KindNumber:
		f, ok := c.Float()
		return f, ok && finite(f)
	case models.KindString:
	default:
		return 0, false
	}

	s := strings.ReplaceAll(c.String(), "\u00a0", " ")
	s = strings.ReplaceAll(s, " ", "")
	return parseNumber(amountDisallowed.ReplaceAllString(s, ""))
}

// ParseThreshold parses a threshold setting such as "7 000 000" or "45000000,5".
func ParseThreshold(setting, value string) (float64, error) {
	f, ok := parseNumber(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, value))
	if !ok {
		return 0, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, setting, value, nil).
			WithSuggestion("use a plain number, e.g. 7000000")
	}
	return f, nil
}

// parseNumber resolves the separators of a number without spaces. With both
// "," and "." present the last one is the decimal point. A separator that
// repeats is a thousands separator when every group after the first has
// three digits; a single comma is a decimal comma.
func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	comma, dot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") > 1 {
			if !thousandsGroups(s, ",") {
				return 0, false
			}
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case dot >= 0 && strings.Count(s, ".") > 1:
		if !thousandsGroups(s, ".") {
			return 0, false
		}
		s = strings.ReplaceAll(s, ".", "")
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(f) {
		return 0, false
	}
	return f, true
}

func thousandsGroups(s, sep string) bool {
	groups := strings.Split(s, sep)
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return groups[0] != "" && groups[0] != "-"
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// RoundAmount rounds half to even on the exact binary value of f, so 2.675
// (stored as 2.67499...) rounds down to 2.67.
func RoundAmount(f float64, places int32) float64 {
	if !finite(f) {
		return f
	}
	exact, err := decimal.NewFromString(new(big.Float).SetFloat64(f).Text('f', 80))
	if err != nil {
		exact = decimal.NewFromFloat(f)
	}
	r, _ := exact.RoundBank(places).Float64()
	return r
}

// AtLeast compares an amount with a threshold in decimal arithmetic so that
// values printed equal to the threshold always qualify. Non-finite input
// never qualifies.
func AtLeast(amount, threshold float64) bool {
	if !finite(amount) || !finite(threshold) {
		return false
	}
	return decimal.NewFromFloat(amount).GreaterThanOrEqual(decimal.NewFromFloat(threshold))
}

// Package normalize turns raw spreadsheet cells into comparable keys and
// amounts. Every function here is total: bad input yields an empty key or a
// false flag, never an error or a panic.
package normalize

import (
	"regexp"
	"strings"

	"neoexcelsync/internal/models"
)

// Style selects the export layout a value comes from.
type Style int

const (
	// StyleUnity is the internal trading system export (file 1).
	StyleUnity Style = iota
	// StyleAIS is the broker export (file 2).
	StyleAIS
)

// String returns the string representation of Style
func (s Style) String() string {
	if s == StyleAIS {
		return "ais"
	}
	return "unity"
}

var (
	keyDisallowed   = regexp.MustCompile(`[^A-Z0-9-]`)
	bracketPrefix   = regexp.MustCompile(`^\[[^\]]+\]`)
	firstDigits     = regexp.MustCompile(`\d+`)
	trailingDotZero = regexp.MustCompile(`\.0$`)
)

// Instrument reduces an instrument cell to its ticker.
//
//	US91324P1021___UNH US -> UNH   (StyleUnity)
//	[EQ]UNH.NYSE.TOM      -> UNH   (StyleAIS)
func Instrument(style Style, c models.Cell) string {
	if c.IsEmpty() {
		return ""
	}
	s := strings.TrimSpace(c.String())

	switch style {
	case StyleAIS:
		s = strings.TrimSpace(bracketPrefix.ReplaceAllString(s, ""))
		if i := strings.Index(s, "."); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	default:
		if _, after, ok := strings.Cut(s, "___"); ok {
			s = strings.TrimSpace(after)
		}
		if fields := strings.Fields(s); len(fields) > 0 {
			s = fields[0]
		}
	}

	return keyDisallowed.ReplaceAllString(strings.ToUpper(s), "")
}

// Key normalizes a key typed by an operator (a target or a chosen paper).
func Key(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Direction maps an operation (StyleUnity) or side (StyleAIS) cell onto the
// debit or credit label, or "" when it is neither.
func Direction(style Style, c models.Cell) string {
	if c.IsEmpty() {
		return ""
	}
	s := strings.ToLower(strings.TrimSpace(c.String()))

	if style == StyleAIS {
		switch s {
		case "buy":
			return models.DirectionDebit
		case "sell":
			return models.DirectionCredit
		}
		return ""
	}

	switch {
	case strings.Contains(s, "спис"):
		return models.DirectionDebit
	case strings.Contains(s, "зачис"):
		return models.DirectionCredit
	}
	return ""
}

// CleanID trims an identifier and strips one trailing ".0" left behind by
// spreadsheet float formatting.
func CleanID(c models.Cell) string {
	if c.IsEmpty() {
		return ""
	}
	return trailingDotZero.ReplaceAllString(strings.TrimSpace(c.String()), "")
}

// AccountNumber returns the first run of digits of an account cell.
func AccountNumber(c models.Cell) string {
	if c.IsEmpty() {
		return ""
	}
	return firstDigits.FindString(c.String())
}

// SplitList splits a comma-separated setting into trimmed, upper-cased,
// non-empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.ToUpper(strings.TrimSpace(part)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

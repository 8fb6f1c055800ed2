// Package normalize converts provider-specific numeric and date formats into
// canonical Go types. It is pure: no I/O, no logging, callers decide how to
// treat skips and failures.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// missing sentinels shared across providers. A lone decimal or thousands
// separator is also treated as missing, handled in ParseNumeric.
var missingSentinels = map[string]struct{}{
	"":    {},
	"-":   {},
	"N/A": {},
	"NA":  {},
	"n/a": {},
	"NaN": {},
}

// groupingSeps are thousands separators that never double as a decimal
// point: plain, no-break and thin spaces, and Swiss-style apostrophes.
var groupingSeps = []string{" ", "\u00a0", "\u2009", "\u202f", "'", "\u2019"}

// ParseNumeric parses raw according to the declared decimal separator.
// decimalSep is "," for comma-decimal locales and "." (or empty) otherwise.
// Missing-value sentinels return ok=false with no error; any other string
// that cannot be parsed after cleaning returns an error, never a silent zero.
func ParseNumeric(raw, decimalSep string) (value float64, ok bool, err error) {
	s := strings.TrimSpace(raw)
	if _, missing := missingSentinels[s]; missing {
		return 0, false, nil
	}
	if s == "." || s == "," {
		return 0, false, nil
	}

	// Space and apostrophe grouping (1 234,56 or 1'234.56) is unambiguous
	// regardless of the declared decimal separator.
	for _, sep := range groupingSeps {
		s = strings.ReplaceAll(s, sep, "")
	}

	switch decimalSep {
	case ",":
		// Periods are thousands separators, the remaining comma becomes
		// the decimal point.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	v, perr := strconv.ParseFloat(s, 64)
	if perr != nil {
		return 0, false, fmt.Errorf("parse numeric %q (separator %q): %w", raw, decimalSep, perr)
	}
	return v, true, nil
}

// ParseDate tries each layout in order and returns the first match. Layouts
// are standard Go reference layouts declared per provider (e.g. "02/01/2006",
// "01-02-2006", "2006-01-02").
func ParseDate(raw string, layouts ...string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("parse date: empty string")
	}
	if len(layouts) == 0 {
		layouts = []string{"2006-01-02"}
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse date %q: %w", raw, lastErr)
}

// ParseDateIn behaves like ParseDate but interprets the parsed wall-clock
// time in the given location, used for release timestamps carried in a
// provider's local timezone.
func ParseDateIn(raw string, loc *time.Location, layouts ...string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("parse date: empty string")
	}
	if len(layouts) == 0 {
		layouts = []string{"2006-01-02"}
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse date %q: %w", raw, lastErr)
}

package shared

import (
	"strings"
	"time"
)

// DateLayout is the canonical wire layout for accounting dates.
const DateLayout = "2006-01-02"

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD value.
func ParseDate(field, raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, Invalid(field, "date", "%q is not a YYYY-MM-DD date", raw)
	}
	return t, nil
}

// CheckRange rejects from > to.
func CheckRange(from, to time.Time) error {
	if DateOnly(from).After(DateOnly(to)) {
		return Invalid("from", "lte_to", "from %s is after to %s", from.Format(DateLayout), to.Format(DateLayout))
	}
	return nil
}

// Within reports whether date falls in [from, to] by calendar day.
func Within(date, from, to time.Time) bool {
	d := DateOnly(date)
	return !d.Before(DateOnly(from)) && !d.After(DateOnly(to))
}

package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// YearMonthKey is the period-cache key for one calendar month, e.g. "2024-03".
func YearMonthKey(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, int(month))
}

// MonthBounds returns the UTC boundaries of a calendar month: first day
// 00:00:00 through last day 23:59:59. These bound the source queries, so a
// record's month bucket comes from the query, never from its own timestamp.
func MonthBounds(year int, month time.Month) (from, to time.Time) {
	from = time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to = from.AddDate(0, 1, 0).Add(-time.Second)
	return from, to
}

// IsMonthClosed reports whether the month lies strictly before the current
// calendar month. Only closed months are cacheable: their figures are frozen.
func IsMonthClosed(year int, month time.Month, now time.Time) bool {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	currentFirst := time.Date(now.UTC().Year(), now.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.Before(currentFirst)
}

// PeriodMonths expands a report period into its calendar months.
// Accepted forms: a month number "1".."12", or a half-year "h1"/"h2".
func PeriodMonths(period string) ([]time.Month, error) {
	switch strings.ToLower(strings.TrimSpace(period)) {
	case "h1":
		return []time.Month{time.January, time.February, time.March, time.April, time.May, time.June}, nil
	case "h2":
		return []time.Month{time.July, time.August, time.September, time.October, time.November, time.December}, nil
	}

	n, err := strconv.Atoi(strings.TrimSpace(period))
	if err != nil || n < 1 || n > 12 {
		return nil, &ErrValidation{Field: "period", Message: "must be 1-12, h1 or h2"}
	}
	return []time.Month{time.Month(n)}, nil
}

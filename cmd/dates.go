package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// durationUnitDays translates the single-unit relative durations accepted by
// the backfill flags ("30d", "2w", "6m", "1y"; months and years are
// approximate).
var durationUnitDays = map[byte]int{
	'd': 1,
	'w': 7,
	'm': 30,
	'y': 365,
}

// nextMonday snaps t forward to Monday midnight. The hub's data browser pages
// by week starting Monday, so all range boundaries align to it. A t already
// on a Monday is only truncated.
func nextMonday(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	if wd := day.Weekday(); wd != time.Monday {
		day = day.AddDate(0, 0, (8-int(wd))%7)
	}
	return day
}

// parseBoundaryDate accepts YYYY-MM-DD, YYYY-MM, or YYYY. Partial dates
// resolve to the end of their period (last day of the month or year), then
// everything snaps to the next Monday.
func parseBoundaryDate(dateStr string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", dateStr); err == nil {
		return nextMonday(t), nil
	}
	if t, err := time.Parse("2006-01", dateStr); err == nil {
		lastOfMonth := time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location())
		return nextMonday(lastOfMonth), nil
	}
	if t, err := time.Parse("2006", dateStr); err == nil {
		lastOfYear := time.Date(t.Year(), 12, 31, 0, 0, 0, 0, t.Location())
		return nextMonday(lastOfYear), nil
	}
	return time.Time{}, fmt.Errorf("invalid date format. Use YYYY-MM-DD, YYYY-MM, or YYYY")
}

// parseRelativeDuration parses a single-unit duration like "30d" or "4w".
// Combinations ("1y2w") are rejected.
func parseRelativeDuration(durationStr string) (time.Duration, error) {
	if len(durationStr) < 2 {
		return 0, fmt.Errorf("invalid duration format. Use format like '30d', '2w', '1y', or '6m' (no combinations allowed)")
	}

	unit := durationStr[len(durationStr)-1]
	days, ok := durationUnitDays[unit]
	if !ok {
		return 0, fmt.Errorf("invalid duration unit: %c (use y, w, d, or m)", unit)
	}

	digits := durationStr[:len(durationStr)-1]
	if strings.TrimLeft(digits, "0123456789") != "" {
		return 0, fmt.Errorf("invalid duration value: %s", digits)
	}
	value, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", digits)
	}

	return time.Duration(value*days) * 24 * time.Hour, nil
}

// validateAndParseDates resolves the backfill --since/--until flags into a
// concrete [since, until) range. --since may be a date or a duration relative
// to until; defaults are "now" and 4 weeks back.
func validateAndParseDates(untilStr, sinceStr string) (since, until time.Time, err error) {
	if untilStr == "" {
		until = nextMonday(time.Now())
	} else {
		until, err = parseBoundaryDate(untilStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("failed to parse until date: %w", err)
		}
	}

	switch {
	case sinceStr == "":
		since = until.AddDate(0, 0, -28)
	default:
		if d, derr := parseRelativeDuration(sinceStr); derr == nil {
			since = until.Add(-d)
			break
		}
		since, err = parseBoundaryDate(sinceStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("failed to parse since date: %w", err)
		}
	}

	if !since.Before(until) {
		return time.Time{}, time.Time{}, fmt.Errorf("--since date (%s) must be before --until date (%s)",
			since.Format("2006-01-02"), until.Format("2006-01-02"))
	}

	return since, until, nil
}

package hs

import (
	"errors"
	"time"
)

// Errors surfaced by manually triggered syncs. The timer-driven path treats
// the same conditions as silent skips.
var (
	ErrRateLimited    = errors.New("sync rate limited")
	ErrSyncInProgress = errors.New("sync already in progress")
)

// maxBackoffMultiplier caps the exponential backoff applied after
// consecutive failures.
const maxBackoffMultiplier = 8

// InQuietHours reports whether the given wall-clock hour falls inside the
// configured quiet window. A window with start >= end wraps across midnight.
func (c Configuration) InQuietHours(hour int) bool {
	if c.QuietHoursStart < c.QuietHoursEnd {
		return hour >= c.QuietHoursStart && hour < c.QuietHoursEnd
	}
	return hour >= c.QuietHoursStart || hour < c.QuietHoursEnd
}

// CanPerformSync is the pure gate checked before every sync attempt: the
// daily quota must not be exhausted and the current hour must be outside
// quiet hours.
func CanPerformSync(cfg Configuration, st RunStatus, now time.Time) bool {
	if st.TotalSyncsToday >= cfg.MaxSyncsPerDay {
		return false
	}
	if cfg.InQuietHours(now.Hour()) {
		return false
	}
	return true
}

// NextSyncTime computes when the next scheduled sync should run. The base
// delay is the configured interval; with battery optimization enabled the
// delay doubles per consecutive failure, capped at 8x. A result landing
// inside quiet hours snaps forward to the end of the quiet window.
func NextSyncTime(cfg Configuration, st RunStatus, now time.Time) time.Time {
	delay := time.Duration(cfg.IntervalMinutes) * time.Minute
	if cfg.BatteryOptimization && st.ConsecutiveFailures > 0 {
		multiplier := 1
		for i := 0; i < st.ConsecutiveFailures && multiplier < maxBackoffMultiplier; i++ {
			multiplier *= 2
		}
		delay *= time.Duration(multiplier)
	}

	next := now.Add(delay)
	if cfg.InQuietHours(next.Hour()) {
		next = snapToQuietEnd(cfg, next)
	}
	return next
}

// snapToQuietEnd moves t forward to the quiet-hours end boundary, with
// minutes and seconds zeroed. When that boundary already passed on t's day
// (the window wrapped midnight), the next day's boundary is used.
func snapToQuietEnd(cfg Configuration, t time.Time) time.Time {
	snapped := time.Date(t.Year(), t.Month(), t.Day(), cfg.QuietHoursEnd, 0, 0, 0, t.Location())
	if !snapped.After(t) {
		snapped = snapped.AddDate(0, 0, 1)
	}
	return snapped
}

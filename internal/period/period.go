// Package period derives canonical billing period keys from timestamps.
// Keys are pure functions of (period type, instant) in UTC: any two
// timestamps inside the same calendar period map to the same key.
package period

import (
	"fmt"
	"time"

	"github.com/quillmind/metering/internal/models"
)

// Key returns the canonical period key for the given type and instant.
// Monthly keys look like "monthly:2026-02"; weekly keys use the ISO
// week-year, e.g. "weekly:2026-W08". Unknown period types fall back to
// monthly so a corrupt config row cannot split a project's buckets.
func Key(periodType models.PeriodType, asOf time.Time) string {
	utc := asOf.UTC()
	switch periodType {
	case models.PeriodWeekly:
		year, week := utc.ISOWeek()
		return fmt.Sprintf("weekly:%04d-W%02d", year, week)
	default:
		return fmt.Sprintf("monthly:%s", utc.Format("2006-01"))
	}
}

// Day returns the canonical calendar-day key (YYYY-MM-DD, UTC) used by the
// daily buckets and the budget rollover.
func Day(asOf time.Time) string {
	return asOf.UTC().Format("2006-01-02")
}

// DaysUntilMonthlyReset reports how many whole days remain until the next
// occurrence of resetDay, counting from asOf in UTC. A reset day past the
// end of the current month clamps to the month's last day.
func DaysUntilMonthlyReset(resetDay int, asOf time.Time) int {
	if resetDay < 1 {
		resetDay = 1
	}
	utc := asOf.UTC()
	next := nextReset(resetDay, utc)
	days := int(next.Sub(utc).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// MonthlyCycleStart returns the most recent occurrence of resetDay at or
// before asOf (UTC), clamped to month length. It marks the start of the
// current monthly budget window.
func MonthlyCycleStart(resetDay int, asOf time.Time) time.Time {
	if resetDay < 1 {
		resetDay = 1
	}
	utc := asOf.UTC()
	candidate := resetDate(utc.Year(), utc.Month(), resetDay)
	if !candidate.After(utc) {
		return candidate
	}
	prevMonth := time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return resetDate(prevMonth.Year(), prevMonth.Month(), resetDay)
}

func nextReset(resetDay int, from time.Time) time.Time {
	candidate := resetDate(from.Year(), from.Month(), resetDay)
	if candidate.After(from) {
		return candidate
	}
	nextMonth := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return resetDate(nextMonth.Year(), nextMonth.Month(), resetDay)
}

func resetDate(year int, month time.Month, day int) time.Time {
	lastDay := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

package period

import (
	"testing"
	"time"

	"github.com/quillmind/metering/internal/models"
)

func TestMonthlyKeyStableWithinMonth(t *testing.T) {
	t1 := time.Date(2026, 2, 1, 0, 0, 1, 0, time.UTC)
	t2 := time.Date(2026, 2, 28, 23, 59, 59, 0, time.UTC)

	k1 := Key(models.PeriodMonthly, t1)
	k2 := Key(models.PeriodMonthly, t2)
	if k1 != k2 {
		t.Fatalf("expected identical keys within month, got %q vs %q", k1, k2)
	}
	if k1 != "monthly:2026-02" {
		t.Fatalf("unexpected monthly key %q", k1)
	}

	k3 := Key(models.PeriodMonthly, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if k3 == k1 {
		t.Fatalf("expected different keys across months, both %q", k1)
	}
}

func TestMonthlyKeyUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	// 2026-03-01 05:00 +10:00 is still 2026-02-28 in UTC.
	local := time.Date(2026, 3, 1, 5, 0, 0, 0, loc)
	if got := Key(models.PeriodMonthly, local); got != "monthly:2026-02" {
		t.Fatalf("expected UTC-derived key monthly:2026-02, got %q", got)
	}
}

func TestWeeklyKeyUsesISOWeekYear(t *testing.T) {
	// 2027-01-01 falls in ISO week 53 of 2026.
	k := Key(models.PeriodWeekly, time.Date(2027, 1, 1, 12, 0, 0, 0, time.UTC))
	if k != "weekly:2026-W53" {
		t.Fatalf("unexpected weekly key %q", k)
	}

	sameWeek := Key(models.PeriodWeekly, time.Date(2026, 12, 28, 0, 0, 0, 0, time.UTC))
	if sameWeek != k {
		t.Fatalf("expected same ISO week key, got %q vs %q", sameWeek, k)
	}
}

func TestUnknownPeriodTypeFallsBackToMonthly(t *testing.T) {
	asOf := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
	if got := Key(models.PeriodType("quarterly"), asOf); got != "monthly:2026-07" {
		t.Fatalf("expected monthly fallback, got %q", got)
	}
}

func TestDay(t *testing.T) {
	if got := Day(time.Date(2026, 2, 3, 23, 30, 0, 0, time.UTC)); got != "2026-02-03" {
		t.Fatalf("unexpected day key %q", got)
	}
}

func TestDaysUntilMonthlyReset(t *testing.T) {
	asOf := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

	if got := DaysUntilMonthlyReset(15, asOf); got != 5 {
		t.Fatalf("expected 5 days until reset, got %d", got)
	}
	// Reset day already passed this month: next occurrence is in March.
	if got := DaysUntilMonthlyReset(1, asOf); got != 19 {
		t.Fatalf("expected 19 days until reset, got %d", got)
	}
	// Day 31 clamps to the end of February.
	if got := DaysUntilMonthlyReset(31, asOf); got != 18 {
		t.Fatalf("expected 18 days until clamped reset, got %d", got)
	}
}

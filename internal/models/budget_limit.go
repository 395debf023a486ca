package models

import "time"

// BudgetLimit holds the per-project spending configuration and its running
// counters. The row is created lazily with defaults on the first usage check
// and updated by every check/record call; it is never deleted while the
// project exists.
//
// monthly_used_micros and daily_used_micros are reset exactly once per
// boundary crossing (monthly by reset day, daily lazily on first access of a
// new calendar day). is_blocked is sticky: only an explicit unblock clears it.
type BudgetLimit struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProjectID uint64 `gorm:"not null;uniqueIndex"` // Owning project ID.

	MonthlyBudgetMicros int64  `gorm:"not null;default:0"` // Monthly ceiling in micros.
	MonthlyUsedMicros   int64  `gorm:"not null;default:0"` // Micros spent this month.
	MonthlyResetDay     int    `gorm:"not null;default:1"` // Day of month the monthly counter resets.
	LastMonthlyReset    string `gorm:"type:text;not null"` // Cycle-start day (YYYY-MM-DD, UTC) of the current monthly window.

	DailyLimitMicros *int64 ``                             // Optional daily ceiling in micros.
	DailyUsedMicros  int64  `gorm:"not null;default:0"`    // Micros spent today.
	LastDailyReset   string `gorm:"type:text;not null"`    // Day (YYYY-MM-DD, UTC) of the last daily reset.

	AlertThresholdPct int        `gorm:"not null;default:80"` // Percent of the monthly budget that triggers an alert.
	AlertSentAt       *time.Time ``                            // When the threshold alert was last sent.

	BlockAtLimit         bool `gorm:"not null;default:true"`  // Whether exceeding the monthly budget blocks usage.
	FallbackToFreeTier   bool `gorm:"not null;default:false"` // Whether to fall back to the free tier near the limit.
	FallbackThresholdPct int  `gorm:"not null;default:95"`    // Percent at which the free-tier fallback kicks in.

	MaxRequestsPerDay *int64 ``                          // Optional daily request ceiling.
	RequestsToday     int64  `gorm:"not null;default:0"` // Requests recorded today.

	IsBlocked     bool       `gorm:"not null;default:false"` // Sticky blocked flag.
	BlockedAt     *time.Time ``                              // When the project was blocked.
	BlockedReason string     `gorm:"type:text"`              // Why the project was blocked.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

package models

import "time"

// UsageTotals keeps one lifetime aggregate row per project. Counters are
// maintained by atomic increments inside the ledger transaction and always
// equal the sums over usage_events for the project.
type UsageTotals struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProjectID uint64 `gorm:"not null;uniqueIndex"` // Owning project ID.

	TotalCostMicros   int64 `gorm:"not null;default:0"` // Cumulative cost in micros.
	TotalInputTokens  int64 `gorm:"not null;default:0"` // Cumulative input tokens.
	TotalOutputTokens int64 `gorm:"not null;default:0"` // Cumulative output tokens.
	RequestCount      int64 `gorm:"not null;default:0"` // Cumulative request count.
	FailedCount       int64 `gorm:"not null;default:0"` // Cumulative failed request count.

	FirstEventAt *time.Time // Timestamp of the first recorded event.
	LastEventAt  *time.Time // Timestamp of the most recent event.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// UsageDailyBucket aggregates usage per project and calendar day (UTC).
// Rows are created lazily on the first event of the day.
type UsageDailyBucket struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProjectID uint64 `gorm:"not null;uniqueIndex:idx_daily_project_day"`           // Owning project ID.
	Day       string `gorm:"type:text;not null;uniqueIndex:idx_daily_project_day"` // Calendar day, YYYY-MM-DD in UTC.

	TotalCostMicros   int64 `gorm:"not null;default:0"` // Day cost in micros.
	TotalInputTokens  int64 `gorm:"not null;default:0"` // Day input tokens.
	TotalOutputTokens int64 `gorm:"not null;default:0"` // Day output tokens.
	RequestCount      int64 `gorm:"not null;default:0"` // Day request count.
	FailedCount       int64 `gorm:"not null;default:0"` // Day failed request count.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// UsageModelBucket aggregates usage per project, provider, and model.
type UsageModelBucket struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProjectID uint64 `gorm:"not null;uniqueIndex:idx_model_bucket"`           // Owning project ID.
	Provider  string `gorm:"type:text;not null;uniqueIndex:idx_model_bucket"` // Provider name.
	Model     string `gorm:"type:text;not null;uniqueIndex:idx_model_bucket"` // Model name.

	TotalCostMicros   int64   `gorm:"not null;default:0"` // Cumulative cost in micros.
	TotalInputTokens  int64   `gorm:"not null;default:0"` // Cumulative input tokens.
	TotalOutputTokens int64   `gorm:"not null;default:0"` // Cumulative output tokens.
	RequestCount      int64   `gorm:"not null;default:0"` // Cumulative request count.
	FailedCount       int64   `gorm:"not null;default:0"` // Cumulative failed request count.
	AvgLatencyMS      float64 `gorm:"not null;default:0"` // Running mean latency in milliseconds.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// UsageProviderBucket aggregates usage per project and provider.
type UsageProviderBucket struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProjectID uint64 `gorm:"not null;uniqueIndex:idx_provider_bucket"`           // Owning project ID.
	Provider  string `gorm:"type:text;not null;uniqueIndex:idx_provider_bucket"` // Provider name.

	TotalCostMicros   int64   `gorm:"not null;default:0"` // Cumulative cost in micros.
	TotalInputTokens  int64   `gorm:"not null;default:0"` // Cumulative input tokens.
	TotalOutputTokens int64   `gorm:"not null;default:0"` // Cumulative output tokens.
	RequestCount      int64   `gorm:"not null;default:0"` // Cumulative request count.
	FailedCount       int64   `gorm:"not null;default:0"` // Cumulative failed request count.
	AvgLatencyMS      float64 `gorm:"not null;default:0"` // Running mean latency in milliseconds.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// UsagePeriodBucket aggregates usage per project and billing period key
// (e.g. "monthly:2026-02"). The pricing calculator reads TotalTokens from
// here to place a request on the tier ladder.
type UsagePeriodBucket struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProjectID uint64 `gorm:"not null;uniqueIndex:idx_period_bucket"`           // Owning project ID.
	PeriodKey string `gorm:"type:text;not null;uniqueIndex:idx_period_bucket"` // Canonical period key.

	TotalCostMicros   int64 `gorm:"not null;default:0"` // Period cost in micros.
	TotalInputTokens  int64 `gorm:"not null;default:0"` // Period input tokens.
	TotalOutputTokens int64 `gorm:"not null;default:0"` // Period output tokens.
	TotalTokens       int64 `gorm:"not null;default:0"` // Period total tokens.
	RequestCount      int64 `gorm:"not null;default:0"` // Period request count.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

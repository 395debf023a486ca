package models

import "time"

// PeriodType selects the billing period granularity for a project.
type PeriodType string

// PeriodType values form a closed set.
const (
	// PeriodWeekly buckets usage by ISO week.
	PeriodWeekly PeriodType = "weekly"
	// PeriodMonthly buckets usage by calendar month.
	PeriodMonthly PeriodType = "monthly"
)

// Valid reports whether the period type is known.
func (p PeriodType) Valid() bool {
	return p == PeriodWeekly || p == PeriodMonthly
}

// PricingConfig holds per-project billing conversion settings. A project
// without a config falls back to the deployment defaults (settings table).
type PricingConfig struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProjectID uint64 `gorm:"not null;uniqueIndex"` // Owning project ID.

	PeriodType PeriodType `gorm:"type:text;not null;default:monthly"` // Billing period granularity.

	SourceCurrency string `gorm:"type:varchar(8);not null;default:USD"` // Provider-reported currency.
	TargetCurrency string `gorm:"type:varchar(8);not null;default:EUR"` // Billing currency.

	ExchangeRate   *float64 `gorm:"type:decimal(20,10)"` // Configured source-to-target rate, if any.
	FixedMarkupPct *float64 `gorm:"type:decimal(10,4)"`  // Fixed markup percent when no tier matches.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the config is active.

	Tiers []PricingTier `gorm:"foreignKey:PricingConfigID;constraint:OnDelete:CASCADE"` // Volume tiers.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// PricingTier is one rung of the volume markup ladder. The applicable tier
// for a cumulative token count is the highest threshold not exceeding it.
type PricingTier struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PricingConfigID uint64 `gorm:"not null;index"` // Owning config ID.

	TokenThreshold int64   `gorm:"not null;default:0"`           // Cumulative tokens at which the tier starts.
	MarkupPct      float64 `gorm:"type:decimal(10,4);not null"` // Markup percent applied within the tier.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

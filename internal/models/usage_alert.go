package models

import (
	"time"

	"gorm.io/datatypes"
)

// AlertType classifies a usage alert.
type AlertType string

// AlertType values form a closed set.
const (
	// AlertThresholdCrossed fires when usage crosses the alert threshold.
	AlertThresholdCrossed AlertType = "threshold_crossed"
	// AlertLimitReached fires when usage reaches the configured ceiling.
	AlertLimitReached AlertType = "limit_reached"
	// AlertBlocked fires when a project transitions to blocked.
	AlertBlocked AlertType = "blocked"
	// AlertUnblocked fires when a project is explicitly unblocked.
	AlertUnblocked AlertType = "unblocked"
)

// Valid reports whether the alert type is known.
func (t AlertType) Valid() bool {
	switch t {
	case AlertThresholdCrossed, AlertLimitReached, AlertBlocked, AlertUnblocked:
		return true
	}
	return false
}

// UsageAlert is a write-once notification record. The unique index doubles
// as the dedupe guard: the same crossing within a period inserts at most one
// row, regardless of how many concurrent writers race for it.
type UsageAlert struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProjectID    uint64    `gorm:"not null;uniqueIndex:idx_alert_dedupe"`           // Owning project ID.
	PeriodKey    string    `gorm:"type:text;not null;uniqueIndex:idx_alert_dedupe"` // Period the alert belongs to.
	Type         AlertType `gorm:"type:text;not null;uniqueIndex:idx_alert_dedupe"` // Alert type.
	ThresholdPct int       `gorm:"not null;default:0;uniqueIndex:idx_alert_dedupe"` // Threshold percent that fired.

	Message    string         `gorm:"type:text;not null"` // Human-readable message.
	Recipients datatypes.JSON `gorm:"type:jsonb"`         // Recipient list JSON.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

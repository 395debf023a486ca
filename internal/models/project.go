package models

import "time"

// Project is the tenant-owned workspace every metering row hangs off.
// Identity and membership live in the external auth layer; this table only
// anchors foreign keys and cascade deletes.
type Project struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name string `gorm:"type:text;not null"`            // Display name.
	Slug string `gorm:"type:text;not null;uniqueIndex"` // Stable external handle.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the project accepts usage.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

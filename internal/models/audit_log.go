package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records a state mutation performed by the metering core. Entries
// are written by an explicit call after the mutation commits, not by a
// database trigger, so the dependency stays visible in the call graph.
type AuditLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProjectID uint64 `gorm:"not null;index"`           // Owning project ID.
	Action    string `gorm:"type:text;not null;index"` // Action name, e.g. "budget.record".

	Detail datatypes.JSON `gorm:"type:jsonb"` // Structured detail payload.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

// OperationKind classifies the provider call that produced a usage event.
type OperationKind string

// OperationKind values form a closed set; anything else is rejected before
// the event is written.
const (
	// OperationTextGeneration is a plain text generation call.
	OperationTextGeneration OperationKind = "text_generation"
	// OperationVision is an image understanding call.
	OperationVision OperationKind = "vision"
	// OperationEmbedding is an embedding call.
	OperationEmbedding OperationKind = "embedding"
	// OperationChat is a multi-turn chat call.
	OperationChat OperationKind = "chat"
	// OperationCompletion is a legacy completion call.
	OperationCompletion OperationKind = "completion"
	// OperationOther covers provider calls with no dedicated kind.
	OperationOther OperationKind = "other"
)

// Valid reports whether the kind is one of the known operation kinds.
func (k OperationKind) Valid() bool {
	switch k {
	case OperationTextGeneration, OperationVision, OperationEmbedding,
		OperationChat, OperationCompletion, OperationOther:
		return true
	}
	return false
}

// UsageEvent records metering data for a single provider call. Rows are
// append-only: they are never updated or deleted while the project exists,
// and cascade away with it.
type UsageEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProjectID uint64   `gorm:"not null;index"`                                  // Owning project ID.
	Project   *Project `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"` // Owning project relation.

	RequestID string `gorm:"type:text;index"` // Caller-visible request identifier.

	Provider string        `gorm:"type:text;not null;index"` // Provider name.
	Model    string        `gorm:"type:text;not null;index"` // Model name.
	Kind     OperationKind `gorm:"type:text;not null"`       // Operation kind.

	InputTokens  int64 `gorm:"not null;default:0"` // Input token count.
	OutputTokens int64 `gorm:"not null;default:0"` // Output token count.
	TotalTokens  int64 `gorm:"not null;default:0"` // Total token count.

	CostMicros int64 `gorm:"not null;default:0"` // Cost in micros of the base currency.

	Succeeded    bool    `gorm:"not null;default:true"` // Whether the provider call succeeded.
	ErrorCode    *string `gorm:"type:text"`             // Provider error code for failed calls.
	ErrorMessage string  `gorm:"type:text"`             // Provider error message for failed calls.

	LatencyMS *int64 `` // Provider call latency in milliseconds, when measured.

	ContextTag string         `gorm:"type:text;index"` // Free-form context tag.
	Metadata   datatypes.JSON `gorm:"type:jsonb"`      // Free-form metadata JSON.

	RequestedAt time.Time `gorm:"not null;index"`          // Request timestamp.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// Package audit writes the audit trail for metering state mutations. The
// recorder is called explicitly after each mutation commits; an audit write
// failure is logged but never fails the mutation it describes.
package audit

import (
	"context"
	"encoding/json"

	"github.com/quillmind/metering/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Recorder persists audit log entries.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder constructs a Recorder backed by GORM.
func NewRecorder(db *gorm.DB) *Recorder { return &Recorder{db: db} }

// Record writes one audit entry. detail is marshalled to JSON; a nil detail
// is stored as an empty object.
func (r *Recorder) Record(ctx context.Context, projectID uint64, action string, detail map[string]any) {
	if r == nil || r.db == nil {
		return
	}
	if detail == nil {
		detail = map[string]any{}
	}
	payload, errMarshal := json.Marshal(detail)
	if errMarshal != nil {
		log.WithError(errMarshal).Warn("audit: marshal detail failed")
		payload = []byte(`{}`)
	}

	row := models.AuditLog{
		ProjectID: projectID,
		Action:    action,
		Detail:    datatypes.JSON(payload),
	}
	if errCreate := r.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithField("action", action).Warn("audit: write failed")
	}
}

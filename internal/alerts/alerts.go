// Package alerts persists write-once usage alerts. Duplicate suppression is
// a property of the store: the dedupe unique index plus ON CONFLICT DO
// NOTHING guarantees at most one alert per (project, period, type,
// threshold) no matter how many writers race.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quillmind/metering/internal/models"
	"github.com/quillmind/metering/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Emitter writes usage alerts.
type Emitter struct {
	db *gorm.DB
}

// NewEmitter constructs an Emitter backed by GORM.
func NewEmitter(db *gorm.DB) *Emitter { return &Emitter{db: db} }

// Emit inserts an alert unless an identical one already exists for the
// period. It returns true when a new alert row was written. Alerts without an
// explicit recipient list are stamped with the configured deployment-wide
// recipients.
func (e *Emitter) Emit(ctx context.Context, alert models.UsageAlert) (bool, error) {
	if e == nil || e.db == nil {
		return false, fmt.Errorf("alerts: nil emitter")
	}
	if !alert.Type.Valid() {
		return false, fmt.Errorf("alerts: unknown alert type %q", alert.Type)
	}
	if len(alert.Recipients) == 0 {
		alert.Recipients = configuredRecipients()
	}

	res := e.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "project_id"},
				{Name: "period_key"},
				{Name: "type"},
				{Name: "threshold_pct"},
			},
			DoNothing: true,
		}).
		Create(&alert)
	if res.Error != nil {
		return false, fmt.Errorf("alerts: emit: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func configuredRecipients() datatypes.JSON {
	recipients := settings.StringsValue(settings.AlertRecipientsKey, nil)
	if len(recipients) == 0 {
		return nil
	}
	payload, errMarshal := json.Marshal(recipients)
	if errMarshal != nil {
		log.WithError(errMarshal).Warn("alerts: marshal recipients failed")
		return nil
	}
	return datatypes.JSON(payload)
}

// ListForProject returns alerts for a project, newest first.
func (e *Emitter) ListForProject(ctx context.Context, projectID uint64, limit int) ([]models.UsageAlert, error) {
	if e == nil || e.db == nil {
		return nil, fmt.Errorf("alerts: nil emitter")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var rows []models.UsageAlert
	if errFind := e.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("alerts: list: %w", errFind)
	}
	return rows, nil
}

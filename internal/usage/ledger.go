// Package usage implements the append-only usage ledger and its aggregate
// fan-out. Every append writes the event row and increments the lifetime,
// daily, model, provider, and period aggregates inside one transaction, so a
// failure partway through leaves nothing visible.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quillmind/metering/internal/audit"
	dbutil "github.com/quillmind/metering/internal/db"
	"github.com/quillmind/metering/internal/errs"
	"github.com/quillmind/metering/internal/models"
	"github.com/quillmind/metering/internal/period"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxAppendAttempts bounds the internal retry on transient write conflicts.
const maxAppendAttempts = 3

// Event carries the inputs for one ledger append.
type Event struct {
	ProjectID    uint64
	RequestID    string
	Provider     string
	Model        string
	Kind         models.OperationKind
	InputTokens  int64
	OutputTokens int64
	CostMicros   int64
	Succeeded    bool
	ErrorCode    *string
	ErrorMessage string
	LatencyMS    *int64
	ContextTag   string
	Metadata     map[string]any
	RequestedAt  time.Time
}

// Ledger persists usage events and maintains the derived aggregates.
type Ledger struct {
	db      *gorm.DB
	auditor *audit.Recorder
}

// NewLedger constructs a Ledger backed by GORM.
func NewLedger(db *gorm.DB, auditor *audit.Recorder) *Ledger {
	return &Ledger{db: db, auditor: auditor}
}

// AppendEvent validates and durably persists one usage event together with
// its aggregate updates. It returns the new event ID. Transient write
// conflicts are retried up to maxAppendAttempts times before surfacing
// errs.ErrConflict.
func (l *Ledger) AppendEvent(ctx context.Context, ev Event) (uint64, error) {
	if l == nil || l.db == nil {
		return 0, fmt.Errorf("usage: nil ledger")
	}
	if errValidate := validateEvent(&ev); errValidate != nil {
		return 0, errValidate
	}
	if errProject := l.ensureProjectExists(ctx, ev.ProjectID); errProject != nil {
		return 0, errProject
	}

	periodType := l.resolvePeriodType(ctx, ev.ProjectID)
	requestedAt := normalizeTime(ev.RequestedAt)
	periodKey := period.Key(periodType, requestedAt)
	day := period.Day(requestedAt)

	row, errRow := buildEventRow(ev, requestedAt)
	if errRow != nil {
		return 0, errRow
	}

	var lastErr error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		row.ID = 0
		errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if errCreate := tx.Create(&row).Error; errCreate != nil {
				return errCreate
			}
			return applyDelta(tx, delta{
				projectID:    ev.ProjectID,
				provider:     row.Provider,
				model:        row.Model,
				costMicros:   ev.CostMicros,
				inputTokens:  ev.InputTokens,
				outputTokens: ev.OutputTokens,
				succeeded:    ev.Succeeded,
				latencyMS:    ev.LatencyMS,
				periodKey:    periodKey,
				day:          day,
				requestedAt:  requestedAt,
			})
		})
		if errTx == nil {
			l.auditor.Record(ctx, ev.ProjectID, "usage.append", map[string]any{
				"event_id":    row.ID,
				"provider":    row.Provider,
				"model":       row.Model,
				"cost_micros": ev.CostMicros,
				"period_key":  periodKey,
			})
			return row.ID, nil
		}
		if !dbutil.IsRetryableWriteError(errTx) {
			return 0, fmt.Errorf("usage: append event: %w", errTx)
		}
		lastErr = errTx
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return 0, errs.Conflictf("append event after %d attempts: %v", maxAppendAttempts, lastErr)
}

// delta carries one event's contribution to the aggregate rows.
type delta struct {
	projectID    uint64
	provider     string
	model        string
	costMicros   int64
	inputTokens  int64
	outputTokens int64
	succeeded    bool
	latencyMS    *int64
	periodKey    string
	day          string
	requestedAt  time.Time
}

// applyDelta upserts the aggregate rows for one event. All increments are
// single-statement column expressions so concurrent writers cannot lose
// updates; creation races collapse into the ON CONFLICT update path.
func applyDelta(tx *gorm.DB, d delta) error {
	totalTokens := d.inputTokens + d.outputTokens
	failedDelta := int64(0)
	if !d.succeeded {
		failedDelta = 1
	}
	now := time.Now().UTC()

	sum := clause.Assignments(map[string]any{
		"total_cost_micros":   gorm.Expr("total_cost_micros + ?", d.costMicros),
		"total_input_tokens":  gorm.Expr("total_input_tokens + ?", d.inputTokens),
		"total_output_tokens": gorm.Expr("total_output_tokens + ?", d.outputTokens),
		"request_count":       gorm.Expr("request_count + ?", 1),
		"failed_count":        gorm.Expr("failed_count + ?", failedDelta),
		"updated_at":          now,
	})

	totals := models.UsageTotals{
		ProjectID:         d.projectID,
		TotalCostMicros:   d.costMicros,
		TotalInputTokens:  d.inputTokens,
		TotalOutputTokens: d.outputTokens,
		RequestCount:      1,
		FailedCount:       failedDelta,
		FirstEventAt:      &d.requestedAt,
		LastEventAt:       &d.requestedAt,
	}
	totalsAssign := clause.Assignments(map[string]any{
		"total_cost_micros":   gorm.Expr("total_cost_micros + ?", d.costMicros),
		"total_input_tokens":  gorm.Expr("total_input_tokens + ?", d.inputTokens),
		"total_output_tokens": gorm.Expr("total_output_tokens + ?", d.outputTokens),
		"request_count":       gorm.Expr("request_count + ?", 1),
		"failed_count":        gorm.Expr("failed_count + ?", failedDelta),
		"first_event_at":      gorm.Expr("COALESCE(first_event_at, ?)", d.requestedAt),
		"last_event_at":       d.requestedAt,
		"updated_at":          now,
	})
	if errTotals := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}},
		DoUpdates: totalsAssign,
	}).Create(&totals).Error; errTotals != nil {
		return errTotals
	}

	daily := models.UsageDailyBucket{
		ProjectID:         d.projectID,
		Day:               d.day,
		TotalCostMicros:   d.costMicros,
		TotalInputTokens:  d.inputTokens,
		TotalOutputTokens: d.outputTokens,
		RequestCount:      1,
		FailedCount:       failedDelta,
	}
	if errDaily := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "day"}},
		DoUpdates: sum,
	}).Create(&daily).Error; errDaily != nil {
		return errDaily
	}

	modelAssign := bucketAssignments(d, failedDelta, now)
	modelBucket := models.UsageModelBucket{
		ProjectID:         d.projectID,
		Provider:          d.provider,
		Model:             d.model,
		TotalCostMicros:   d.costMicros,
		TotalInputTokens:  d.inputTokens,
		TotalOutputTokens: d.outputTokens,
		RequestCount:      1,
		FailedCount:       failedDelta,
		AvgLatencyMS:      initialLatency(d.latencyMS),
	}
	if errModel := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "provider"}, {Name: "model"}},
		DoUpdates: modelAssign,
	}).Create(&modelBucket).Error; errModel != nil {
		return errModel
	}

	providerBucket := models.UsageProviderBucket{
		ProjectID:         d.projectID,
		Provider:          d.provider,
		TotalCostMicros:   d.costMicros,
		TotalInputTokens:  d.inputTokens,
		TotalOutputTokens: d.outputTokens,
		RequestCount:      1,
		FailedCount:       failedDelta,
		AvgLatencyMS:      initialLatency(d.latencyMS),
	}
	if errProvider := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "provider"}},
		DoUpdates: bucketAssignments(d, failedDelta, now),
	}).Create(&providerBucket).Error; errProvider != nil {
		return errProvider
	}

	periodBucket := models.UsagePeriodBucket{
		ProjectID:         d.projectID,
		PeriodKey:         d.periodKey,
		TotalCostMicros:   d.costMicros,
		TotalInputTokens:  d.inputTokens,
		TotalOutputTokens: d.outputTokens,
		TotalTokens:       totalTokens,
		RequestCount:      1,
	}
	periodAssign := clause.Assignments(map[string]any{
		"total_cost_micros":   gorm.Expr("total_cost_micros + ?", d.costMicros),
		"total_input_tokens":  gorm.Expr("total_input_tokens + ?", d.inputTokens),
		"total_output_tokens": gorm.Expr("total_output_tokens + ?", d.outputTokens),
		"total_tokens":        gorm.Expr("total_tokens + ?", totalTokens),
		"request_count":       gorm.Expr("request_count + ?", 1),
		"updated_at":          now,
	})
	if errPeriod := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "period_key"}},
		DoUpdates: periodAssign,
	}).Create(&periodBucket).Error; errPeriod != nil {
		return errPeriod
	}

	return nil
}

// bucketAssignments builds the conflict assignments for the model/provider
// buckets, including the incremental latency mean when a sample is present.
// The mean expression reads the pre-update request_count, so it must run in
// the same statement as the count increment.
func bucketAssignments(d delta, failedDelta int64, now time.Time) clause.Set {
	assign := map[string]any{
		"total_cost_micros":   gorm.Expr("total_cost_micros + ?", d.costMicros),
		"total_input_tokens":  gorm.Expr("total_input_tokens + ?", d.inputTokens),
		"total_output_tokens": gorm.Expr("total_output_tokens + ?", d.outputTokens),
		"request_count":       gorm.Expr("request_count + ?", 1),
		"failed_count":        gorm.Expr("failed_count + ?", failedDelta),
		"updated_at":          now,
	}
	if d.latencyMS != nil {
		assign["avg_latency_ms"] = gorm.Expr(
			"(avg_latency_ms * request_count + ?) / (request_count + 1)",
			float64(*d.latencyMS),
		)
	}
	return clause.Assignments(assign)
}

func initialLatency(latencyMS *int64) float64 {
	if latencyMS == nil {
		return 0
	}
	return float64(*latencyMS)
}

// validateEvent rejects malformed input before any write.
func validateEvent(ev *Event) error {
	if ev.ProjectID == 0 {
		return errs.Validationf("missing project id")
	}
	ev.Provider = strings.TrimSpace(ev.Provider)
	if ev.Provider == "" {
		return errs.Validationf("missing provider")
	}
	ev.Model = strings.TrimSpace(ev.Model)
	if ev.Model == "" {
		return errs.Validationf("missing model")
	}
	if !ev.Kind.Valid() {
		return errs.Validationf("unknown operation kind %q", ev.Kind)
	}
	if ev.InputTokens < 0 || ev.OutputTokens < 0 {
		return errs.Validationf("negative token count")
	}
	if ev.CostMicros < 0 {
		return errs.Validationf("negative cost")
	}
	if ev.LatencyMS != nil && *ev.LatencyMS < 0 {
		return errs.Validationf("negative latency")
	}
	return nil
}

func (l *Ledger) ensureProjectExists(ctx context.Context, projectID uint64) error {
	var row struct{ ID uint64 }
	errFirst := l.db.WithContext(ctx).Model(&models.Project{}).
		Select("id").
		Where("id = ?", projectID).
		Take(&row).Error
	if errFirst != nil {
		if errors.Is(errFirst, gorm.ErrRecordNotFound) {
			return errs.NotFoundf("project %d", projectID)
		}
		return fmt.Errorf("usage: lookup project: %w", errFirst)
	}
	return nil
}

// resolvePeriodType reads the project's configured period granularity,
// defaulting to monthly when no pricing config exists.
func (l *Ledger) resolvePeriodType(ctx context.Context, projectID uint64) models.PeriodType {
	var cfg models.PricingConfig
	errFirst := l.db.WithContext(ctx).
		Select("period_type").
		Where("project_id = ?", projectID).
		Take(&cfg).Error
	if errFirst != nil || !cfg.PeriodType.Valid() {
		return models.PeriodMonthly
	}
	return cfg.PeriodType
}

func buildEventRow(ev Event, requestedAt time.Time) (models.UsageEvent, error) {
	requestID := strings.TrimSpace(ev.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var metadata datatypes.JSON
	if len(ev.Metadata) > 0 {
		payload, errMarshal := json.Marshal(ev.Metadata)
		if errMarshal != nil {
			return models.UsageEvent{}, errs.Validationf("metadata not serializable: %v", errMarshal)
		}
		metadata = datatypes.JSON(payload)
	}

	return models.UsageEvent{
		ProjectID:    ev.ProjectID,
		RequestID:    requestID,
		Provider:     ev.Provider,
		Model:        ev.Model,
		Kind:         ev.Kind,
		InputTokens:  ev.InputTokens,
		OutputTokens: ev.OutputTokens,
		TotalTokens:  ev.InputTokens + ev.OutputTokens,
		CostMicros:   ev.CostMicros,
		Succeeded:    ev.Succeeded,
		ErrorCode:    ev.ErrorCode,
		ErrorMessage: strings.TrimSpace(ev.ErrorMessage),
		LatencyMS:    ev.LatencyMS,
		ContextTag:   strings.TrimSpace(ev.ContextTag),
		Metadata:     metadata,
		RequestedAt:  requestedAt,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// normalizeTime returns a UTC timestamp, defaulting to now if zero.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

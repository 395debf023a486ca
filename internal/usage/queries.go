package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	dbutil "github.com/quillmind/metering/internal/db"
	"github.com/quillmind/metering/internal/models"
	"gorm.io/gorm"
)

// Totals returns the lifetime aggregate row for a project. A project with no
// recorded usage gets a zero-valued row, not an error.
func (l *Ledger) Totals(ctx context.Context, projectID uint64) (models.UsageTotals, error) {
	if l == nil || l.db == nil {
		return models.UsageTotals{}, fmt.Errorf("usage: nil ledger")
	}
	var row models.UsageTotals
	errFirst := l.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Take(&row).Error
	if errFirst != nil {
		if errors.Is(errFirst, gorm.ErrRecordNotFound) {
			return models.UsageTotals{ProjectID: projectID}, nil
		}
		return models.UsageTotals{}, fmt.Errorf("usage: load totals: %w", errFirst)
	}
	return row, nil
}

// PeriodTokens returns the total tokens already recorded for the project in
// the given period. Missing buckets read as zero.
func (l *Ledger) PeriodTokens(ctx context.Context, projectID uint64, periodKey string) (int64, error) {
	if l == nil || l.db == nil {
		return 0, fmt.Errorf("usage: nil ledger")
	}
	var row models.UsagePeriodBucket
	errFirst := l.db.WithContext(ctx).
		Select("total_tokens").
		Where("project_id = ? AND period_key = ?", projectID, periodKey).
		Take(&row).Error
	if errFirst != nil {
		if errors.Is(errFirst, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("usage: load period bucket: %w", errFirst)
	}
	return row.TotalTokens, nil
}

// EventFilter narrows ListEvents results.
type EventFilter struct {
	Provider string
	Model    string
	From     time.Time
	To       time.Time
	Limit    int
}

// ListEvents returns ledger rows for a project, newest first.
func (l *Ledger) ListEvents(ctx context.Context, projectID uint64, filter EventFilter) ([]models.UsageEvent, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("usage: nil ledger")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	q := l.db.WithContext(ctx).Model(&models.UsageEvent{}).
		Where("project_id = ?", projectID)
	// Provider and model names arrive in whatever casing the caller uses.
	if provider := strings.TrimSpace(filter.Provider); provider != "" {
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(l.db, "provider"), dbutil.NormalizeLikePattern(l.db, provider))
	}
	if model := strings.TrimSpace(filter.Model); model != "" {
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(l.db, "model"), dbutil.NormalizeLikePattern(l.db, model))
	}
	if !filter.From.IsZero() {
		q = q.Where("requested_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("requested_at <= ?", filter.To.UTC())
	}

	var rows []models.UsageEvent
	if errFind := q.Order("requested_at DESC, id DESC").Limit(limit).Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("usage: list events: %w", errFind)
	}
	return rows, nil
}

// ModelBuckets returns the per-model aggregates for a project.
func (l *Ledger) ModelBuckets(ctx context.Context, projectID uint64) ([]models.UsageModelBucket, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("usage: nil ledger")
	}
	var rows []models.UsageModelBucket
	if errFind := l.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("total_cost_micros DESC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("usage: list model buckets: %w", errFind)
	}
	return rows, nil
}

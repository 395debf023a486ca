package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/quillmind/metering/internal/errs"
	"github.com/quillmind/metering/internal/models"
	"github.com/quillmind/metering/internal/period"
)

// Summary is the read model the application layer displays.
type Summary struct {
	ProjectID uint64 `json:"project_id"`

	MonthlyUsed   float64 `json:"monthly_used"`
	MonthlyBudget float64 `json:"monthly_budget"`
	MonthlyPct    float64 `json:"monthly_pct"`

	DailyUsed  float64  `json:"daily_used"`
	DailyLimit *float64 `json:"daily_limit,omitempty"`

	RequestsToday int64 `json:"requests_today"`

	Blocked       bool   `json:"blocked"`
	BlockedReason string `json:"blocked_reason,omitempty"`

	DaysUntilReset int    `json:"days_until_reset"`
	PeriodKey      string `json:"period_key"`
}

// GetUsageSummary returns the current budget view for a project, lazily
// creating the budget row and applying pending rollovers like a check does.
func (e *Enforcer) GetUsageSummary(ctx context.Context, projectID uint64) (Summary, error) {
	if e == nil || e.db == nil {
		return Summary{}, fmt.Errorf("budget: nil enforcer")
	}
	if projectID == 0 {
		return Summary{}, errs.Validationf("missing project id")
	}

	now := e.now()
	limit, errEnsure := e.ensureCurrentRow(ctx, e.db, projectID, now)
	if errEnsure != nil {
		return Summary{}, errEnsure
	}

	summary := Summary{
		ProjectID:      projectID,
		MonthlyUsed:    models.AmountFromMicros(limit.MonthlyUsedMicros),
		MonthlyBudget:  models.AmountFromMicros(limit.MonthlyBudgetMicros),
		DailyUsed:      models.AmountFromMicros(limit.DailyUsedMicros),
		RequestsToday:  limit.RequestsToday,
		Blocked:        limit.IsBlocked,
		BlockedReason:  limit.BlockedReason,
		DaysUntilReset: period.DaysUntilMonthlyReset(limit.MonthlyResetDay, now),
		PeriodKey:      period.Key(models.PeriodMonthly, now),
	}
	if limit.MonthlyBudgetMicros > 0 {
		summary.MonthlyPct = float64(limit.MonthlyUsedMicros) * 100 / float64(limit.MonthlyBudgetMicros)
	}
	if limit.DailyLimitMicros != nil {
		dailyLimit := models.AmountFromMicros(*limit.DailyLimitMicros)
		summary.DailyLimit = &dailyLimit
	}
	return summary, nil
}

// LimitUpdate carries the configurable fields of a budget row. Nil fields
// are left unchanged.
type LimitUpdate struct {
	MonthlyBudgetMicros *int64
	MonthlyResetDay     *int
	DailyLimitMicros    *int64
	ClearDailyLimit     bool
	AlertThresholdPct   *int
	BlockAtLimit        *bool
	MaxRequestsPerDay   *int64
	ClearMaxRequests    bool
}

// UpdateLimits applies a partial configuration update to a project's budget
// row, creating it first if needed.
func (e *Enforcer) UpdateLimits(ctx context.Context, projectID uint64, update LimitUpdate) (models.BudgetLimit, error) {
	if e == nil || e.db == nil {
		return models.BudgetLimit{}, fmt.Errorf("budget: nil enforcer")
	}
	if projectID == 0 {
		return models.BudgetLimit{}, errs.Validationf("missing project id")
	}

	now := e.now()
	if _, errEnsure := e.ensureRow(ctx, e.db, projectID, now); errEnsure != nil {
		return models.BudgetLimit{}, errEnsure
	}

	updates := map[string]any{"updated_at": now}
	if update.MonthlyBudgetMicros != nil {
		if *update.MonthlyBudgetMicros < 0 {
			return models.BudgetLimit{}, errs.Validationf("negative monthly budget")
		}
		updates["monthly_budget_micros"] = *update.MonthlyBudgetMicros
	}
	if update.MonthlyResetDay != nil {
		if *update.MonthlyResetDay < 1 || *update.MonthlyResetDay > 31 {
			return models.BudgetLimit{}, errs.Validationf("monthly reset day out of range")
		}
		updates["monthly_reset_day"] = *update.MonthlyResetDay
	}
	if update.ClearDailyLimit {
		updates["daily_limit_micros"] = nil
	} else if update.DailyLimitMicros != nil {
		if *update.DailyLimitMicros < 0 {
			return models.BudgetLimit{}, errs.Validationf("negative daily limit")
		}
		updates["daily_limit_micros"] = *update.DailyLimitMicros
	}
	if update.AlertThresholdPct != nil {
		if *update.AlertThresholdPct < 0 || *update.AlertThresholdPct > 100 {
			return models.BudgetLimit{}, errs.Validationf("alert threshold out of range")
		}
		updates["alert_threshold_pct"] = *update.AlertThresholdPct
	}
	if update.BlockAtLimit != nil {
		updates["block_at_limit"] = *update.BlockAtLimit
	}
	if update.ClearMaxRequests {
		updates["max_requests_per_day"] = nil
	} else if update.MaxRequestsPerDay != nil {
		if *update.MaxRequestsPerDay < 0 {
			return models.BudgetLimit{}, errs.Validationf("negative request limit")
		}
		updates["max_requests_per_day"] = *update.MaxRequestsPerDay
	}

	if errUpdate := e.db.WithContext(ctx).
		Model(&models.BudgetLimit{}).
		Where("project_id = ?", projectID).
		Updates(updates).Error; errUpdate != nil {
		return models.BudgetLimit{}, fmt.Errorf("budget: update limits: %w", errUpdate)
	}

	e.auditor.Record(ctx, projectID, "budget.update_limits", map[string]any{
		"fields": len(updates) - 1,
	})
	return e.loadRow(ctx, e.db, projectID)
}

// WithClock overrides the enforcer's clock. Test hook.
func (e *Enforcer) WithClock(now func() time.Time) *Enforcer {
	if now != nil {
		e.now = now
	}
	return e
}

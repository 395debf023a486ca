// Package budget enforces per-project spending limits. A project is either
// active or blocked; blocking is sticky and only an explicit unblock clears
// it. Checks never mutate the block flag — recording does, once the
// post-increment monthly total crosses the ceiling with block-at-limit on.
//
// Check and record are separate calls by design: two concurrent callers can
// both pass a check before either records, overshooting the ceiling by at
// most the sum of their costs. Callers needing exact enforcement use
// Reserve, which runs both steps under one row lock.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quillmind/metering/internal/alerts"
	"github.com/quillmind/metering/internal/audit"
	"github.com/quillmind/metering/internal/errs"
	"github.com/quillmind/metering/internal/models"
	"github.com/quillmind/metering/internal/period"
	"github.com/quillmind/metering/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Denial reasons surfaced to callers. These are data, not errors.
const (
	ReasonBlocked          = "blocked"
	ReasonMonthlyExceeded  = "monthly budget exceeded"
	ReasonDailyExceeded    = "daily limit exceeded"
	ReasonRequestsExceeded = "daily request limit exceeded"
)

// Decision is the outcome of a usage check, including the counters the
// caller needs to present an actionable message.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`

	MonthlyUsedMicros   int64  `json:"monthly_used_micros"`
	MonthlyBudgetMicros int64  `json:"monthly_budget_micros"`
	DailyUsedMicros     int64  `json:"daily_used_micros"`
	DailyLimitMicros    *int64 `json:"daily_limit_micros,omitempty"`
	RequestsToday       int64  `json:"requests_today"`
}

// Enforcer implements the budget state machine over budget_limits rows.
type Enforcer struct {
	db      *gorm.DB
	auditor *audit.Recorder
	alerter *alerts.Emitter
	now     func() time.Time
}

// NewEnforcer constructs an Enforcer backed by GORM.
func NewEnforcer(db *gorm.DB, auditor *audit.Recorder, alerter *alerts.Emitter) *Enforcer {
	return &Enforcer{db: db, auditor: auditor, alerter: alerter, now: func() time.Time { return time.Now().UTC() }}
}

// CheckUsageLimit decides whether a prospective cost may proceed. It lazily
// creates the project's budget row with deployment defaults and performs the
// daily (and monthly) rollover as a side effect, but never sets the block
// flag. The exact boundary is allowed: the comparison is strict >.
func (e *Enforcer) CheckUsageLimit(ctx context.Context, projectID uint64, prospectiveCostMicros int64) (Decision, error) {
	if e == nil || e.db == nil {
		return Decision{}, fmt.Errorf("budget: nil enforcer")
	}
	if projectID == 0 {
		return Decision{}, errs.Validationf("missing project id")
	}
	if prospectiveCostMicros < 0 {
		return Decision{}, errs.Validationf("negative cost")
	}

	now := e.now()
	limit, errEnsure := e.ensureCurrentRow(ctx, e.db, projectID, now)
	if errEnsure != nil {
		return Decision{}, errEnsure
	}
	return evaluate(limit, prospectiveCostMicros), nil
}

// RecordUsage atomically adds a settled cost to the monthly and daily
// counters and bumps the request count. Calling it twice records the cost
// twice; callers must not retry blindly without deduplication. When the
// increment pushes the monthly total past the ceiling with block-at-limit
// on, the project transitions to blocked.
func (e *Enforcer) RecordUsage(ctx context.Context, projectID uint64, costMicros int64) error {
	if e == nil || e.db == nil {
		return fmt.Errorf("budget: nil enforcer")
	}
	if projectID == 0 {
		return errs.Validationf("missing project id")
	}
	if costMicros < 0 {
		return errs.Validationf("negative cost")
	}

	now := e.now()
	if _, errEnsure := e.ensureCurrentRow(ctx, e.db, projectID, now); errEnsure != nil {
		return errEnsure
	}

	if errInc := e.db.WithContext(ctx).
		Model(&models.BudgetLimit{}).
		Where("project_id = ?", projectID).
		Updates(map[string]any{
			"monthly_used_micros": gorm.Expr("monthly_used_micros + ?", costMicros),
			"daily_used_micros":   gorm.Expr("daily_used_micros + ?", costMicros),
			"requests_today":      gorm.Expr("requests_today + ?", 1),
			"updated_at":          now,
		}).Error; errInc != nil {
		return fmt.Errorf("budget: record usage: %w", errInc)
	}

	limit, errReload := e.loadRow(ctx, e.db, projectID)
	if errReload != nil {
		return errReload
	}
	e.afterRecord(ctx, limit, now)

	e.auditor.Record(ctx, projectID, "budget.record", map[string]any{
		"cost_micros":         costMicros,
		"monthly_used_micros": limit.MonthlyUsedMicros,
	})
	return nil
}

// Reserve combines check and record in a single transaction holding a row
// lock across both steps, for callers that want exact enforcement instead
// of the bounded overrun of the split check/record pair. The cost is only
// recorded when the decision is allowed.
func (e *Enforcer) Reserve(ctx context.Context, projectID uint64, costMicros int64) (Decision, error) {
	if e == nil || e.db == nil {
		return Decision{}, fmt.Errorf("budget: nil enforcer")
	}
	if projectID == 0 {
		return Decision{}, errs.Validationf("missing project id")
	}
	if costMicros < 0 {
		return Decision{}, errs.Validationf("negative cost")
	}

	now := e.now()
	var decision Decision
	errTx := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, errEnsure := e.ensureRow(ctx, tx, projectID, now); errEnsure != nil {
			return errEnsure
		}

		var limit models.BudgetLimit
		if errLock := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("project_id = ?", projectID).
			Take(&limit).Error; errLock != nil {
			return fmt.Errorf("budget: lock row: %w", errLock)
		}
		rolled := applyRollovers(&limit, now)
		decision = evaluate(limit, costMicros)
		if !decision.Allowed {
			if !rolled {
				return nil
			}
			// Persist the rollover even on denial so counters stay current.
			return tx.Model(&models.BudgetLimit{}).
				Where("id = ?", limit.ID).
				Updates(rolloverUpdates(limit, now)).Error
		}

		updates := rolloverUpdates(limit, now)
		updates["monthly_used_micros"] = limit.MonthlyUsedMicros + costMicros
		updates["daily_used_micros"] = limit.DailyUsedMicros + costMicros
		updates["requests_today"] = limit.RequestsToday + 1
		if errUpdate := tx.Model(&models.BudgetLimit{}).
			Where("id = ?", limit.ID).
			Updates(updates).Error; errUpdate != nil {
			return errUpdate
		}
		decision.MonthlyUsedMicros += costMicros
		decision.DailyUsedMicros += costMicros
		decision.RequestsToday++
		return nil
	})
	if errTx != nil {
		return Decision{}, errTx
	}

	if decision.Allowed {
		limit, errReload := e.loadRow(ctx, e.db, projectID)
		if errReload == nil {
			e.afterRecord(ctx, limit, now)
		}
		e.auditor.Record(ctx, projectID, "budget.reserve", map[string]any{
			"cost_micros": costMicros,
		})
	}
	return decision, nil
}

// Unblock explicitly returns a blocked project to active and emits the
// unblocked alert. Unblocking an active project is a no-op.
func (e *Enforcer) Unblock(ctx context.Context, projectID uint64, note string) error {
	if e == nil || e.db == nil {
		return fmt.Errorf("budget: nil enforcer")
	}
	if projectID == 0 {
		return errs.Validationf("missing project id")
	}

	res := e.db.WithContext(ctx).
		Model(&models.BudgetLimit{}).
		Where("project_id = ? AND is_blocked = ?", projectID, true).
		Updates(map[string]any{
			"is_blocked":     false,
			"blocked_at":     nil,
			"blocked_reason": "",
			"updated_at":     e.now(),
		})
	if res.Error != nil {
		return fmt.Errorf("budget: unblock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	now := e.now()
	if _, errEmit := e.alerter.Emit(ctx, models.UsageAlert{
		ProjectID: projectID,
		PeriodKey: period.Key(models.PeriodMonthly, now),
		Type:      models.AlertUnblocked,
		Message:   "project unblocked",
	}); errEmit != nil {
		log.WithError(errEmit).Warn("budget: emit unblocked alert failed")
	}
	e.auditor.Record(ctx, projectID, "budget.unblock", map[string]any{"note": note})
	return nil
}

// evaluate applies the denial ladder to an up-to-date row. Pure.
func evaluate(limit models.BudgetLimit, prospectiveCostMicros int64) Decision {
	decision := Decision{
		MonthlyUsedMicros:   limit.MonthlyUsedMicros,
		MonthlyBudgetMicros: limit.MonthlyBudgetMicros,
		DailyUsedMicros:     limit.DailyUsedMicros,
		DailyLimitMicros:    limit.DailyLimitMicros,
		RequestsToday:       limit.RequestsToday,
	}

	switch {
	case limit.IsBlocked:
		decision.Reason = ReasonBlocked
	case limit.BlockAtLimit && limit.MonthlyUsedMicros+prospectiveCostMicros > limit.MonthlyBudgetMicros:
		decision.Reason = ReasonMonthlyExceeded
	case limit.DailyLimitMicros != nil && limit.DailyUsedMicros+prospectiveCostMicros > *limit.DailyLimitMicros:
		decision.Reason = ReasonDailyExceeded
	case limit.MaxRequestsPerDay != nil && limit.RequestsToday >= *limit.MaxRequestsPerDay:
		decision.Reason = ReasonRequestsExceeded
	default:
		decision.Allowed = true
	}
	return decision
}

// afterRecord evaluates post-increment state transitions: the sticky block
// and the threshold/limit alerts. Alert and audit failures never fail the
// recording they follow.
func (e *Enforcer) afterRecord(ctx context.Context, limit models.BudgetLimit, now time.Time) {
	cycleKey := "cycle:" + period.Day(period.MonthlyCycleStart(limit.MonthlyResetDay, now))

	overBudget := limit.MonthlyBudgetMicros > 0 && limit.MonthlyUsedMicros > limit.MonthlyBudgetMicros
	if overBudget {
		if _, errEmit := e.alerter.Emit(ctx, models.UsageAlert{
			ProjectID:    limit.ProjectID,
			PeriodKey:    cycleKey,
			Type:         models.AlertLimitReached,
			ThresholdPct: 100,
			Message:      "monthly budget reached",
		}); errEmit != nil {
			log.WithError(errEmit).Warn("budget: emit limit alert failed")
		}
	}

	if overBudget && limit.BlockAtLimit && !limit.IsBlocked {
		res := e.db.WithContext(ctx).
			Model(&models.BudgetLimit{}).
			Where("project_id = ? AND is_blocked = ?", limit.ProjectID, false).
			Updates(map[string]any{
				"is_blocked":     true,
				"blocked_at":     now,
				"blocked_reason": ReasonMonthlyExceeded,
				"updated_at":     now,
			})
		if res.Error != nil {
			log.WithError(res.Error).Warn("budget: set blocked failed")
		} else if res.RowsAffected > 0 {
			if _, errEmit := e.alerter.Emit(ctx, models.UsageAlert{
				ProjectID:    limit.ProjectID,
				PeriodKey:    cycleKey,
				Type:         models.AlertBlocked,
				ThresholdPct: 100,
				Message:      "project blocked: " + ReasonMonthlyExceeded,
			}); errEmit != nil {
				log.WithError(errEmit).Warn("budget: emit blocked alert failed")
			}
			e.auditor.Record(ctx, limit.ProjectID, "budget.block", map[string]any{
				"reason": ReasonMonthlyExceeded,
			})
		}
	}

	threshold := limit.AlertThresholdPct
	if threshold > 0 && limit.MonthlyBudgetMicros > 0 {
		pct := float64(limit.MonthlyUsedMicros) * 100 / float64(limit.MonthlyBudgetMicros)
		if pct >= float64(threshold) {
			created, errEmit := e.alerter.Emit(ctx, models.UsageAlert{
				ProjectID:    limit.ProjectID,
				PeriodKey:    cycleKey,
				Type:         models.AlertThresholdCrossed,
				ThresholdPct: threshold,
				Message:      fmt.Sprintf("usage crossed %d%% of the monthly budget", threshold),
			})
			if errEmit != nil {
				log.WithError(errEmit).Warn("budget: emit threshold alert failed")
			} else if created {
				if errStamp := e.db.WithContext(ctx).
					Model(&models.BudgetLimit{}).
					Where("project_id = ?", limit.ProjectID).
					Update("alert_sent_at", now).Error; errStamp != nil {
					log.WithError(errStamp).Warn("budget: stamp alert_sent_at failed")
				}
			}
		}
	}
}

// ensureCurrentRow is ensureRow plus persisted rollovers, returning the row
// in its current-window state.
func (e *Enforcer) ensureCurrentRow(ctx context.Context, conn *gorm.DB, projectID uint64, now time.Time) (models.BudgetLimit, error) {
	if _, errEnsure := e.ensureRow(ctx, conn, projectID, now); errEnsure != nil {
		return models.BudgetLimit{}, errEnsure
	}
	if errRoll := e.rollover(ctx, conn, projectID, now); errRoll != nil {
		return models.BudgetLimit{}, errRoll
	}
	return e.loadRow(ctx, conn, projectID)
}

// ensureRow lazily creates the budget row with deployment defaults. This is
// a get-or-default-and-persist operation: a "check" call that reaches it
// does write. Creation races collapse into the DO NOTHING path.
func (e *Enforcer) ensureRow(ctx context.Context, conn *gorm.DB, projectID uint64, now time.Time) (bool, error) {
	row := models.BudgetLimit{
		ProjectID:           projectID,
		MonthlyBudgetMicros: models.MicrosFromAmount(settings.FloatValue(settings.DefaultMonthlyBudgetKey, settings.DefaultMonthlyBudget)),
		MonthlyResetDay:     1,
		LastMonthlyReset:    period.Day(period.MonthlyCycleStart(1, now)),
		LastDailyReset:      period.Day(now),
		AlertThresholdPct:   settings.IntValue(settings.DefaultAlertThresholdPctKey, settings.DefaultAlertThresholdPct),
		BlockAtLimit:        settings.BoolValue(settings.DefaultBlockAtLimitKey, settings.DefaultBlockAtLimit),
	}
	res := conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}},
			DoNothing: true,
		}).
		Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("budget: ensure limit row: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// rollover lazily resets the daily and monthly counters at most once per
// boundary crossing. Both updates are guarded by the stored marker, so
// concurrent callers on the same day reset at most once (the guard row
// matches for exactly one of them).
func (e *Enforcer) rollover(ctx context.Context, conn *gorm.DB, projectID uint64, now time.Time) error {
	today := period.Day(now)
	if errDaily := conn.WithContext(ctx).
		Model(&models.BudgetLimit{}).
		Where("project_id = ? AND last_daily_reset < ?", projectID, today).
		Updates(map[string]any{
			"daily_used_micros": 0,
			"requests_today":    0,
			"last_daily_reset":  today,
			"updated_at":        now,
		}).Error; errDaily != nil {
		return fmt.Errorf("budget: daily rollover: %w", errDaily)
	}

	var row struct{ MonthlyResetDay int }
	if errDay := conn.WithContext(ctx).
		Model(&models.BudgetLimit{}).
		Select("monthly_reset_day").
		Where("project_id = ?", projectID).
		Take(&row).Error; errDay != nil {
		if errors.Is(errDay, gorm.ErrRecordNotFound) {
			return errs.NotFoundf("budget limit for project %d", projectID)
		}
		return fmt.Errorf("budget: load reset day: %w", errDay)
	}

	cycleStart := period.Day(period.MonthlyCycleStart(row.MonthlyResetDay, now))
	if errMonthly := conn.WithContext(ctx).
		Model(&models.BudgetLimit{}).
		Where("project_id = ? AND last_monthly_reset < ?", projectID, cycleStart).
		Updates(map[string]any{
			"monthly_used_micros": 0,
			"last_monthly_reset":  cycleStart,
			"alert_sent_at":       nil,
			"updated_at":          now,
		}).Error; errMonthly != nil {
		return fmt.Errorf("budget: monthly rollover: %w", errMonthly)
	}
	return nil
}

// applyRollovers performs the same resets as rollover but on an in-memory
// row already held under a lock. It reports whether anything changed.
func applyRollovers(limit *models.BudgetLimit, now time.Time) bool {
	changed := false
	today := period.Day(now)
	if limit.LastDailyReset < today {
		limit.DailyUsedMicros = 0
		limit.RequestsToday = 0
		limit.LastDailyReset = today
		changed = true
	}
	cycleStart := period.Day(period.MonthlyCycleStart(limit.MonthlyResetDay, now))
	if limit.LastMonthlyReset < cycleStart {
		limit.MonthlyUsedMicros = 0
		limit.LastMonthlyReset = cycleStart
		limit.AlertSentAt = nil
		changed = true
	}
	return changed
}

func rolloverUpdates(limit models.BudgetLimit, now time.Time) map[string]any {
	return map[string]any{
		"daily_used_micros":   limit.DailyUsedMicros,
		"requests_today":      limit.RequestsToday,
		"last_daily_reset":    limit.LastDailyReset,
		"monthly_used_micros": limit.MonthlyUsedMicros,
		"last_monthly_reset":  limit.LastMonthlyReset,
		"alert_sent_at":       limit.AlertSentAt,
		"updated_at":          now,
	}
}

func (e *Enforcer) loadRow(ctx context.Context, conn *gorm.DB, projectID uint64) (models.BudgetLimit, error) {
	var limit models.BudgetLimit
	errFirst := conn.WithContext(ctx).
		Where("project_id = ?", projectID).
		Take(&limit).Error
	if errFirst != nil {
		if errors.Is(errFirst, gorm.ErrRecordNotFound) {
			return models.BudgetLimit{}, errs.NotFoundf("budget limit for project %d", projectID)
		}
		return models.BudgetLimit{}, fmt.Errorf("budget: load limit row: %w", errFirst)
	}
	return limit, nil
}

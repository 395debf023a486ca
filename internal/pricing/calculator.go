// Package pricing converts provider-reported costs into billable costs in
// the billing currency, applying volume-tier or fixed markups based on the
// tokens already consumed in the current billing period.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/quillmind/metering/internal/errs"
	"github.com/quillmind/metering/internal/models"
	"github.com/quillmind/metering/internal/period"
	"github.com/quillmind/metering/internal/settings"
	"gorm.io/gorm"
)

// TokenReader supplies the tokens already recorded for a project in a
// billing period. The usage ledger implements it.
type TokenReader interface {
	PeriodTokens(ctx context.Context, projectID uint64, periodKey string) (int64, error)
}

// Quote is the outcome of one billable-cost calculation. All costs are in
// micros; Source* figures are in the target currency after conversion.
type Quote struct {
	SourceCostMicros   int64   `json:"source_cost_micros"`
	BillableCostMicros int64   `json:"billable_cost_micros"`
	MarkupPct          float64 `json:"markup_pct"`
	TierID             *uint64 `json:"tier_id,omitempty"`
	PeriodKey          string  `json:"period_key"`
	ExchangeRate       float64 `json:"exchange_rate"`
	TokensBefore       int64   `json:"tokens_before"`
}

// Calculator computes billable costs from pricing configs and period usage.
type Calculator struct {
	db     *gorm.DB
	tokens TokenReader
	now    func() time.Time
}

// NewCalculator constructs a Calculator backed by GORM.
func NewCalculator(db *gorm.DB, tokens TokenReader) *Calculator {
	return &Calculator{db: db, tokens: tokens, now: func() time.Time { return time.Now().UTC() }}
}

// CalculateBillableCost converts a provider cost (micros, source currency)
// into a billable cost (micros, target currency). Tier placement uses the
// tokens recorded before this request; the in-flight request's own tokens
// never move it up a tier (stale-by-one boundaries are accepted).
//
// Rate resolution order: explicit override, project-configured rate,
// deployment fallback. Markup resolution order: matching tier, project
// fixed markup, deployment default.
func (c *Calculator) CalculateBillableCost(ctx context.Context, projectID uint64, providerCostMicros int64, totalTokensInRequest int64, rateOverride *float64) (Quote, error) {
	if c == nil || c.db == nil {
		return Quote{}, fmt.Errorf("pricing: nil calculator")
	}
	if projectID == 0 {
		return Quote{}, errs.Validationf("missing project id")
	}
	if providerCostMicros < 0 {
		return Quote{}, errs.Validationf("negative cost")
	}
	if totalTokensInRequest < 0 {
		return Quote{}, errs.Validationf("negative token count")
	}
	if rateOverride != nil && *rateOverride <= 0 {
		return Quote{}, errs.Validationf("non-positive exchange rate override")
	}

	cfg, errCfg := c.loadConfig(ctx, projectID)
	if errCfg != nil {
		return Quote{}, errCfg
	}

	rate := settings.FloatValue(settings.FallbackExchangeRateKey, settings.DefaultFallbackExchangeRate)
	if cfg != nil && cfg.ExchangeRate != nil && *cfg.ExchangeRate > 0 {
		rate = *cfg.ExchangeRate
	}
	if rateOverride != nil {
		rate = *rateOverride
	}

	periodType := models.PeriodMonthly
	if cfg != nil && cfg.PeriodType.Valid() {
		periodType = cfg.PeriodType
	}
	periodKey := period.Key(periodType, c.now())

	tokensBefore := int64(0)
	if c.tokens != nil {
		consumed, errTokens := c.tokens.PeriodTokens(ctx, projectID, periodKey)
		if errTokens != nil {
			return Quote{}, fmt.Errorf("pricing: period tokens: %w", errTokens)
		}
		tokensBefore = consumed
	}

	markupPct, tierID, errTier := c.resolveMarkup(ctx, cfg, tokensBefore)
	if errTier != nil {
		return Quote{}, errTier
	}

	sourceInTarget := int64(math.Round(float64(providerCostMicros) * rate))
	billable := int64(math.Round(float64(sourceInTarget) * (1 + markupPct/100)))

	return Quote{
		SourceCostMicros:   sourceInTarget,
		BillableCostMicros: billable,
		MarkupPct:          markupPct,
		TierID:             tierID,
		PeriodKey:          periodKey,
		ExchangeRate:       rate,
		TokensBefore:       tokensBefore,
	}, nil
}

// resolveMarkup selects the applicable tier: the highest threshold not
// exceeding tokensBefore. Without tiers it falls back to the project fixed
// markup, then the deployment default.
func (c *Calculator) resolveMarkup(ctx context.Context, cfg *models.PricingConfig, tokensBefore int64) (float64, *uint64, error) {
	if cfg != nil {
		var tier models.PricingTier
		errTier := c.db.WithContext(ctx).
			Where("pricing_config_id = ? AND token_threshold <= ?", cfg.ID, tokensBefore).
			Order("token_threshold DESC, id DESC").
			Take(&tier).Error
		if errTier == nil {
			tierID := tier.ID
			return tier.MarkupPct, &tierID, nil
		}
		if !errors.Is(errTier, gorm.ErrRecordNotFound) {
			return 0, nil, fmt.Errorf("pricing: select tier: %w", errTier)
		}
		if cfg.FixedMarkupPct != nil {
			return *cfg.FixedMarkupPct, nil, nil
		}
	}
	return settings.FloatValue(settings.DefaultMarkupPctKey, settings.DefaultMarkupPct), nil, nil
}

// loadConfig returns the enabled pricing config for a project, or nil when
// none exists.
func (c *Calculator) loadConfig(ctx context.Context, projectID uint64) (*models.PricingConfig, error) {
	var cfg models.PricingConfig
	errFirst := c.db.WithContext(ctx).
		Where("project_id = ? AND is_enabled = ?", projectID, true).
		Take(&cfg).Error
	if errFirst != nil {
		if errors.Is(errFirst, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("pricing: load config: %w", errFirst)
	}
	return &cfg, nil
}

// WithClock overrides the calculator's clock. Test hook.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	if now != nil {
		c.now = now
	}
	return c
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quillmind/metering/internal/models"
	"github.com/quillmind/metering/internal/pricing"
)

// PricingHandler exposes billable-cost estimation.
type PricingHandler struct {
	calc *pricing.Calculator
}

// NewPricingHandler constructs a PricingHandler.
func NewPricingHandler(calc *pricing.Calculator) *PricingHandler {
	return &PricingHandler{calc: calc}
}

type estimateRequest struct {
	ProjectID    uint64   `json:"project_id" binding:"required"`
	ProviderCost float64  `json:"provider_cost"`
	TotalTokens  int64    `json:"total_tokens"`
	ExchangeRate *float64 `json:"exchange_rate"`
}

// Estimate converts a provider cost into a billable cost for the project's
// current tier placement.
func (h *PricingHandler) Estimate(c *gin.Context) {
	var req estimateRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	quote, errCalc := h.calc.CalculateBillableCost(
		c.Request.Context(),
		req.ProjectID,
		models.MicrosFromAmount(req.ProviderCost),
		req.TotalTokens,
		req.ExchangeRate,
	)
	if errCalc != nil {
		writeError(c, errCalc)
		return
	}

	resp := gin.H{
		"source_cost":   models.AmountFromMicros(quote.SourceCostMicros),
		"billable_cost": models.AmountFromMicros(quote.BillableCostMicros),
		"markup_pct":    quote.MarkupPct,
		"period_key":    quote.PeriodKey,
		"exchange_rate": quote.ExchangeRate,
		"tokens_before": quote.TokensBefore,
	}
	if quote.TierID != nil {
		resp["tier_id"] = *quote.TierID
	}
	c.JSON(http.StatusOK, resp)
}

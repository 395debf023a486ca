package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quillmind/metering/internal/budget"
	"github.com/quillmind/metering/internal/cache"
	"github.com/quillmind/metering/internal/models"
)

// BudgetHandler exposes budget checks, recording, and configuration.
type BudgetHandler struct {
	enforcer *budget.Enforcer
	summary  *cache.SummaryCache
}

// NewBudgetHandler constructs a BudgetHandler.
func NewBudgetHandler(enforcer *budget.Enforcer, summary *cache.SummaryCache) *BudgetHandler {
	return &BudgetHandler{enforcer: enforcer, summary: summary}
}

type costRequest struct {
	ProjectID uint64  `json:"project_id" binding:"required"`
	Cost      float64 `json:"cost"`
}

// Check runs a usage check without recording anything.
func (h *BudgetHandler) Check(c *gin.Context) {
	var req costRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	decision, errCheck := h.enforcer.CheckUsageLimit(c.Request.Context(), req.ProjectID, models.MicrosFromAmount(req.Cost))
	if errCheck != nil {
		writeError(c, errCheck)
		return
	}
	c.JSON(http.StatusOK, decisionResponse(decision))
}

// Record adds a settled cost to the project's counters.
func (h *BudgetHandler) Record(c *gin.Context) {
	var req costRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if errRecord := h.enforcer.RecordUsage(c.Request.Context(), req.ProjectID, models.MicrosFromAmount(req.Cost)); errRecord != nil {
		writeError(c, errRecord)
		return
	}
	h.summary.Invalidate(c.Request.Context(), req.ProjectID)
	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

// Reserve runs check and record atomically under one row lock.
func (h *BudgetHandler) Reserve(c *gin.Context) {
	var req costRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	decision, errReserve := h.enforcer.Reserve(c.Request.Context(), req.ProjectID, models.MicrosFromAmount(req.Cost))
	if errReserve != nil {
		writeError(c, errReserve)
		return
	}
	if decision.Allowed {
		h.summary.Invalidate(c.Request.Context(), req.ProjectID)
	}
	c.JSON(http.StatusOK, decisionResponse(decision))
}

// Summary returns the project's budget view, cached when redis is wired.
func (h *BudgetHandler) Summary(c *gin.Context) {
	projectID, ok := projectIDFromQuery(c)
	if !ok {
		return
	}
	if cached, hit := h.summary.Get(c.Request.Context(), projectID); hit {
		c.JSON(http.StatusOK, gin.H{"summary": cached, "cached": true})
		return
	}
	summary, errSummary := h.enforcer.GetUsageSummary(c.Request.Context(), projectID)
	if errSummary != nil {
		writeError(c, errSummary)
		return
	}
	h.summary.Set(c.Request.Context(), summary)
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

type limitsRequest struct {
	ProjectID         uint64   `json:"project_id" binding:"required"`
	MonthlyBudget     *float64 `json:"monthly_budget"`
	MonthlyResetDay   *int     `json:"monthly_reset_day"`
	DailyLimit        *float64 `json:"daily_limit"`
	ClearDailyLimit   bool     `json:"clear_daily_limit"`
	AlertThresholdPct *int     `json:"alert_threshold_pct"`
	BlockAtLimit      *bool    `json:"block_at_limit"`
	MaxRequestsPerDay *int64   `json:"max_requests_per_day"`
	ClearMaxRequests  bool     `json:"clear_max_requests_per_day"`
}

// UpdateLimits applies a partial budget configuration update.
func (h *BudgetHandler) UpdateLimits(c *gin.Context) {
	var req limitsRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	update := budget.LimitUpdate{
		MonthlyResetDay:   req.MonthlyResetDay,
		ClearDailyLimit:   req.ClearDailyLimit,
		AlertThresholdPct: req.AlertThresholdPct,
		BlockAtLimit:      req.BlockAtLimit,
		MaxRequestsPerDay: req.MaxRequestsPerDay,
		ClearMaxRequests:  req.ClearMaxRequests,
	}
	if req.MonthlyBudget != nil {
		micros := models.MicrosFromAmount(*req.MonthlyBudget)
		update.MonthlyBudgetMicros = &micros
	}
	if req.DailyLimit != nil {
		micros := models.MicrosFromAmount(*req.DailyLimit)
		update.DailyLimitMicros = &micros
	}

	limit, errUpdate := h.enforcer.UpdateLimits(c.Request.Context(), req.ProjectID, update)
	if errUpdate != nil {
		writeError(c, errUpdate)
		return
	}
	h.summary.Invalidate(c.Request.Context(), req.ProjectID)
	c.JSON(http.StatusOK, gin.H{"limits": limitResponse(limit)})
}

// GetLimits returns the project's budget configuration and counters.
func (h *BudgetHandler) GetLimits(c *gin.Context) {
	projectID, ok := projectIDFromQuery(c)
	if !ok {
		return
	}
	summary, errSummary := h.enforcer.GetUsageSummary(c.Request.Context(), projectID)
	if errSummary != nil {
		writeError(c, errSummary)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

type unblockRequest struct {
	ProjectID uint64 `json:"project_id" binding:"required"`
	Note      string `json:"note"`
}

// Unblock clears a sticky block.
func (h *BudgetHandler) Unblock(c *gin.Context) {
	var req unblockRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if errUnblock := h.enforcer.Unblock(c.Request.Context(), req.ProjectID, req.Note); errUnblock != nil {
		writeError(c, errUnblock)
		return
	}
	h.summary.Invalidate(c.Request.Context(), req.ProjectID)
	c.JSON(http.StatusOK, gin.H{"unblocked": true})
}

func decisionResponse(d budget.Decision) gin.H {
	resp := gin.H{
		"allowed":        d.Allowed,
		"monthly_used":   models.AmountFromMicros(d.MonthlyUsedMicros),
		"monthly_limit":  models.AmountFromMicros(d.MonthlyBudgetMicros),
		"daily_used":     models.AmountFromMicros(d.DailyUsedMicros),
		"requests_today": d.RequestsToday,
	}
	if d.Reason != "" {
		resp["reason"] = d.Reason
	}
	if d.DailyLimitMicros != nil {
		resp["daily_limit"] = models.AmountFromMicros(*d.DailyLimitMicros)
	}
	return resp
}

func limitResponse(limit models.BudgetLimit) gin.H {
	resp := gin.H{
		"project_id":          limit.ProjectID,
		"monthly_budget":      models.AmountFromMicros(limit.MonthlyBudgetMicros),
		"monthly_used":        models.AmountFromMicros(limit.MonthlyUsedMicros),
		"monthly_reset_day":   limit.MonthlyResetDay,
		"daily_used":          models.AmountFromMicros(limit.DailyUsedMicros),
		"alert_threshold_pct": limit.AlertThresholdPct,
		"block_at_limit":      limit.BlockAtLimit,
		"requests_today":      limit.RequestsToday,
		"is_blocked":          limit.IsBlocked,
	}
	if limit.DailyLimitMicros != nil {
		resp["daily_limit"] = models.AmountFromMicros(*limit.DailyLimitMicros)
	}
	if limit.MaxRequestsPerDay != nil {
		resp["max_requests_per_day"] = *limit.MaxRequestsPerDay
	}
	if limit.BlockedReason != "" {
		resp["blocked_reason"] = limit.BlockedReason
	}
	return resp
}

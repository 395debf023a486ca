package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quillmind/metering/internal/models"
	"github.com/quillmind/metering/internal/usage"
)

// UsageHandler exposes the usage ledger and its aggregates.
type UsageHandler struct {
	ledger *usage.Ledger
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(ledger *usage.Ledger) *UsageHandler {
	return &UsageHandler{ledger: ledger}
}

type appendRequest struct {
	ProjectID    uint64         `json:"project_id" binding:"required"`
	RequestID    string         `json:"request_id"`
	Provider     string         `json:"provider" binding:"required"`
	Model        string         `json:"model" binding:"required"`
	Kind         string         `json:"kind" binding:"required"`
	InputTokens  int64          `json:"input_tokens"`
	OutputTokens int64          `json:"output_tokens"`
	Cost         float64        `json:"cost"`
	Succeeded    *bool          `json:"succeeded"`
	ErrorCode    *string        `json:"error_code"`
	ErrorMessage string         `json:"error_message"`
	LatencyMS    *int64         `json:"latency_ms"`
	ContextTag   string         `json:"context_tag"`
	Metadata     map[string]any `json:"metadata"`
	RequestedAt  *time.Time     `json:"requested_at"`
}

// Append writes one usage event and its aggregate updates.
func (h *UsageHandler) Append(c *gin.Context) {
	var req appendRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	succeeded := true
	if req.Succeeded != nil {
		succeeded = *req.Succeeded
	}
	requestedAt := time.Time{}
	if req.RequestedAt != nil {
		requestedAt = *req.RequestedAt
	}

	eventID, errAppend := h.ledger.AppendEvent(c.Request.Context(), usage.Event{
		ProjectID:    req.ProjectID,
		RequestID:    req.RequestID,
		Provider:     req.Provider,
		Model:        req.Model,
		Kind:         models.OperationKind(strings.TrimSpace(req.Kind)),
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
		CostMicros:   models.MicrosFromAmount(req.Cost),
		Succeeded:    succeeded,
		ErrorCode:    req.ErrorCode,
		ErrorMessage: req.ErrorMessage,
		LatencyMS:    req.LatencyMS,
		ContextTag:   req.ContextTag,
		Metadata:     req.Metadata,
		RequestedAt:  requestedAt,
	})
	if errAppend != nil {
		writeError(c, errAppend)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event_id": eventID})
}

// List returns ledger rows with optional filters.
func (h *UsageHandler) List(c *gin.Context) {
	projectID, ok := projectIDFromQuery(c)
	if !ok {
		return
	}

	filter := usage.EventFilter{
		Provider: c.Query("provider"),
		Model:    c.Query("model"),
	}
	if fromStr := strings.TrimSpace(c.Query("from")); fromStr != "" {
		if t, errParse := time.Parse(time.RFC3339, fromStr); errParse == nil {
			filter.From = t
		}
	}
	if toStr := strings.TrimSpace(c.Query("to")); toStr != "" {
		if t, errParse := time.Parse(time.RFC3339, toStr); errParse == nil {
			filter.To = t
		}
	}
	if limitStr := strings.TrimSpace(c.Query("limit")); limitStr != "" {
		if v, errParse := strconv.Atoi(limitStr); errParse == nil && v > 0 {
			filter.Limit = v
		}
	}

	rows, errList := h.ledger.ListEvents(c.Request.Context(), projectID, filter)
	if errList != nil {
		writeError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": rows})
}

// Totals returns the lifetime aggregate for a project.
func (h *UsageHandler) Totals(c *gin.Context) {
	projectID, ok := projectIDFromQuery(c)
	if !ok {
		return
	}
	totals, errTotals := h.ledger.Totals(c.Request.Context(), projectID)
	if errTotals != nil {
		writeError(c, errTotals)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"project_id":          totals.ProjectID,
		"total_cost":          models.AmountFromMicros(totals.TotalCostMicros),
		"total_input_tokens":  totals.TotalInputTokens,
		"total_output_tokens": totals.TotalOutputTokens,
		"request_count":       totals.RequestCount,
		"failed_count":        totals.FailedCount,
		"first_event_at":      totals.FirstEventAt,
		"last_event_at":       totals.LastEventAt,
	})
}

// ModelBuckets returns the per-model aggregate rows for a project.
func (h *UsageHandler) ModelBuckets(c *gin.Context) {
	projectID, ok := projectIDFromQuery(c)
	if !ok {
		return
	}
	rows, errList := h.ledger.ModelBuckets(c.Request.Context(), projectID)
	if errList != nil {
		writeError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": rows})
}

package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/quillmind/metering/internal/errs"
)

// writeError maps core error kinds onto HTTP statuses. Budget denials never
// arrive here; they are returned as 200 payloads with allowed=false.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// projectIDFromQuery parses the required project_id query parameter.
func projectIDFromQuery(c *gin.Context) (uint64, bool) {
	raw := strings.TrimSpace(c.Query("project_id"))
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project_id is required"})
		return 0, false
	}
	id, errParse := strconv.ParseUint(raw, 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project_id"})
		return 0, false
	}
	return id, true
}

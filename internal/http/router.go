// Package http assembles the gin engine for the metering API.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quillmind/metering/internal/budget"
	"github.com/quillmind/metering/internal/cache"
	"github.com/quillmind/metering/internal/http/handlers"
	"github.com/quillmind/metering/internal/pricing"
	"github.com/quillmind/metering/internal/usage"
	log "github.com/sirupsen/logrus"
)

// Deps carries the services the routes need.
type Deps struct {
	Ledger   *usage.Ledger
	Enforcer *budget.Enforcer
	Calc     *pricing.Calculator
	Summary  *cache.SummaryCache
}

// NewRouter builds the engine with all v1 routes registered.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	usageHandler := handlers.NewUsageHandler(deps.Ledger)
	budgetHandler := handlers.NewBudgetHandler(deps.Enforcer, deps.Summary)
	pricingHandler := handlers.NewPricingHandler(deps.Calc)

	v1 := router.Group("/v1")
	{
		u := v1.Group("/usage")
		u.POST("/events", usageHandler.Append)
		u.GET("/events", usageHandler.List)
		u.GET("/totals", usageHandler.Totals)
		u.GET("/models", usageHandler.ModelBuckets)
		u.POST("/check", budgetHandler.Check)
		u.POST("/record", budgetHandler.Record)
		u.POST("/reserve", budgetHandler.Reserve)
		u.GET("/summary", budgetHandler.Summary)

		b := v1.Group("/budget")
		b.GET("/limits", budgetHandler.GetLimits)
		b.PUT("/limits", budgetHandler.UpdateLimits)
		b.POST("/unblock", budgetHandler.Unblock)

		p := v1.Group("/pricing")
		p.POST("/estimate", pricingHandler.Estimate)
	}

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("http request")
	}
}

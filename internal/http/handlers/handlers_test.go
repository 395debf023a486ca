package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/quillmind/metering/internal/budget"
	dbutil "github.com/quillmind/metering/internal/db"
	"github.com/quillmind/metering/internal/models"
	"github.com/quillmind/metering/internal/pricing"
	"github.com/quillmind/metering/internal/usage"
	"gorm.io/gorm"
)

func openHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := dbutil.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, errMarshal := json.Marshal(body)
	if errMarshal != nil {
		t.Fatalf("marshal body: %v", errMarshal)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if errDecode := json.Unmarshal(recorder.Body.Bytes(), &body); errDecode != nil {
		t.Fatalf("decode response: %v (%s)", errDecode, recorder.Body.String())
	}
	return body
}

func TestBudgetCheckEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := openHandlerTestDB(t)

	enforcer := budget.NewEnforcer(conn, nil, nil)
	handler := NewBudgetHandler(enforcer, nil)
	router := gin.New()
	router.POST("/v1/usage/check", handler.Check)

	recorder := postJSON(t, router, "/v1/usage/check", map[string]any{
		"project_id": 1,
		"cost":       1.50,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	if allowed, _ := body["allowed"].(bool); !allowed {
		t.Fatalf("fresh project denied: %s", recorder.Body.String())
	}

	recorder = postJSON(t, router, "/v1/usage/check", map[string]any{"cost": 1.0})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("missing project_id: status = %d", recorder.Code)
	}
}

func TestBudgetRecordThenCheckDenies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := openHandlerTestDB(t)

	enforcer := budget.NewEnforcer(conn, nil, nil)
	handler := NewBudgetHandler(enforcer, nil)
	router := gin.New()
	router.POST("/v1/usage/check", handler.Check)
	router.POST("/v1/usage/record", handler.Record)
	router.PUT("/v1/budget/limits", handler.UpdateLimits)

	recorder := postJSON(t, router, "/v1/usage/check", map[string]any{"project_id": 1, "cost": 0})
	if recorder.Code != http.StatusOK {
		t.Fatalf("seed check: status = %d", recorder.Code)
	}

	payload, _ := json.Marshal(map[string]any{"project_id": 1, "monthly_budget": 10.0})
	req := httptest.NewRequest(http.MethodPut, "/v1/budget/limits", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	limitsRecorder := httptest.NewRecorder()
	router.ServeHTTP(limitsRecorder, req)
	if limitsRecorder.Code != http.StatusOK {
		t.Fatalf("update limits: status = %d, body = %s", limitsRecorder.Code, limitsRecorder.Body.String())
	}

	recorder = postJSON(t, router, "/v1/usage/record", map[string]any{"project_id": 1, "cost": 12.0})
	if recorder.Code != http.StatusOK {
		t.Fatalf("record: status = %d, body = %s", recorder.Code, recorder.Body.String())
	}

	recorder = postJSON(t, router, "/v1/usage/check", map[string]any{"project_id": 1, "cost": 0.5})
	if recorder.Code != http.StatusOK {
		t.Fatalf("check: status = %d", recorder.Code)
	}
	body := decodeBody(t, recorder)
	if allowed, _ := body["allowed"].(bool); allowed {
		t.Fatalf("over-budget project allowed: %s", recorder.Body.String())
	}
	if body["reason"] != budget.ReasonBlocked {
		t.Fatalf("reason = %v, want %q", body["reason"], budget.ReasonBlocked)
	}
}

func TestUsageAppendEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := openHandlerTestDB(t)

	project := models.Project{Name: "demo", Slug: "demo", IsEnabled: true}
	if errCreate := conn.Create(&project).Error; errCreate != nil {
		t.Fatalf("create project: %v", errCreate)
	}

	ledger := usage.NewLedger(conn, nil)
	handler := NewUsageHandler(ledger)
	router := gin.New()
	router.POST("/v1/usage/events", handler.Append)
	router.GET("/v1/usage/totals", handler.Totals)

	recorder := postJSON(t, router, "/v1/usage/events", map[string]any{
		"project_id":    project.ID,
		"provider":      "openai",
		"model":         "gpt-4o",
		"kind":          "chat",
		"input_tokens":  120,
		"output_tokens": 30,
		"cost":          0.75,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("append: status = %d, body = %s", recorder.Code, recorder.Body.String())
	}

	recorder = postJSON(t, router, "/v1/usage/events", map[string]any{
		"project_id": project.ID,
		"provider":   "openai",
		"model":      "gpt-4o",
		"kind":       "telepathy",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("bad kind: status = %d, body = %s", recorder.Code, recorder.Body.String())
	}

	recorder = postJSON(t, router, "/v1/usage/events", map[string]any{
		"project_id": 9999,
		"provider":   "openai",
		"model":      "gpt-4o",
		"kind":       "chat",
	})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("unknown project: status = %d", recorder.Code)
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/usage/totals?project_id=%d", project.ID), nil)
	totalsRecorder := httptest.NewRecorder()
	router.ServeHTTP(totalsRecorder, req)
	if totalsRecorder.Code != http.StatusOK {
		t.Fatalf("totals: status = %d", totalsRecorder.Code)
	}
	body := decodeBody(t, totalsRecorder)
	if cost, _ := body["total_cost"].(float64); cost != 0.75 {
		t.Fatalf("total_cost = %v, want 0.75", body["total_cost"])
	}
}

func TestPricingEstimateEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := openHandlerTestDB(t)

	ledger := usage.NewLedger(conn, nil)
	calc := pricing.NewCalculator(conn, ledger)
	handler := NewPricingHandler(calc)
	router := gin.New()
	router.POST("/v1/pricing/estimate", handler.Estimate)

	rate := 1.0
	recorder := postJSON(t, router, "/v1/pricing/estimate", map[string]any{
		"project_id":    1,
		"provider_cost": 10.0,
		"total_tokens":  1000,
		"exchange_rate": rate,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("estimate: status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	if billable, _ := body["billable_cost"].(float64); billable != 10.0 {
		t.Fatalf("billable_cost = %v, want 10.0 with rate 1 and default markup", body["billable_cost"])
	}
}

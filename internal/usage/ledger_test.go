package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/quillmind/metering/internal/audit"
	dbutil "github.com/quillmind/metering/internal/db"
	"github.com/quillmind/metering/internal/errs"
	"github.com/quillmind/metering/internal/models"
	"gorm.io/gorm"
)

func openLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := dbutil.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func createTestProject(t *testing.T, conn *gorm.DB, slug string) uint64 {
	t.Helper()
	project := models.Project{Name: slug, Slug: slug, IsEnabled: true}
	if errCreate := conn.Create(&project).Error; errCreate != nil {
		t.Fatalf("create project: %v", errCreate)
	}
	return project.ID
}

func baseEvent(projectID uint64) Event {
	return Event{
		ProjectID:    projectID,
		Provider:     "openai",
		Model:        "gpt-4o",
		Kind:         models.OperationChat,
		InputTokens:  100,
		OutputTokens: 50,
		CostMicros:   250_000,
		Succeeded:    true,
	}
}

func TestAppendEventWritesEventAndAggregates(t *testing.T) {
	conn := openLedgerTestDB(t)
	projectID := createTestProject(t, conn, "append-basic")
	ledger := NewLedger(conn, audit.NewRecorder(conn))
	ctx := context.Background()

	latency := int64(420)
	ev := baseEvent(projectID)
	ev.LatencyMS = &latency
	ev.Metadata = map[string]any{"source": "extractor"}

	eventID, errAppend := ledger.AppendEvent(ctx, ev)
	if errAppend != nil {
		t.Fatalf("append: %v", errAppend)
	}
	if eventID == 0 {
		t.Fatal("expected non-zero event id")
	}

	var row models.UsageEvent
	if errFind := conn.Where("id = ?", eventID).Take(&row).Error; errFind != nil {
		t.Fatalf("load event: %v", errFind)
	}
	if row.TotalTokens != 150 {
		t.Fatalf("total_tokens = %d, want 150", row.TotalTokens)
	}
	if row.RequestID == "" {
		t.Fatal("expected generated request id")
	}

	totals, errTotals := ledger.Totals(ctx, projectID)
	if errTotals != nil {
		t.Fatalf("totals: %v", errTotals)
	}
	if totals.TotalCostMicros != 250_000 || totals.RequestCount != 1 {
		t.Fatalf("totals = %+v, want cost 250000 and 1 request", totals)
	}
	if totals.FirstEventAt == nil || totals.LastEventAt == nil {
		t.Fatal("expected first/last event timestamps set")
	}

	var daily models.UsageDailyBucket
	if errDaily := conn.Where("project_id = ?", projectID).Take(&daily).Error; errDaily != nil {
		t.Fatalf("load daily bucket: %v", errDaily)
	}
	if daily.RequestCount != 1 || daily.TotalCostMicros != 250_000 {
		t.Fatalf("daily bucket = %+v", daily)
	}

	var modelBucket models.UsageModelBucket
	if errModel := conn.Where("project_id = ? AND model = ?", projectID, "gpt-4o").Take(&modelBucket).Error; errModel != nil {
		t.Fatalf("load model bucket: %v", errModel)
	}
	if modelBucket.AvgLatencyMS != 420 {
		t.Fatalf("avg_latency_ms = %v, want 420", modelBucket.AvgLatencyMS)
	}

	var periodBucket models.UsagePeriodBucket
	if errPeriod := conn.Where("project_id = ?", projectID).Take(&periodBucket).Error; errPeriod != nil {
		t.Fatalf("load period bucket: %v", errPeriod)
	}
	if periodBucket.TotalTokens != 150 {
		t.Fatalf("period total_tokens = %d, want 150", periodBucket.TotalTokens)
	}
}

func TestAppendEventAggregatesStayConsistent(t *testing.T) {
	conn := openLedgerTestDB(t)
	projectID := createTestProject(t, conn, "append-many")
	ledger := NewLedger(conn, nil)
	ctx := context.Background()

	providers := []string{"openai", "anthropic"}
	modelNames := []string{"gpt-4o", "claude-sonnet"}

	const n = 20
	wantCost := int64(0)
	wantInput := int64(0)
	wantOutput := int64(0)
	wantFailed := int64(0)
	for i := 0; i < n; i++ {
		ev := baseEvent(projectID)
		ev.Provider = providers[i%2]
		ev.Model = modelNames[i%2]
		ev.InputTokens = int64(10 * (i + 1))
		ev.OutputTokens = int64(5 * (i + 1))
		ev.CostMicros = int64(1000 * (i + 1))
		if i%5 == 4 {
			ev.Succeeded = false
			code := "rate_limited"
			ev.ErrorCode = &code
		}
		wantCost += ev.CostMicros
		wantInput += ev.InputTokens
		wantOutput += ev.OutputTokens
		if !ev.Succeeded {
			wantFailed++
		}
		if _, errAppend := ledger.AppendEvent(ctx, ev); errAppend != nil {
			t.Fatalf("append %d: %v", i, errAppend)
		}
	}

	totals, errTotals := ledger.Totals(ctx, projectID)
	if errTotals != nil {
		t.Fatalf("totals: %v", errTotals)
	}
	if totals.RequestCount != n {
		t.Fatalf("request_count = %d, want %d", totals.RequestCount, n)
	}
	if totals.TotalCostMicros != wantCost {
		t.Fatalf("total_cost_micros = %d, want %d", totals.TotalCostMicros, wantCost)
	}
	if totals.TotalInputTokens != wantInput || totals.TotalOutputTokens != wantOutput {
		t.Fatalf("token totals = %d/%d, want %d/%d", totals.TotalInputTokens, totals.TotalOutputTokens, wantInput, wantOutput)
	}
	if totals.FailedCount != wantFailed {
		t.Fatalf("failed_count = %d, want %d", totals.FailedCount, wantFailed)
	}

	// Events and per-provider buckets must agree with the lifetime totals.
	var eventCount int64
	if errCount := conn.Model(&models.UsageEvent{}).Where("project_id = ?", projectID).Count(&eventCount).Error; errCount != nil {
		t.Fatalf("count events: %v", errCount)
	}
	if eventCount != n {
		t.Fatalf("event rows = %d, want %d", eventCount, n)
	}

	var providerBuckets []models.UsageProviderBucket
	if errFind := conn.Where("project_id = ?", projectID).Find(&providerBuckets).Error; errFind != nil {
		t.Fatalf("load provider buckets: %v", errFind)
	}
	var bucketCost, bucketRequests int64
	for _, b := range providerBuckets {
		bucketCost += b.TotalCostMicros
		bucketRequests += b.RequestCount
	}
	if bucketCost != wantCost || bucketRequests != n {
		t.Fatalf("provider buckets sum to %d micros / %d requests, want %d / %d", bucketCost, bucketRequests, wantCost, n)
	}
}

func TestAppendEventConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	conn := openLedgerTestDB(t)
	projectID := createTestProject(t, conn, "append-concurrent")
	ledger := NewLedger(conn, nil)
	ctx := context.Background()

	const writers = 4
	const perWriter = 5

	var wg sync.WaitGroup
	errCh := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				ev := baseEvent(projectID)
				ev.CostMicros = 1000
				var errAppend error
				for attempt := 0; attempt < 50; attempt++ {
					if _, errAppend = ledger.AppendEvent(ctx, ev); errAppend == nil {
						break
					}
					if !errors.Is(errAppend, errs.ErrConflict) {
						break
					}
					time.Sleep(5 * time.Millisecond)
				}
				if errAppend != nil {
					errCh <- errAppend
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for errAppend := range errCh {
		t.Fatalf("concurrent append: %v", errAppend)
	}

	totals, errTotals := ledger.Totals(ctx, projectID)
	if errTotals != nil {
		t.Fatalf("totals: %v", errTotals)
	}
	if totals.RequestCount != writers*perWriter {
		t.Fatalf("request_count = %d, want %d", totals.RequestCount, writers*perWriter)
	}
	if totals.TotalCostMicros != int64(writers*perWriter*1000) {
		t.Fatalf("total_cost_micros = %d, want %d", totals.TotalCostMicros, writers*perWriter*1000)
	}
}

func TestAppendEventRejectsBadInput(t *testing.T) {
	conn := openLedgerTestDB(t)
	projectID := createTestProject(t, conn, "append-invalid")
	ledger := NewLedger(conn, nil)
	ctx := context.Background()

	cases := map[string]func(*Event){
		"missing provider": func(ev *Event) { ev.Provider = "  " },
		"missing model":    func(ev *Event) { ev.Model = "" },
		"unknown kind":     func(ev *Event) { ev.Kind = "telepathy" },
		"negative tokens":  func(ev *Event) { ev.InputTokens = -1 },
		"negative cost":    func(ev *Event) { ev.CostMicros = -1 },
	}
	for name, mutate := range cases {
		ev := baseEvent(projectID)
		mutate(&ev)
		if _, errAppend := ledger.AppendEvent(ctx, ev); !errors.Is(errAppend, errs.ErrValidation) {
			t.Fatalf("%s: got %v, want validation error", name, errAppend)
		}
	}

	ev := baseEvent(9999)
	if _, errAppend := ledger.AppendEvent(ctx, ev); !errors.Is(errAppend, errs.ErrNotFound) {
		t.Fatalf("unknown project: got %v, want not found", errAppend)
	}

	// Nothing may be visible after rejected appends.
	var count int64
	if errCount := conn.Model(&models.UsageEvent{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count events: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("event rows = %d after rejected appends, want 0", count)
	}
}

func TestListEventsFilters(t *testing.T) {
	conn := openLedgerTestDB(t)
	projectID := createTestProject(t, conn, "list-filter")
	ledger := NewLedger(conn, nil)
	ctx := context.Background()

	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ev := baseEvent(projectID)
		ev.RequestedAt = base.Add(time.Duration(i) * time.Hour)
		if i == 1 {
			ev.Provider = "anthropic"
			ev.Model = "claude-sonnet"
		}
		if _, errAppend := ledger.AppendEvent(ctx, ev); errAppend != nil {
			t.Fatalf("append %d: %v", i, errAppend)
		}
	}

	all, errAll := ledger.ListEvents(ctx, projectID, EventFilter{})
	if errAll != nil {
		t.Fatalf("list all: %v", errAll)
	}
	if len(all) != 3 {
		t.Fatalf("list all = %d rows, want 3", len(all))
	}

	onlyAnthropic, errProvider := ledger.ListEvents(ctx, projectID, EventFilter{Provider: "anthropic"})
	if errProvider != nil {
		t.Fatalf("list provider: %v", errProvider)
	}
	if len(onlyAnthropic) != 1 || onlyAnthropic[0].Provider != "anthropic" {
		t.Fatalf("provider filter returned %d rows", len(onlyAnthropic))
	}

	// Filters match regardless of casing.
	mixedCase, errMixed := ledger.ListEvents(ctx, projectID, EventFilter{Provider: "Anthropic", Model: "Claude-Sonnet"})
	if errMixed != nil {
		t.Fatalf("list mixed case: %v", errMixed)
	}
	if len(mixedCase) != 1 || mixedCase[0].Provider != "anthropic" {
		t.Fatalf("mixed-case filter returned %d rows, want 1", len(mixedCase))
	}

	windowed, errWindow := ledger.ListEvents(ctx, projectID, EventFilter{
		From: base.Add(30 * time.Minute),
		To:   base.Add(90 * time.Minute),
	})
	if errWindow != nil {
		t.Fatalf("list window: %v", errWindow)
	}
	if len(windowed) != 1 {
		t.Fatalf("window filter returned %d rows, want 1", len(windowed))
	}
}

func TestPeriodTokensMissingBucketIsZero(t *testing.T) {
	conn := openLedgerTestDB(t)
	projectID := createTestProject(t, conn, "period-empty")
	ledger := NewLedger(conn, nil)

	tokens, errTokens := ledger.PeriodTokens(context.Background(), projectID, "monthly:2026-02")
	if errTokens != nil {
		t.Fatalf("period tokens: %v", errTokens)
	}
	if tokens != 0 {
		t.Fatalf("tokens = %d, want 0 for missing bucket", tokens)
	}
}

func TestAppendEventUsesWeeklyPeriodWhenConfigured(t *testing.T) {
	conn := openLedgerTestDB(t)
	projectID := createTestProject(t, conn, "weekly-period")
	ledger := NewLedger(conn, nil)
	ctx := context.Background()

	cfg := models.PricingConfig{ProjectID: projectID, PeriodType: models.PeriodWeekly, IsEnabled: true}
	if errCreate := conn.Create(&cfg).Error; errCreate != nil {
		t.Fatalf("create pricing config: %v", errCreate)
	}

	ev := baseEvent(projectID)
	ev.RequestedAt = time.Date(2026, 2, 18, 9, 0, 0, 0, time.UTC)
	if _, errAppend := ledger.AppendEvent(ctx, ev); errAppend != nil {
		t.Fatalf("append: %v", errAppend)
	}

	var bucket models.UsagePeriodBucket
	if errFind := conn.Where("project_id = ?", projectID).Take(&bucket).Error; errFind != nil {
		t.Fatalf("load period bucket: %v", errFind)
	}
	if bucket.PeriodKey != "weekly:2026-W08" {
		t.Fatalf("period_key = %q, want weekly:2026-W08", bucket.PeriodKey)
	}
}

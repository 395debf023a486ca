// Package cache provides an optional redis read-through cache for usage
// summaries. A nil cache is valid and disables caching, so the HTTP layer
// does not branch on deployment shape.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quillmind/metering/internal/budget"
	"github.com/quillmind/metering/internal/settings"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// SummaryCache caches budget summaries per project.
type SummaryCache struct {
	client *redis.Client
}

// NewSummaryCache connects to redis at addr. An empty addr returns a nil
// cache (caching disabled).
func NewSummaryCache(ctx context.Context, addr, password string, db int) (*SummaryCache, error) {
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", errPing)
	}
	return &SummaryCache{client: client}, nil
}

func summaryKey(projectID uint64) string {
	return fmt.Sprintf("metering:summary:%d", projectID)
}

// Get returns the cached summary for a project, if present and decodable.
func (c *SummaryCache) Get(ctx context.Context, projectID uint64) (budget.Summary, bool) {
	if c == nil || c.client == nil {
		return budget.Summary{}, false
	}
	raw, errGet := c.client.Get(ctx, summaryKey(projectID)).Bytes()
	if errGet != nil {
		return budget.Summary{}, false
	}
	var summary budget.Summary
	if errDecode := json.Unmarshal(raw, &summary); errDecode != nil {
		return budget.Summary{}, false
	}
	return summary, true
}

// Set stores a summary with the configured TTL.
func (c *SummaryCache) Set(ctx context.Context, summary budget.Summary) {
	if c == nil || c.client == nil {
		return
	}
	payload, errMarshal := json.Marshal(summary)
	if errMarshal != nil {
		return
	}
	ttl := time.Duration(settings.IntValue(
		settings.SummaryCacheTTLSecondsKey,
		settings.DefaultSummaryCacheTTLSeconds,
	)) * time.Second
	if ttl <= 0 {
		return
	}
	if errSet := c.client.Set(ctx, summaryKey(summary.ProjectID), payload, ttl).Err(); errSet != nil {
		log.WithError(errSet).Debug("cache: set summary failed")
	}
}

// Invalidate drops the cached summary after a write changed the counters.
func (c *SummaryCache) Invalidate(ctx context.Context, projectID uint64) {
	if c == nil || c.client == nil {
		return
	}
	if errDel := c.client.Del(ctx, summaryKey(projectID)).Err(); errDel != nil {
		log.WithError(errDel).Debug("cache: invalidate summary failed")
	}
}

// Close releases the redis connection.
func (c *SummaryCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

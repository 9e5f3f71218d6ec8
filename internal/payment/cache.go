package payment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const planCacheKeyPrefix = "plan:current:"

// PlanCache keeps a user's current plan in Redis so the hot read path does
// not hit Postgres on every request. A nil cache is a no-op.
type PlanCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPlanCache constructs a plan cache helper.
func NewPlanCache(client *redis.Client, ttl time.Duration) *PlanCache {
	return &PlanCache{client: client, ttl: ttl}
}

// Get reports the cached plan summary for the user, if any. Cache trouble is
// treated as a miss.
func (c *PlanCache) Get(ctx context.Context, userID string) (*PlanSummary, bool) {
	if c == nil || c.client == nil || userID == "" {
		return nil, false
	}
	data, err := c.client.Get(ctx, planCacheKeyPrefix+userID).Bytes()
	if err != nil {
		return nil, false
	}
	var summary PlanSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, false
	}
	return &summary, true
}

// Set stores the plan summary with the configured TTL.
func (c *PlanCache) Set(ctx context.Context, userID string, summary *PlanSummary) {
	if c == nil || c.client == nil || userID == "" || summary == nil || c.ttl <= 0 {
		return
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return
	}
	c.client.Set(ctx, planCacheKeyPrefix+userID, data, c.ttl)
}

// Invalidate drops the cached summary after the user's plan may have changed.
func (c *PlanCache) Invalidate(ctx context.Context, userID string) {
	if c == nil || c.client == nil || userID == "" {
		return
	}
	c.client.Del(ctx, planCacheKeyPrefix+userID)
}

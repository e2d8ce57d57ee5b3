package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/revlens/internal/observability/logger"
	"github.com/smallbiznis/revlens/internal/observability/metrics"
	"go.uber.org/zap"
)

const keyPrefix = "revlens"

// AnalyticsCache stores computed analytics responses per company. Each company
// has a generation counter; bumping it orphans every key written before.
type AnalyticsCache struct {
	store   Store
	ttl     time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewAnalyticsCache(store Store, ttl time.Duration, log *zap.Logger, m *metrics.Metrics) *AnalyticsCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &AnalyticsCache{
		store:   store,
		ttl:     ttl,
		log:     log.Named("cache.analytics"),
		metrics: m,
	}
}

func (c *AnalyticsCache) enabled() bool {
	return c != nil && c.store != nil && c.ttl > 0
}

// Entry is one cached response slot. The key is pinned to the company
// generation current when the entry was resolved, so a value computed before
// an Invalidate is written under the orphaned generation.
type Entry struct {
	cache    *AnalyticsCache
	endpoint string
	key      string
}

// Entry resolves the slot for endpoint and params. A disabled cache or a
// failed generation read yields an entry that never hits and never stores.
func (c *AnalyticsCache) Entry(ctx context.Context, companyID, endpoint, params string) Entry {
	if !c.enabled() {
		return Entry{}
	}
	key, err := c.key(ctx, companyID, endpoint, params)
	if err != nil {
		c.warn(ctx, "cache key failed", err)
		return Entry{}
	}
	return Entry{cache: c, endpoint: endpoint, key: key}
}

// Load decodes the cached response into dst and reports whether it was found.
func (e Entry) Load(ctx context.Context, dst interface{}) bool {
	if e.key == "" {
		return false
	}
	raw, ok, err := e.cache.store.Get(ctx, e.key)
	if err != nil {
		e.cache.warn(ctx, "cache get failed", err)
	}
	hit := ok && err == nil && json.Unmarshal(raw, dst) == nil
	e.cache.metrics.RecordCacheLookup(ctx, e.endpoint, hit)
	return hit
}

func (e Entry) Save(ctx context.Context, value interface{}) {
	if e.key == "" {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		e.cache.warn(ctx, "cache encode failed", err)
		return
	}
	if err := e.cache.store.Set(ctx, e.key, raw, e.cache.ttl); err != nil {
		e.cache.warn(ctx, "cache set failed", err)
	}
}

// Invalidate drops every cached response for companyID.
func (c *AnalyticsCache) Invalidate(ctx context.Context, companyID string) error {
	if !c.enabled() {
		return nil
	}
	_, err := c.store.Incr(ctx, generationKey(companyID))
	return err
}

func (c *AnalyticsCache) key(ctx context.Context, companyID, endpoint, params string) (string, error) {
	gen, err := c.store.Counter(ctx, generationKey(companyID))
	if err != nil {
		return "", err
	}
	return cacheKey(keyPrefix, "analytics", companyID, strconv.FormatInt(gen, 10), endpoint, params), nil
}

func (c *AnalyticsCache) warn(ctx context.Context, msg string, err error) {
	logger.WithContext(ctx, c.log).Warn(msg, zap.Error(err))
}

func generationKey(companyID string) string {
	return cacheKey(keyPrefix, "gen", companyID)
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, ":")
}

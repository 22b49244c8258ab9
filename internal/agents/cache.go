// Package agents resolves agent descriptors (display info, tool list,
// endpoint status) from the workspace catalog, fronted by a TTL cache
// with stale-while-revalidate background refresh.
package agents

import (
	"context"
	"sync"
	"time"

	"github.com/finchat-ai/finchat/internal/observability"
	"github.com/finchat-ai/finchat/pkg/models"
)

// DefaultTTL is how long a cached descriptor counts as fresh.
const DefaultTTL = 300 * time.Second

// DefaultRefreshTimeout bounds one background refresh fetch.
const DefaultRefreshTimeout = 20 * time.Second

// FetchFunc performs the (potentially slow, multi-call) descriptor lookup.
type FetchFunc func(ctx context.Context, key string) (*models.AgentDescriptor, error)

type cacheEntry struct {
	data       *models.AgentDescriptor
	fetchedAt  time.Time
	refreshing bool
}

// CacheConfig configures a descriptor cache.
type CacheConfig struct {
	TTL            time.Duration
	RefreshTimeout time.Duration
	Fetch          FetchFunc
	Logger         *observability.Logger
	Metrics        *observability.Metrics

	// Now overrides the clock. Tests only.
	Now func() time.Time

	// AfterRefresh runs when a background refresh finishes. Tests only.
	AfterRefresh func(key string, err error)
}

// Cache is a process-lifetime descriptor cache. Lookups on a fresh entry
// do no I/O; stale entries are returned immediately while at most one
// background refresh per key runs; cold keys pay the full fetch latency
// once. Entries are replaced in place and never deleted.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry

	ttl            time.Duration
	refreshTimeout time.Duration
	fetch          FetchFunc
	logger         *observability.Logger
	metrics        *observability.Metrics
	now            func() time.Time
	afterRefresh   func(key string, err error)
}

// NewCache creates a descriptor cache.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		entries:        map[string]*cacheEntry{},
		ttl:            cfg.TTL,
		refreshTimeout: cfg.RefreshTimeout,
		fetch:          cfg.Fetch,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		now:            cfg.Now,
		afterRefresh:   cfg.AfterRefresh,
	}
}

// GetOrFetch returns the descriptor for key. Callers never block on a
// refresh once a first fetch has succeeded; only a fully cold key performs
// a synchronous fetch.
func (c *Cache) GetOrFetch(ctx context.Context, key string) (*models.AgentDescriptor, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		age := c.now().Sub(entry.fetchedAt)
		if age < c.ttl {
			data := entry.data
			c.mu.Unlock()
			c.count("hit")
			return data, nil
		}

		// Stale: hand back the old payload and refresh behind the caller,
		// unless a refresh for this key is already in flight.
		if !entry.refreshing {
			entry.refreshing = true
			go c.refresh(key)
			c.count("refresh")
		}
		data := entry.data
		c.mu.Unlock()
		c.count("stale")
		c.logger.Debug(ctx, "serving stale agent descriptor", "key", key, "age", age.String())
		return data, nil
	}
	c.mu.Unlock()

	// Cold key: the first caller pays full latency. The fetch runs
	// unlocked so slow lookups don't serialize unrelated keys.
	c.count("miss")
	c.logger.Info(ctx, "agent descriptor cache miss", "key", key)
	data, err := c.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	c.store(key, data)
	return data, nil
}

func (c *Cache) refresh(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
	defer cancel()

	data, err := c.fetch(ctx, key)
	if err != nil {
		c.logger.Warn(ctx, "background descriptor refresh failed", "key", key, "error", err)
		c.count("refresh_error")
		// Clear the flag only; stale data stays available and the next
		// stale read retries.
		c.mu.Lock()
		if entry, ok := c.entries[key]; ok {
			entry.refreshing = false
		}
		c.mu.Unlock()
	} else {
		c.store(key, data)
	}

	if c.afterRefresh != nil {
		c.afterRefresh(key, err)
	}
}

func (c *Cache) store(key string, data *models.AgentDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cacheEntry{
		data:      data,
		fetchedAt: c.now(),
	}
}

func (c *Cache) count(outcome string) {
	if c.metrics != nil {
		c.metrics.CacheCounter.WithLabelValues(outcome).Inc()
	}
}

package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/logger"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"go.uber.org/zap"
)

const DefaultCatalogTTL = 5 * time.Minute

type cachedCatalog struct {
	value     []model.CatalogModel
	fetchedAt time.Time
	ttl       time.Duration
}

func (c cachedCatalog) fresh(now time.Time) bool {
	return now.Sub(c.fetchedAt) < c.ttl
}

// Catalog caches each provider's model list. Stale entries are refreshed on
// read; when the refresh fails the stale list is served.
type Catalog struct {
	upstream Upstream
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]cachedCatalog
}

func NewCatalog(upstream Upstream, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &Catalog{upstream: upstream, ttl: ttl, now: time.Now, entries: make(map[string]cachedCatalog)}
}

func (c *Catalog) Models(ctx context.Context, p model.Provider) ([]model.CatalogModel, error) {
	c.mu.RLock()
	e, ok := c.entries[p.ID]
	c.mu.RUnlock()
	if ok && e.fresh(c.now()) {
		return e.value, nil
	}

	models, err := c.fetch(ctx, p)
	if err != nil {
		if ok {
			logger.Log.Warn("catalog refresh failed, serving stale",
				zap.String("provider_id", p.ID),
				zap.Time("fetched_at", e.fetchedAt),
				zap.Error(err),
			)
			return e.value, nil
		}
		return nil, err
	}
	return models, nil
}

// Check refreshes the provider's catalog unconditionally. It backs the health prober.
func (c *Catalog) Check(ctx context.Context, p model.Provider) error {
	_, err := c.fetch(ctx, p)
	return err
}

// Invalidate drops the cached catalog of one provider.
func (c *Catalog) Invalidate(providerID string) {
	c.mu.Lock()
	delete(c.entries, providerID)
	c.mu.Unlock()
}

func (c *Catalog) fetch(ctx context.Context, p model.Provider) ([]model.CatalogModel, error) {
	models, err := c.upstream.ListModels(ctx, p)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[p.ID] = cachedCatalog{value: models, fetchedAt: c.now(), ttl: c.ttl}
	c.mu.Unlock()
	return models, nil
}

package persistence

import (
	"context"
	"time"

	"github.com/zjrosen/courier/internal/cachemanager"
	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/log"
)

// CachedStore fronts a SessionStore with a read-through, write-through
// document cache keyed by workspace id.
type CachedStore struct {
	inner domain.SessionStore
	docs  *cachemanager.ReadThroughCache[string, domain.SessionDocument, string]
	ttl   time.Duration
}

var _ domain.SessionStore = (*CachedStore)(nil)

// NewCachedStore wraps inner. A non-positive ttl disables caching.
func NewCachedStore(inner domain.SessionStore, cache cachemanager.CacheManager[string, domain.SessionDocument], ttl time.Duration) *CachedStore {
	return &CachedStore{
		inner: inner,
		docs:  cachemanager.NewReadThroughCache[string, domain.SessionDocument, string](cache, inner.Get, ttl <= 0),
		ttl:   ttl,
	}
}

// Get returns the cached document or reads it from the inner store. A read
// that overlaps an Update returns what it read but leaves the cache to the
// update.
func (c *CachedStore) Get(ctx context.Context, workspaceID string) (domain.SessionDocument, error) {
	doc, err := c.docs.GetWithRefresh(ctx, workspaceID, workspaceID, c.ttl)
	if err != nil {
		return domain.SessionDocument{}, err
	}
	return doc.Clone(), nil
}

// Update writes through to the inner store and caches the merged result. On
// failure the cached entry is dropped so the next read sees the store.
func (c *CachedStore) Update(ctx context.Context, workspaceID string, patch domain.SessionPatch) (domain.SessionDocument, error) {
	doc, err := c.inner.Update(ctx, workspaceID, patch)
	if err != nil {
		c.Invalidate(ctx, workspaceID)
		return domain.SessionDocument{}, err
	}
	if c.ttl > 0 {
		c.docs.Set(ctx, workspaceID, doc.Clone(), c.ttl)
	}
	return doc, nil
}

// Invalidate drops the cached document of workspaceID.
func (c *CachedStore) Invalidate(ctx context.Context, workspaceID string) {
	if err := c.docs.Delete(ctx, workspaceID); err != nil {
		log.ErrorErr(log.CatCache, "invalidate failed", err, "workspace", workspaceID)
	}
}

// Flush drops every cached document, e.g. after the database changed on disk.
func (c *CachedStore) Flush(ctx context.Context) {
	if err := c.docs.Flush(ctx); err != nil {
		log.ErrorErr(log.CatCache, "flush failed", err)
	}
}

// Close closes the inner store.
func (c *CachedStore) Close() error {
	return c.inner.Close()
}

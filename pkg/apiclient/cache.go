package apiclient

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// DefaultOrganizationCacheTTL matches how long the console treats an organization list as
// fresh.
const DefaultOrganizationCacheTTL = 5 * time.Minute

const organizationCacheEntries = 64

// CachedOrganizations caches organization pages for a TTL and collapses concurrent fetches
// of the same page into one request. Failures are not cached.
type CachedOrganizations struct {
	next    OrganizationLister
	cache   *lru.LRU[string, *Page[Organization]]
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewCachedOrganizations wraps next. A non-positive ttl uses DefaultOrganizationCacheTTL.
func NewCachedOrganizations(next OrganizationLister, ttl time.Duration, metrics *observability.Metrics) *CachedOrganizations {
	if ttl <= 0 {
		ttl = DefaultOrganizationCacheTTL
	}
	return &CachedOrganizations{
		next:    next,
		cache:   lru.NewLRU[string, *Page[Organization]](organizationCacheEntries, nil, ttl),
		metrics: metrics,
	}
}

// ListOrganizations returns a cached page or fetches it.
func (c *CachedOrganizations) ListOrganizations(ctx context.Context, page, size int) (*Page[Organization], error) {
	key := fmt.Sprintf("%d:%d", page, size)
	if p, ok := c.cache.Get(key); ok {
		c.metrics.RecordOrganizationCache(true)
		return p, nil
	}
	c.metrics.RecordOrganizationCache(false)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		p, err := c.next.ListOrganizations(ctx, page, size)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Page[Organization]), nil
}

// Purge drops every cached page. Called when the signed-in user changes.
func (c *CachedOrganizations) Purge() {
	c.cache.Purge()
}

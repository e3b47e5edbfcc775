package cache

import (
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/erp/settlement/internal/domain/refund"
)

// DefaultStatisticsTTL is how long refund statistics are served from memory
const DefaultStatisticsTTL = 30 * time.Second

// StatisticsCache keeps refund statistics per tenant for a short TTL.
// The refund service invalidates a tenant's entry on every write, so the TTL
// only bounds staleness from writes made by other instances.
type StatisticsCache struct {
	entries *gocache.Cache
}

// NewStatisticsCache creates a statistics cache. A non-positive ttl uses
// DefaultStatisticsTTL.
func NewStatisticsCache(ttl time.Duration) *StatisticsCache {
	if ttl <= 0 {
		ttl = DefaultStatisticsTTL
	}
	return &StatisticsCache{entries: gocache.New(ttl, 2*ttl)}
}

// Get returns a copy of the cached statistics for tenantID
func (c *StatisticsCache) Get(tenantID uuid.UUID) (*refund.Statistics, bool) {
	v, found := c.entries.Get(tenantID.String())
	if !found {
		return nil, false
	}
	stats := v.(refund.Statistics)
	return &stats, true
}

// Set stores statistics for tenantID with the default TTL
func (c *StatisticsCache) Set(tenantID uuid.UUID, stats *refund.Statistics) {
	if stats == nil {
		return
	}
	c.entries.SetDefault(tenantID.String(), *stats)
}

// Invalidate drops the entry for tenantID
func (c *StatisticsCache) Invalidate(tenantID uuid.UUID) {
	c.entries.Delete(tenantID.String())
}

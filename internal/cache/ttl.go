package cache

import (
	"time"

	"github.com/claimcheck/backend/internal/models"
	gocache "github.com/patrickmn/go-cache"
)

// TTLCache expires entries a fixed time after they were written.
type TTLCache struct {
	cache *gocache.Cache
	ttl   time.Duration
}

// NewTTLCache creates a TTL cache. A non-positive ttl keeps entries forever.
func NewTTLCache(ttl time.Duration, cleanupInterval time.Duration) *TTLCache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &TTLCache{
		cache: gocache.New(ttl, cleanupInterval),
		ttl:   ttl,
	}
}

func (c *TTLCache) Get(fingerprint string) (*models.Verdict, bool) {
	val, found := c.cache.Get(fingerprint)
	if !found {
		return nil, false
	}
	v := val.(models.Verdict)
	return &v, true
}

func (c *TTLCache) Put(fingerprint string, v models.Verdict) bool {
	// Add fails when a live entry exists, which gives first-writer-wins.
	return c.cache.Add(fingerprint, v, gocache.DefaultExpiration) == nil
}

func (c *TTLCache) Len() int {
	return c.cache.ItemCount()
}

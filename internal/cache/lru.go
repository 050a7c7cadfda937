package cache

import (
	"container/list"
	"sync"

	"github.com/claimcheck/backend/internal/models"
)

// LRUCache bounds the number of entries, evicting the least recently read.
type LRUCache struct {
	mu         sync.Mutex
	maxEntries int
	ll         *list.List
	items      map[string]*list.Element
}

type lruEntry struct {
	key     string
	verdict models.Verdict
}

func NewLRUCache(maxEntries int) *LRUCache {
	return &LRUCache{
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

func (c *LRUCache) Get(fingerprint string) (*models.Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[fingerprint]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	v := el.Value.(*lruEntry).verdict
	return &v, true
}

func (c *LRUCache) Put(fingerprint string, v models.Verdict) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[fingerprint]; ok {
		return false
	}
	c.items[fingerprint] = c.ll.PushFront(&lruEntry{key: fingerprint, verdict: v})
	for c.ll.Len() > c.maxEntries {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
	return true
}

func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

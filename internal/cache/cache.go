package cache

import (
	"fmt"
	"time"

	"github.com/claimcheck/backend/internal/models"
)

// Cache maps a content fingerprint to an automatic verdict. Entries are
// immutable: the first Put for a fingerprint wins and later ones are ignored.
// Reviewer decisions are never cached.
type Cache interface {
	Get(fingerprint string) (*models.Verdict, bool)
	// Put stores v unless an entry already exists and reports whether it stored.
	Put(fingerprint string, v models.Verdict) bool
	Len() int
}

// Options selects and tunes the eviction policy.
type Options struct {
	Policy     string // "ttl" or "lru"
	TTL        time.Duration
	MaxEntries int
}

// New builds a cache for the configured eviction policy.
func New(opts Options) (Cache, error) {
	switch opts.Policy {
	case "", "ttl":
		return NewTTLCache(opts.TTL, 10*time.Minute), nil
	case "lru":
		if opts.MaxEntries <= 0 {
			return nil, fmt.Errorf("lru cache needs a positive max entries, got %d", opts.MaxEntries)
		}
		return NewLRUCache(opts.MaxEntries), nil
	default:
		return nil, fmt.Errorf("unknown cache policy: %s (supported: ttl, lru)", opts.Policy)
	}
}

package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/sells-group/pipeline-intel/internal/model"
)

// Cache is a keyed artifact store with a TTL. Expiry is judged against an
// injectable clock so tests can move time; go-cache only holds the entries.
type Cache struct {
	ttl     time.Duration
	items   *gocache.Cache
	nowFunc func() time.Time
}

type cacheEntry struct {
	artifact  model.Artifact
	expiresAt time.Time
}

// NewCache creates a Cache whose entries live for ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		items:   gocache.New(gocache.NoExpiration, 0),
		nowFunc: time.Now,
	}
}

// SetClock overrides the cache's time source.
func (c *Cache) SetClock(now func() time.Time) { c.nowFunc = now }

// Get returns the live artifact stored under key.
func (c *Cache) Get(key string) (model.Artifact, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return model.Artifact{}, false
	}
	e := v.(cacheEntry)
	if !c.nowFunc().Before(e.expiresAt) {
		c.items.Delete(key)
		return model.Artifact{}, false
	}
	return e.artifact, true
}

// Set stores a under key for the cache TTL.
func (c *Cache) Set(key string, a model.Artifact) {
	c.items.Set(key, cacheEntry{artifact: a, expiresAt: c.nowFunc().Add(c.ttl)}, gocache.NoExpiration)
}

// Purge drops expired entries and returns how many were removed.
func (c *Cache) Purge() int {
	now := c.nowFunc()
	var n int
	for k, item := range c.items.Items() {
		if e, ok := item.Object.(cacheEntry); ok && !now.Before(e.expiresAt) {
			c.items.Delete(k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int { return c.items.ItemCount() }

// CacheKey is a stable hash of the inputs that shape a drafted artifact:
// entity, stage, action and top reasons.
func CacheKey(req Request) string {
	h := sha256.New()
	for _, part := range []string{req.EntityID, string(req.Stage), string(req.Action), strings.Join(req.Reasons, "\x1f")} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

package toolclient

import (
	"sync"
	"time"

	"github.com/Yinuo-Yao/xhs-recipe/internal/post"
)

const (
	cacheTTL        = 5 * time.Minute
	cacheMaxEntries = 50
)

type cacheEntry struct {
	at   time.Time
	post *post.Post
}

// postCache is a TTL- and size-bounded cache of fetched posts, keyed by the
// originally requested URL. Oldest entries are evicted first.
type postCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	order   []string // insertion order, oldest first
	now     func() time.Time
}

func newPostCache() *postCache {
	return &postCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// get returns the cached post for key, treating expired entries as absent.
func (c *postCache) get(key string) (*post.Post, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.at) > cacheTTL {
		delete(c.entries, key)
		c.removeFromOrder(key)
		return nil, false
	}
	return entry.post, true
}

// put stores p under key, evicting the oldest entry when full.
func (c *postCache) put(key string, p *post.Post) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.removeFromOrder(key)
	} else if len(c.entries) >= cacheMaxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = cacheEntry{at: c.now(), post: p}
	c.order = append(c.order, key)
}

func (c *postCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.order = nil
}

func (c *postCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

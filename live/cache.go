package live

import (
	"sync"
	"time"

	"hockey-notifier/pkg/notifier"
)

// cache is the process-local fallback write target. It is lost on restart
// and is never read back into the primary.
type cache struct {
	docs map[string]*notifier.LiveMatch
	mu   sync.Mutex
}

func newCache() *cache {
	return &cache{docs: make(map[string]*notifier.LiveMatch)}
}

// mutate applies fn to the cached document, creating it when create is set.
// It returns false when the document is absent and create is not set.
func (c *cache) mutate(key string, create bool, now time.Time, fn func(*notifier.LiveMatch)) (*notifier.LiveMatch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.docs[key]
	if !ok {
		if !create {
			return nil, false
		}
		m = notifier.NewLiveMatch(key, now)
		c.docs[key] = m
	}
	fn(m)
	m.LastUpdated = now
	return m.Clone(), true
}

func (c *cache) remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.docs[key]
	delete(c.docs, key)
	return ok
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

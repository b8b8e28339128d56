package quality

import (
	"image"
	"sync"
)

// grayCache holds decoded grayscale images up to a fixed number of entries.
// Once full it stops accepting new entries; nothing is ever evicted.
type grayCache struct {
	mu    sync.Mutex
	limit int
	items map[string]*image.Gray
}

func newGrayCache(limit int) *grayCache {
	return &grayCache{limit: limit, items: make(map[string]*image.Gray)}
}

func (c *grayCache) get(path string) (*image.Gray, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.items[path]
	return g, ok
}

// put stores g unless the cache is already at its limit. Two workers racing on
// the same path both decode it; the second put overwrites with an equal image.
func (c *grayCache) put(path string, g *image.Gray) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[path]; !ok && len(c.items) >= c.limit {
		return
	}
	c.items[path] = g
}

func (c *grayCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *grayCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*image.Gray)
}

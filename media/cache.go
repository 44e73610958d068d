package media

import (
	"ffedit/geometry"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache keeps probed clip sizes with least-recently-used eviction.
type Cache struct {
	entries *lru.Cache[string, geometry.Size]
}

// NewCache returns a cache holding at most max entries. A max below one
// is treated as one.
func NewCache(max int) *Cache {
	if max < 1 {
		max = 1
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[string, geometry.Size](max)
	return &Cache{entries: entries}
}

func (c *Cache) Get(path string) (geometry.Size, bool) {
	return c.entries.Get(path)
}

func (c *Cache) Put(path string, size geometry.Size) {
	c.entries.Add(path, size)
}

// Evict forgets path, e.g. after the file changed on disk.
func (c *Cache) Evict(path string) {
	c.entries.Remove(path)
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

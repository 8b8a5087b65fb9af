package ontology

import (
	"container/list"
	"strings"
	"sync"
)

// CachedRepository is a bounded LRU read-through cache in front of a
// Repository. Lookups are keyed by entity identifier; Evict removes every
// cached value for one entity and Purge drops the whole cache, which the
// reload watcher calls after swapping the underlying graph.
type CachedRepository struct {
	inner   Repository
	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List
	maxSize int
}

type cacheItem struct {
	key    string
	values []string
	ok     bool
}

// NewCachedRepository wraps inner with a cache of at most maxSize entries.
func NewCachedRepository(inner Repository, maxSize int) *CachedRepository {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &CachedRepository{
		inner:   inner,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// GetProperty implements Repository.
func (c *CachedRepository) GetProperty(entity, property string) (string, bool) {
	values := c.GetDataValues(entity, property)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// GetDataValues implements Repository.
func (c *CachedRepository) GetDataValues(entity, property string) []string {
	values, _ := c.lookup(entity, "data", property, func() ([]string, bool) {
		return c.inner.GetDataValues(entity, property), true
	})
	return values
}

// GetRelated implements Repository.
func (c *CachedRepository) GetRelated(entity, relation string) []string {
	values, _ := c.lookup(entity, "rel", relation, func() ([]string, bool) {
		return c.inner.GetRelated(entity, relation), true
	})
	return values
}

// ClassOf implements Repository.
func (c *CachedRepository) ClassOf(entity string) (string, bool) {
	values, ok := c.lookup(entity, "class", "", func() ([]string, bool) {
		class, ok := c.inner.ClassOf(entity)
		if !ok {
			return nil, false
		}
		return []string{class}, true
	})
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Label implements Repository.
func (c *CachedRepository) Label(entity string) string {
	values, _ := c.lookup(entity, "label", "", func() ([]string, bool) {
		return []string{c.inner.Label(entity)}, true
	})
	if len(values) == 0 {
		return entity
	}
	return values[0]
}

// QueryInstances is not cached: pattern results depend on the whole graph.
func (c *CachedRepository) QueryInstances(p Pattern) []string {
	return c.inner.QueryInstances(p)
}

// Evict removes all cached lookups for one entity.
func (c *CachedRepository) Evict(entity string) {
	prefix := entity + "\x00"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, elem := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(elem)
			delete(c.items, key)
		}
	}
}

// Purge drops the whole cache.
func (c *CachedRepository) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.lru.Init()
}

// Len returns the number of cached entries.
func (c *CachedRepository) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *CachedRepository) lookup(entity, kind, name string, load func() ([]string, bool)) ([]string, bool) {
	key := entity + "\x00" + kind + "\x00" + name

	c.mu.Lock()
	if elem, exists := c.items[key]; exists {
		c.lru.MoveToFront(elem)
		item := elem.Value.(*cacheItem)
		values := make([]string, len(item.values))
		copy(values, item.values)
		c.mu.Unlock()
		return values, item.ok
	}
	c.mu.Unlock()

	values, ok := load()

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, exists := c.items[key]; exists {
		c.lru.MoveToFront(elem)
		item := elem.Value.(*cacheItem)
		return item.values, item.ok
	}
	stored := make([]string, len(values))
	copy(stored, values)
	c.items[key] = c.lru.PushFront(&cacheItem{key: key, values: stored, ok: ok})
	for len(c.items) > c.maxSize {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheItem).key)
	}
	return values, ok
}

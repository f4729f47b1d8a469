package grid

import (
	"container/list"
	"context"
	"sync"
)

// CachedLoader keeps the most recently decoded fields in memory. The hindcast
// file is shared by every forecast year, so a run decodes it once.
type CachedLoader struct {
	inner   Loader
	max     int
	observe func(hit bool)

	mu    sync.Mutex
	order *list.List // front is most recently used
	items map[cacheKey]*list.Element
}

type cacheKey struct {
	path     string
	variable string
	start    string
}

type cached struct {
	key   cacheKey
	field *EnsembleField
}

// NewCachedLoader wraps inner with an LRU of at most maxEntries fields.
func NewCachedLoader(inner Loader, maxEntries int) *CachedLoader {
	return &CachedLoader{
		inner: inner,
		max:   max(maxEntries, 1),
		order: list.New(),
		items: make(map[cacheKey]*list.Element),
	}
}

// Load serves path from memory or decodes it through the inner loader.
// Failed loads are not remembered.
func (c *CachedLoader) Load(ctx context.Context, path string, schema Schema) (*EnsembleField, error) {
	key := cacheKey{path: path, variable: schema.Variable}
	if len(schema.Start) > 0 {
		key.start = schema.Start[0]
	}
	f, hit := c.lookup(key)
	if c.observe != nil {
		c.observe(hit)
	}
	if hit {
		return f, nil
	}

	f, err := c.inner.Load(ctx, path, schema)
	if err != nil {
		return nil, err
	}
	c.store(key, f)
	return f, nil
}

// Observe registers fn to be called with the outcome of every lookup.
func (c *CachedLoader) Observe(fn func(hit bool)) {
	c.observe = fn
}

// Len reports the number of cached fields.
func (c *CachedLoader) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *CachedLoader) lookup(key cacheKey) (*EnsembleField, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cached).field, true
}

func (c *CachedLoader) store(key cacheKey, f *EnsembleField) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*cached).field = f
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&cached{key: key, field: f})
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cached).key)
	}
}

// Package tilecache implements a process-wide, cost-weighted LRU tile
// cache whose eviction can be vetoed per entry.
package tilecache

import (
	"container/list"
	"sync"

	"github.com/skyatlas/hipscore/tile"
)

// DefaultBudget is the default total cost budget, in bytes.
const DefaultBudget int64 = 256 * 1024 * 1024

// Verdict is returned by an eviction veto callback.
type Verdict int

const (
	Drop Verdict = iota
	Keep
)

// OnEvict is consulted, in LRU order, while the cache is over budget. It
// must not mutate the cache; it runs on the caller's goroutine during a
// single eviction sweep.
type OnEvict func(key tile.Key, entry *tile.Entry) Verdict

type record struct {
	key     tile.Key
	entry   *tile.Entry
	cost    int64
	onEvict OnEvict
	elem    *list.Element
}

// Cache is a bounded, cost-weighted, LRU-with-veto keyed store. All
// methods are safe for concurrent use, serialized behind a single lock.
type Cache struct {
	mu        sync.Mutex
	budget    int64
	totalCost int64
	entries   map[tile.Key]*record
	lru       *list.List // front = most recently used
}

// New creates a cache bounded by budget bytes of total entry cost.
func New(budget int64) *Cache {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Cache{
		budget:  budget,
		entries: make(map[tile.Key]*record),
		lru:     list.New(),
	}
}

var (
	sharedOnce  sync.Once
	sharedCache *Cache
)

// Shared returns the single process-wide cache instance, lazily
// constructed on first use.
func Shared() *Cache {
	sharedOnce.Do(func() {
		sharedCache = New(DefaultBudget)
	})
	return sharedCache
}

// Get returns the entry for key, marking it most-recently-used.
func (c *Cache) Get(key tile.Key) (*tile.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(r.elem)
	return r.entry, true
}

// Put inserts or replaces the entry for key with the given cost and
// veto callback, then immediately evicts LRU entries until the cache
// fits its budget or every remaining candidate vetoes.
func (c *Cache) Put(key tile.Key, entry *tile.Entry, cost int64, onEvict OnEvict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.totalCost -= old.cost
		c.lru.Remove(old.elem)
	}

	r := &record{key: key, entry: entry, cost: cost, onEvict: onEvict}
	r.elem = c.lru.PushFront(r)
	c.entries[key] = r
	c.totalCost += cost

	c.evictLocked()
}

// SetCost adjusts the cost of an already-resident entry, e.g. once a
// background decode reports the true payload size.
func (c *Cache) SetCost(key tile.Key, newCost int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.entries[key]
	if !ok {
		return
	}
	c.totalCost += newCost - r.cost
	r.cost = newCost

	c.evictLocked()
}

// Delete removes key unconditionally, without consulting its veto.
// Used for cache resets (e.g. survey teardown); not used by ordinary
// eviction pressure.
func (c *Cache) Delete(key tile.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	c.lru.Remove(r.elem)
	c.totalCost -= r.cost
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TotalCost returns the current total cost of resident entries. This may
// exceed Budget when every candidate for eviction vetoes; that is
// accepted, not a bug.
func (c *Cache) TotalCost() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCost
}

// Budget returns the configured cost budget.
func (c *Cache) Budget() int64 {
	return c.budget
}

// evictLocked walks the LRU chain from the back (oldest) while the cache
// is over budget, removing entries whose veto allows it. If every
// remaining candidate vetoes, the sweep stops and the cache is left over
// budget; this is the documented, accepted pathological case.
func (c *Cache) evictLocked() {
	if c.totalCost <= c.budget {
		return
	}

	elem := c.lru.Back()
	for elem != nil && c.totalCost > c.budget {
		r := elem.Value.(*record)
		next := elem.Prev()

		verdict := Drop
		if r.onEvict != nil {
			verdict = r.onEvict(r.key, r.entry)
		}
		if verdict == Keep {
			elem = next
			continue
		}

		delete(c.entries, r.key)
		c.lru.Remove(elem)
		c.totalCost -= r.cost

		elem = next
	}
}

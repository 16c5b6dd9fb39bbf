// Package cache keeps translations between calls: an in-memory LRU owned by
// each translation manager, and an optional SQLite store that survives
// across runs.
package cache

import (
	"container/list"
	"sync"
)

// DefaultCapacity is the LRU size used when none is given.
const DefaultCapacity = 20000

// Key identifies a translation.
type Key struct {
	Engine     string
	SourceLang string
	TargetLang string
	Text       string
}

type lruEntry struct {
	key   Key
	value string
}

// LRU is a fixed-capacity least-recently-used map. It is safe for
// concurrent use.
type LRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[Key]*list.Element
	hits     int
	misses   int
}

// NewLRU returns an LRU holding at most capacity entries.
func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &LRU{capacity: capacity, order: list.New(), items: make(map[Key]*list.Element)}
}

// Get returns the value for k and marks it recently used.
func (c *LRU) Get(k Key) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[k]
	if !ok {
		c.misses++
		return "", false
	}
	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).value, true
}

// Put stores v under k, evicting the least recently used entry when full.
func (c *LRU) Put(k Key, v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[k]; ok {
		el.Value.(*lruEntry).value = v
		c.order.MoveToFront(el)
		return
	}
	c.items[k] = c.order.PushFront(&lruEntry{key: k, value: v})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
}

// Len returns the number of entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns the hit and miss counters.
func (c *LRU) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Clear drops every entry.
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[Key]*list.Element)
}

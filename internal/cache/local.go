package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// LocalCache is an in-process aggregate cache bounded by the total size of
// its encoded values. Least-recently-used entries are evicted first and
// expired entries are dropped on read.
type LocalCache struct {
	mu       sync.Mutex
	prefix   string
	ttl      time.Duration
	maxBytes int64
	curBytes int64
	now      func() time.Time

	// items maps key → list element (whose value is *localEntry)
	items map[string]*list.Element
	order *list.List // front = most recently used

	generations map[string]int64
}

type localEntry struct {
	key     string
	data    []byte
	expires time.Time
}

// NewLocalCache creates an in-process cache. maxBytes defaults to 64 MB.
func NewLocalCache(prefix string, ttl time.Duration, maxBytes int64) *LocalCache {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "eventlens"
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	return &LocalCache{
		prefix:      prefix,
		ttl:         ttl,
		maxBytes:    maxBytes,
		now:         time.Now,
		items:       make(map[string]*list.Element),
		order:       list.New(),
		generations: make(map[string]int64),
	}
}

// Key derives the cache key of an operation over a scope.
func (c *LocalCache) Key(_ context.Context, op, scope, params string) (string, error) {
	c.mu.Lock()
	gen := c.generations[scopeName(scope)]
	c.mu.Unlock()
	return formatKey(c.prefix, op, scope, gen, params), nil
}

// Get decodes the value at key into dest. On hit the entry is promoted to
// most-recently-used.
func (c *LocalCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	elem, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	entry := elem.Value.(*localEntry)
	if !c.now().Before(entry.expires) {
		c.removeLocked(elem)
		c.mu.Unlock()
		return false, nil
	}
	c.order.MoveToFront(elem)
	data := entry.data
	c.mu.Unlock()

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode cache entry: %w", err)
	}
	return true, nil
}

// Set stores value at key. If adding it exceeds maxBytes, LRU entries are
// evicted; a single value larger than maxBytes is not stored.
func (c *LocalCache) Set(_ context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	size := int64(len(data))
	if size > c.maxBytes {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if elem, ok := c.items[key]; ok {
		old := elem.Value.(*localEntry)
		c.curBytes += size - int64(len(old.data))
		old.data = data
		old.expires = expires
		c.order.MoveToFront(elem)
	} else {
		c.items[key] = c.order.PushFront(&localEntry{key: key, data: data, expires: expires})
		c.curBytes += size
	}

	for c.curBytes > c.maxBytes && c.order.Len() > 1 {
		c.removeLocked(c.order.Back())
	}
	return nil
}

// Invalidate bumps the generation of each named scope and of the unscoped view.
func (c *LocalCache) Invalidate(_ context.Context, scopes ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[allScope]++
	for _, scope := range scopes {
		if scope != "" {
			c.generations[scope]++
		}
	}
	return nil
}

// removeLocked drops one entry. Caller must hold c.mu.
func (c *LocalCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*localEntry)
	c.order.Remove(elem)
	delete(c.items, entry.key)
	c.curBytes -= int64(len(entry.data))
}

// Size returns the current total cached size in bytes.
func (c *LocalCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

// Len returns the number of cached entries.
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close drops every entry.
func (c *LocalCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.curBytes = 0
	return nil
}

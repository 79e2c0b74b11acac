// Package cache memoizes execution results for read-only commands.
// The cache is an optimization only: a cold or disabled cache changes
// latency, never behavior.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/aishell/aish/pkg/command"
)

// Key fingerprints a command: normalized text plus the environment
// state that affects its output (the working directory).
type Key string

// KeyFor derives the cache key. Text is whitespace-normalized so
// trivially reformatted commands share an entry.
func KeyFor(text, cwd string) Key {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(normalized + "\x00" + cwd))
	return Key(hex.EncodeToString(sum[:]))
}

type entry struct {
	key       Key
	result    command.Result
	expiresAt time.Time
}

// Cache is a TTL-bounded LRU, safe for concurrent use by multiple
// orchestrators. Entries are never mutated after insertion.
type Cache struct {
	mu         sync.Mutex
	entries    map[Key]*list.Element
	order      *list.List // front = most recently used
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

// New builds a cache holding at most maxEntries results. A zero ttl
// disables expiry and leaves eviction to the LRU bound alone.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache{
		entries:    make(map[Key]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns the cached result for key. Expiry is checked lazily:
// a stale entry is removed here rather than by a background thread.
func (c *Cache) Get(key Key) (command.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return command.Result{}, false
	}
	en := el.Value.(*entry)
	if !en.expiresAt.IsZero() && c.now().After(en.expiresAt) {
		c.remove(el)
		return command.Result{}, false
	}
	c.order.MoveToFront(el)
	return en.result, true
}

// Put inserts a result under the cache's default TTL.
func (c *Cache) Put(key Key, res command.Result) {
	c.PutTTL(key, res, c.ttl)
}

// PutTTL inserts a result with an explicit TTL; zero means no expiry.
func (c *Cache) PutTTL(key Key, res command.Result, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}

	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
	el := c.order.PushFront(&entry{key: key, result: res, expiresAt: expires})
	c.entries[key] = el

	for c.order.Len() > c.maxEntries {
		c.remove(c.order.Back())
	}
}

// Sweep removes all expired entries and reports how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	now := c.now()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		en := el.Value.(*entry)
		if !en.expiresAt.IsZero() && now.After(en.expiresAt) {
			c.remove(el)
			dropped++
		}
		el = prev
	}
	return dropped
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*list.Element)
	c.order.Init()
}

// Len reports the number of live entries (including not-yet-swept
// expired ones).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// remove expects the lock to be held.
func (c *Cache) remove(el *list.Element) {
	if el == nil {
		return
	}
	en := el.Value.(*entry)
	delete(c.entries, en.key)
	c.order.Remove(el)
}

// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package dedup

import (
	"sync"
	"time"
)

// seenEntry is a node in the seen-key LRU, mapping a normalized natural
// key to the record id it resolved to.
type seenEntry struct {
	key       string
	recordID  string
	prev      *seenEntry
	next      *seenEntry
	expiresAt time.Time
}

// SeenCache is a thread-safe LRU of natural key to record id with TTL.
// It fronts the store's natural-key lookup on the hot ingestion path:
// a hit skips one storage read per duplicate candidate. Entries expire
// lazily so deleted records fall out within the TTL window.
//
// O(1) Get, Add, Remove and eviction via a doubly-linked list plus a map,
// with sentinel head and tail nodes.
type SeenCache struct {
	mu sync.RWMutex

	capacity int
	ttl      time.Duration

	items map[string]*seenEntry

	// head.next is most recently used, tail.prev least recently used.
	head *seenEntry
	tail *seenEntry

	hits   int64
	misses int64
}

// NewSeenCache creates a cache holding up to capacity keys for ttl.
func NewSeenCache(capacity int, ttl time.Duration) *SeenCache {
	if capacity <= 0 {
		capacity = 100000
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	c := &SeenCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*seenEntry, capacity),
		head:     &seenEntry{},
		tail:     &seenEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get returns the record id cached for the key, if present and fresh.
// Hits are moved to the front.
func (c *SeenCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.items[key]; exists {
		if time.Now().After(entry.expiresAt) {
			c.removeEntry(entry)
			c.misses++
			return "", false
		}
		c.moveToFront(entry)
		c.hits++
		return entry.recordID, true
	}
	c.misses++
	return "", false
}

// Add records or refreshes the key's record id, evicting the least
// recently used entry when over capacity.
func (c *SeenCache) Add(key, recordID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)
	if entry, exists := c.items[key]; exists {
		entry.recordID = recordID
		entry.expiresAt = expiresAt
		c.moveToFront(entry)
		return
	}

	entry := &seenEntry{key: key, recordID: recordID, expiresAt: expiresAt}
	c.addToFront(entry)
	c.items[key] = entry

	for len(c.items) > c.capacity {
		c.evictOldest()
	}
}

// Remove drops the key. Returns true if it was present.
func (c *SeenCache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.items[key]; exists {
		c.removeEntry(entry)
		return true
	}
	return false
}

// Len returns the current entry count.
func (c *SeenCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns hit/miss counters and current size.
func (c *SeenCache) Stats() (hits, misses int64, size int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, len(c.items)
}

// CleanupExpired removes expired entries, returning the count removed.
func (c *SeenCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for entry := c.tail.prev; entry != c.head; {
		prev := entry.prev
		if now.After(entry.expiresAt) {
			c.removeEntry(entry)
			removed++
		}
		entry = prev
	}
	return removed
}

// List maintenance, lock held.

func (c *SeenCache) addToFront(entry *seenEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *SeenCache) moveToFront(entry *seenEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	c.addToFront(entry)
}

func (c *SeenCache) removeEntry(entry *seenEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.items, entry.key)
}

func (c *SeenCache) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.removeEntry(oldest)
}

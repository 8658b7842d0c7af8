// ABOUTME: TTL cache for client message-id deduplication
// ABOUTME: A resent message id inside the window is re-acked, never reprocessed

package dedupe

import (
	"sync"
	"time"
)

type entry struct {
	key      string
	markedAt time.Time
}

// Cache tracks recently seen client message ids per conversation. Ids expire
// after the TTL and the cache is capped; once full, the oldest id is dropped.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	queue   []entry // insertion order, oldest first
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a dedupe cache. A background sweep removes expired ids once a
// minute; Seen also evicts lazily, so the sweep only bounds memory.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Seen atomically checks whether the message id was already processed for
// this conversation and marks it if not. Returns true for a duplicate.
func (c *Cache) Seen(conversationID, messageID string) bool {
	if messageID == "" {
		return false // anonymous messages are never duplicates
	}
	key := conversationID + "\x00" + messageID

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if markedAt, ok := c.seen[key]; ok && now.Sub(markedAt) < c.ttl {
		return true
	}

	c.evictExpired(now)
	for len(c.seen) >= c.maxSize && len(c.queue) > 0 {
		c.dropOldest()
	}

	c.seen[key] = now
	c.queue = append(c.queue, entry{key: key, markedAt: now})
	return false
}

// Forget releases a marked id so a retry of the same message is processed.
// Used when a send was rejected after the mark was already taken.
func (c *Cache) Forget(conversationID, messageID string) {
	if messageID == "" {
		return
	}
	key := conversationID + "\x00" + messageID

	c.mu.Lock()
	delete(c.seen, key)
	c.mu.Unlock()
}

// Len returns the number of live ids. Test helper.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// evictExpired drops expired entries from the front of the queue.
// Must be called with mu held.
func (c *Cache) evictExpired(now time.Time) {
	for len(c.queue) > 0 && now.Sub(c.queue[0].markedAt) >= c.ttl {
		c.dropOldest()
	}
}

// dropOldest removes the queue head. A stale head whose key was re-marked
// later is skipped without touching the map. Must be called with mu held.
func (c *Cache) dropOldest() {
	head := c.queue[0]
	c.queue = c.queue[1:]
	if markedAt, ok := c.seen[head.key]; ok && markedAt.Equal(head.markedAt) {
		delete(c.seen, head.key)
	}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.evictExpired(time.Now())
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// Close stops the background sweep. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

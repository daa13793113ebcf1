// Package seq implements MsgSeqCounter: a strictly increasing msg_seq per
// inbound message id, per spec.md §4.3.
package seq

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// MaxEntries bounds the LRU so long-running processes don't leak memory
// over messages that will never be replied to again.
const MaxEntries = 1000

// base100M is the per-process offset, derived from startup wallclock mod
// 10^8, so sequences don't collide with a prior process's numbering
// after a restart (spec.md §4.3).
const base100M = 100_000_000

// Counter serves the next msg_seq for any inbound messageId.
type Counter struct {
	mu    sync.Mutex
	cache *lru.Cache
	base  int64
}

// New creates a Counter seeded from the current wallclock.
func New() *Counter {
	return newWithBase(time.Now().UnixNano()/int64(time.Millisecond) % base100M)
}

func newWithBase(base int64) *Counter {
	cache, err := lru.New(MaxEntries)
	if err != nil {
		// lru.New only fails for a non-positive size, which MaxEntries
		// never is.
		panic(err)
	}
	return &Counter{cache: cache, base: base}
}

// Next returns the next strictly-increasing sequence for messageId.
func (c *Counter) Next(messageID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	if v, ok := c.cache.Get(messageID); ok {
		n = v.(int64)
	}
	n++
	c.cache.Add(messageID, n)
	return c.base + n
}

// Len reports the number of distinct message ids currently tracked.
func (c *Counter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

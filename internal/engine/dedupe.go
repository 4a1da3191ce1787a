package engine

import (
	"sync"
	"time"
)

type dedupeKey struct {
	session string
	ts      int64
}

// DedupeCache suppresses frames replayed by more than one transport: the
// same session and capture timestamp seen again within the TTL.
type DedupeCache struct {
	mu    sync.Mutex
	items map[dedupeKey]time.Time
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[dedupeKey]time.Time)}
}

func (d *DedupeCache) Seen(sessionID string, frameTS, now time.Time, ttl time.Duration) bool {
	key := dedupeKey{session: sessionID, ts: frameTS.UnixNano()}
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok {
		if now.Sub(ts) <= ttl {
			return true
		}
	}
	d.items[key] = now
	if len(d.items) > 10000 {
		d.compact(now, ttl)
	}
	return false
}

func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}

func (d *DedupeCache) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = make(map[dedupeKey]time.Time)
}

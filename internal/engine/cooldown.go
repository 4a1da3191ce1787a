package engine

import (
	"strings"
	"sync"
	"time"
)

// Cooldown rate-limits alerts per key. Keys are session|alert type and time
// is taken from the frame, so replayed streams behave like live ones.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

func (c *Cooldown) Allow(sessionID, alertType string, at time.Time, cooldown time.Duration) bool {
	return c.AllowKey(sessionID+"|"+alertType, at, cooldown)
}

func (c *Cooldown) AllowKey(key string, at time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok {
		if d := at.Sub(ts); d >= 0 && d < cooldown {
			return false
		}
	}
	c.last[key] = at
	return true
}

// Forget drops every key belonging to a session.
func (c *Cooldown) Forget(sessionID string) {
	prefix := sessionID + "|"
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.last {
		if strings.HasPrefix(k, prefix) {
			delete(c.last, k)
		}
	}
}

func (c *Cooldown) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = make(map[string]time.Time)
}

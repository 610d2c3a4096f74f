package detector

import (
	"sync"
	"time"
)

// Cooldown suppresses repeated opportunities for the same token within a
// time-to-live window. It is safe for concurrent use.
type Cooldown struct {
	seen map[string]time.Time // tokenID -> last emitted
	ttl  time.Duration
	mu   sync.Mutex
	now  func() time.Time
}

// NewCooldown creates a Cooldown with the given ttl.
func NewCooldown(ttl time.Duration) *Cooldown {
	return &Cooldown{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Active returns true if tokenID was recorded within the TTL window.
// Otherwise it records tokenID and returns false. Expired entries are
// swept on each call.
func (c *Cooldown) Active(tokenID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, ts := range c.seen {
		if now.Sub(ts) >= c.ttl {
			delete(c.seen, id)
		}
	}
	if last, ok := c.seen[tokenID]; ok && now.Sub(last) < c.ttl {
		return true
	}
	c.seen[tokenID] = now
	return false
}

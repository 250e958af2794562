package command

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Cooldown allows one use per key per period.
type Cooldown struct {
	mu       sync.Mutex
	per      time.Duration
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewCooldown(per time.Duration) *Cooldown {
	return &Cooldown{per: per, limiters: make(map[string]*rate.Limiter), now: time.Now}
}

// Take consumes the key's slot. When the key is still cooling down it
// returns false and the time left.
func (c *Cooldown) Take(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	lim := c.limiters[key]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(c.per), 1)
		c.limiters[key] = lim
	}
	r := lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return delay, false
	}
	return 0, true
}

// Reset forgets the key, so its next Take succeeds.
func (c *Cooldown) Reset(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.limiters, key)
}

package dispatch

import (
	"time"

	"github.com/benbjohnson/clock"
)

// CooldownSet holds targets that were messaged recently. Entries expire
// lazily: an expired entry is dropped the next time it is looked at.
// CooldownSet is not safe for concurrent use; Queue serializes access.
type CooldownSet struct {
	clock clock.Clock
	ttl   time.Duration
	until map[string]time.Time
}

// NewCooldownSet creates a set whose entries live for ttl
func NewCooldownSet(clk clock.Clock, ttl time.Duration) *CooldownSet {
	if clk == nil {
		clk = clock.New()
	}
	return &CooldownSet{
		clock: clk,
		ttl:   ttl,
		until: make(map[string]time.Time),
	}
}

// Add starts (or restarts) the cooldown for target
func (c *CooldownSet) Add(target string) {
	c.until[target] = c.clock.Now().Add(c.ttl)
}

// Contains reports whether target is still cooling down
func (c *CooldownSet) Contains(target string) bool {
	deadline, ok := c.until[target]
	if !ok {
		return false
	}
	if c.clock.Now().Before(deadline) {
		return true
	}
	delete(c.until, target)
	return false
}

// Len returns the number of live entries
func (c *CooldownSet) Len() int {
	now := c.clock.Now()
	for target, deadline := range c.until {
		if !now.Before(deadline) {
			delete(c.until, target)
		}
	}
	return len(c.until)
}

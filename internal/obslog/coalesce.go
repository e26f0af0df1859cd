package obslog

import (
	"sync"
	"time"
)

// CoalesceWindow is how long an identical (component, message) failure is
// suppressed after its first occurrence, per the repeated-failure rule.
const CoalesceWindow = 60 * time.Second

type coalesceKey struct {
	component string
	message   string
}

type coalesceEntry struct {
	firstSeen time.Time
	count     int
}

// Coalescer suppresses repeated identical error-level log records within
// CoalesceWindow, tracking a per-window count that Count exposes. The
// count resets when a new window starts; the record emitted at that
// point does not carry the previous window's count.
type Coalescer struct {
	mu      sync.Mutex
	entries map[coalesceKey]*coalesceEntry
	now     func() time.Time
}

// NewCoalescer builds a Coalescer using the real wall clock.
func NewCoalescer() *Coalescer {
	return &Coalescer{
		entries: make(map[coalesceKey]*coalesceEntry),
		now:     time.Now,
	}
}

// Observe records one occurrence of (component, message). It returns true
// if this occurrence falls within an existing coalescing window and should
// be suppressed from the ring buffer/fallback handler.
func (c *Coalescer) Observe(component, message string) bool {
	key := coalesceKey{component: component, message: message}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || now.Sub(e.firstSeen) > CoalesceWindow {
		c.entries[key] = &coalesceEntry{firstSeen: now, count: 1}
		return false
	}

	e.count++
	return true
}

// Count returns how many times (component, message) has been observed in
// its current coalescing window, or 0 if unseen.
func (c *Coalescer) Count(component, message string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[coalesceKey{component: component, message: message}]; ok {
		return e.count
	}
	return 0
}

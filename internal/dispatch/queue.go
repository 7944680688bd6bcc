// Package dispatch implements the per-session outbound message pipeline: a
// bounded, deduplicating target queue with a cooldown set, and the periodic
// loop that drains it at a fixed minimum interval.
package dispatch

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// DefaultCapacity is the default maximum number of pending targets
	DefaultCapacity = 100

	// DefaultCooldown is how long a messaged target stays ineligible
	DefaultCooldown = 5 * time.Second
)

// Mode selects how the queue refills
type Mode int

const (
	// ModeContinuous accepts targets whenever there is free capacity
	ModeContinuous Mode = iota
	// ModeCycle stops collecting once full and resumes only after the
	// queue has fully drained
	ModeCycle
)

// String returns string representation of mode
func (m Mode) String() string {
	switch m {
	case ModeContinuous:
		return "continuous"
	case ModeCycle:
		return "cycle"
	default:
		return "unknown"
	}
}

// ParseMode parses "continuous" or "cycle"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continuous":
		return ModeContinuous, nil
	case "cycle", "batch":
		return ModeCycle, nil
	default:
		return ModeContinuous, fmt.Errorf("unknown queue mode %q", s)
	}
}

// Entry is one pending target
type Entry struct {
	Target     string
	EnqueuedAt time.Time
}

// QueueConfig contains configuration for a Queue
type QueueConfig struct {
	Capacity int
	Cooldown time.Duration
	Mode     Mode
	Clock    clock.Clock
}

// Queue is a bounded FIFO of unique targets. A target is rejected while it
// is pending or cooling down.
type Queue struct {
	mu       sync.Mutex
	clock    clock.Clock
	capacity int
	mode     Mode
	entries  []Entry
	pending  map[string]struct{}
	cooldown *CooldownSet
	paused   bool
}

// NewQueue creates a new queue
func NewQueue(config QueueConfig) *Queue {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCooldown
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	return &Queue{
		clock:    config.Clock,
		capacity: config.Capacity,
		mode:     config.Mode,
		entries:  make([]Entry, 0, config.Capacity),
		pending:  make(map[string]struct{}),
		cooldown: NewCooldownSet(config.Clock, config.Cooldown),
	}
}

// Enqueue appends target and reports whether it was accepted. It is a no-op
// returning false when the target is already pending, cooling down, or the
// queue is not collecting.
func (q *Queue) Enqueue(target string) bool {
	if target == "" {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused || len(q.entries) >= q.capacity {
		return false
	}
	if _, ok := q.pending[target]; ok {
		return false
	}
	if q.cooldown.Contains(target) {
		return false
	}

	q.entries = append(q.entries, Entry{Target: target, EnqueuedAt: q.clock.Now()})
	q.pending[target] = struct{}{}

	if q.mode == ModeCycle && len(q.entries) >= q.capacity {
		q.paused = true
	}
	return true
}

// DequeueNext removes and returns the oldest target
func (q *Queue) DequeueNext() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return "", false
	}

	entry := q.entries[0]
	q.entries[0] = Entry{}
	q.entries = q.entries[1:]
	delete(q.pending, entry.Target)

	if len(q.entries) == 0 {
		q.paused = false
	}
	return entry.Target, true
}

// MarkSent puts target into cooldown
func (q *Queue) MarkSent(target string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cooldown.Add(target)
}

// Len returns the number of pending targets
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// CooldownCount returns the number of targets still cooling down
func (q *Queue) CooldownCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cooldown.Len()
}

// InCooldown reports whether target is cooling down
func (q *Queue) InCooldown(target string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cooldown.Contains(target)
}

// Paused reports whether a cycle-mode queue has stopped collecting
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Targets returns the pending targets in dequeue order
func (q *Queue) Targets() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	targets := make([]string, len(q.entries))
	for i, e := range q.entries {
		targets[i] = e.Target
	}
	return targets
}

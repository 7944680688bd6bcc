package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultTickInterval is how often the loop wakes up
	DefaultTickInterval = 100 * time.Millisecond

	// DefaultSendInterval is the minimum spacing between two sends
	DefaultSendInterval = 2000 * time.Millisecond
)

// SendFunc delivers one message addressed to target
type SendFunc func(target string) error

// ForceTarget redirects every send to a single target while set
type ForceTarget struct {
	Target      string
	ActivatedAt time.Time
}

// LoopConfig contains configuration for a Loop
type LoopConfig struct {
	Queue        *Queue
	Send         SendFunc
	Clock        clock.Clock
	TickInterval time.Duration
	SendInterval time.Duration
	// Guard, when set, is held for the duration of every timer-driven tick
	// so ticks serialize with the owner's other event handlers.
	Guard  sync.Locker
	Logger *zap.Logger
}

// Loop drains a Queue, or hammers a ForceTarget, no faster than one send per
// SendInterval. The interval is a floor enforced by a single-token bucket
// evaluated at clock time, so extra ticks never produce extra sends.
type Loop struct {
	queue        *Queue
	send         SendFunc
	clock        clock.Clock
	tickInterval time.Duration
	guard        sync.Locker
	logger       *zap.Logger
	limiter      *rate.Limiter

	mu       sync.Mutex
	force    *ForceTarget
	lastSend time.Time
	sent     uint64
	failed   uint64

	lifecycle sync.Mutex
	started   bool
	closed    bool
	stopped   atomic.Bool
	stopCh    chan struct{}
	done      chan struct{}
}

// NewLoop creates a stopped loop
func NewLoop(config LoopConfig) *Loop {
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	if config.SendInterval <= 0 {
		config.SendInterval = DefaultSendInterval
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Queue == nil {
		config.Queue = NewQueue(QueueConfig{Clock: config.Clock})
	}

	return &Loop{
		queue:        config.Queue,
		send:         config.Send,
		clock:        config.Clock,
		tickInterval: config.TickInterval,
		guard:        config.Guard,
		logger:       config.Logger,
		limiter:      rate.NewLimiter(rate.Every(config.SendInterval), 1),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the tick goroutine. Calling Start more than once, or after
// Stop, has no effect.
func (l *Loop) Start() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.started || l.closed {
		return
	}
	l.started = true
	go l.run()
}

// Stop halts the loop. It does not wait for the tick goroutine, so it is
// safe to call while holding Guard, and it is idempotent.
func (l *Loop) Stop() {
	l.stopped.Store(true)

	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	close(l.stopCh)
	if !l.started {
		close(l.done)
	}
}

// Done is closed once the tick goroutine has exited
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stopped reports whether Stop has been called
func (l *Loop) Stopped() bool {
	return l.stopped.Load()
}

func (l *Loop) run() {
	defer close(l.done)

	ticker := l.clock.Ticker(l.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			if l.guard != nil {
				l.guard.Lock()
			}
			l.Tick()
			if l.guard != nil {
				l.guard.Unlock()
			}
		}
	}
}

// Tick runs one scheduling step and reports whether a message was sent
func (l *Loop) Tick() bool {
	if l.stopped.Load() || l.send == nil {
		return false
	}

	l.mu.Lock()
	force := l.force
	l.mu.Unlock()

	if force == nil && l.queue.Len() == 0 {
		return false
	}

	now := l.clock.Now()
	if !l.limiter.AllowN(now, 1) {
		return false
	}

	target := ""
	if force != nil {
		target = force.Target
	} else {
		next, ok := l.queue.DequeueNext()
		if !ok {
			return false
		}
		target = next
	}

	if err := l.send(target); err != nil {
		l.mu.Lock()
		l.failed++
		l.mu.Unlock()
		l.logger.Warn("dispatch send failed",
			zap.String("target", target),
			zap.Bool("forced", force != nil),
			zap.Error(err))
		return false
	}

	if force == nil {
		l.queue.MarkSent(target)
	}

	l.mu.Lock()
	l.lastSend = now
	l.sent++
	l.mu.Unlock()

	return true
}

// SetForce activates force mode
func (l *Loop) SetForce(ft ForceTarget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.force = &ft
}

// ClearForce deactivates force mode and reports whether it was active
func (l *Loop) ClearForce() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	active := l.force != nil
	l.force = nil
	return active
}

// Force returns the active force target
func (l *Loop) Force() (ForceTarget, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.force == nil {
		return ForceTarget{}, false
	}
	return *l.force, true
}

// LastSend returns the time of the last successful send
func (l *Loop) LastSend() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSend
}

// Sent returns the number of successful sends
func (l *Loop) Sent() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}

// Failed returns the number of failed sends
func (l *Loop) Failed() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}

// Queue returns the queue the loop drains
func (l *Loop) Queue() *Queue {
	return l.queue
}

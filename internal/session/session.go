/*
@Author: Lzww
@LastEditTime: 2025-11-11 21:14:59
@Description: Session lifecycle
@Language: Go

	           begin            attach              ready
	Disconnected ────► Connecting ────► HandshakeWait ────► Active
	     ▲                  │                 │               │
	     │                  └───── disconnect ┴───────────────┤
	     │                                                    ▼
	     └──────── reconnect timer ◄──── transient ──── classify
	                                                          │
	                                         permanent ban    ▼
	                                                        Banned
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aetherflow/sessionpool/internal/classify"
	"github.com/aetherflow/sessionpool/internal/credential"
	"github.com/aetherflow/sessionpool/internal/dispatch"
	"github.com/aetherflow/sessionpool/internal/metrics"
	"github.com/aetherflow/sessionpool/internal/protocol"
)

// hooks connect a Session to the pool that owns it. Both are called
// without the session lock held.
type hooks struct {
	// terminal is called with ErrBanned or ErrReconnectExhausted
	terminal func(s *Session, err error)
	// registered reports whether s is still in the pool
	registered func(s *Session) bool
}

// Session owns one connection lifecycle. All state is guarded by mu, and
// the dispatch loop ticks while holding mu, so inbound events, ticks and
// disconnect handling are totally ordered.
type Session struct {
	id       string
	cred     credential.Credential
	endpoint string
	config   Config

	dialer  protocol.Dialer
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	hooks   hooks

	mu           sync.Mutex
	state        State
	gen          uint64
	conn         protocol.Conn
	handshake    chan error
	queue        *dispatch.Queue
	loop         *dispatch.Loop
	force        *dispatch.ForceTarget
	attempts     int
	backoff      backoff.BackOff
	reconnect    *clock.Timer
	lastActivity time.Time
	lastReason   string
	lastClass    classify.Class
	exhausted    bool
	sent         uint64
	closed       bool
}

func newSession(id string, cred credential.Credential, endpoint string, p *Pool) *Session {
	return &Session{
		id:           id,
		cred:         cred,
		endpoint:     endpoint,
		config:       p.config,
		dialer:       p.dialer,
		clock:        p.clock,
		logger:       p.logger.With(zap.String("session_id", id)),
		metrics:      p.metrics,
		tracer:       p.tracer,
		hooks:        hooks{terminal: p.onTerminal, registered: p.registered},
		state:        StateDisconnected,
		backoff:      p.config.newBackOff(),
		lastActivity: p.clock.Now(),
	}
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Credential returns the identity the session logs in with
func (s *Session) Credential() credential.Credential {
	return s.cred
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens a new transport and waits for login, at most
// HandshakeTimeout. It resets the reconnect budget.
func (s *Session) Connect(ctx context.Context) error {
	gen, err := s.begin()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.attempts = 0
	s.backoff.Reset()
	s.mu.Unlock()

	return s.dial(ctx, gen)
}

// begin moves the session to Connecting and returns the new connection
// generation. Events from older generations are ignored.
func (s *Session) begin() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSessionClosed
	}
	switch s.state {
	case StateConnecting, StateHandshakeWait, StateActive:
		return 0, fmt.Errorf("%w: %s is %s", ErrAlreadyRunning, s.id, s.state)
	case StateBanned:
		return 0, ErrBanned
	}

	s.stopReconnectLocked()
	s.gen++
	s.exhausted = false
	s.state = StateConnecting
	s.lastActivity = s.clock.Now()
	return s.gen, nil
}

type dialResult struct {
	conn protocol.Conn
	err  error
}

// dial runs one connection attempt for gen. The handshake timer covers
// both the transport dial and the login.
func (s *Session) dial(ctx context.Context, gen uint64) error {
	ctx, span := s.tracer.Start(ctx, "session.connect", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.String("session.endpoint", s.endpoint),
		attribute.Int("session.attempt", s.Attempts()),
	))
	defer span.End()

	start := s.clock.Now()
	timer := s.clock.Timer(s.config.HandshakeTimeout)
	defer timer.Stop()

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dialed := make(chan dialResult, 1)
	go func() {
		conn, err := s.dialer.Dial(dialCtx, protocol.DialOptions{
			Endpoint:  s.endpoint,
			Username:  s.cred.DisplayID,
			ProfileID: s.cred.ProfileID,
			Secret:    s.cred.Secret,
		})
		dialed <- dialResult{conn: conn, err: err}
	}()

	// a connection that arrives after we gave up must still be closed
	pending := true
	defer func() {
		if pending {
			go func() {
				if res := <-dialed; res.conn != nil {
					res.conn.Close()
				}
			}()
		}
	}()

	var handshake chan error
	for {
		select {
		case res := <-dialed:
			pending = false
			if res.err != nil {
				s.onDisconnect(gen, res.err.Error())
				return s.dialFailed(span, start, fmt.Errorf("connect %s: %w", s.id, res.err))
			}
			handshake = make(chan error, 1)
			if !s.attach(gen, res.conn, handshake) {
				res.conn.Close()
				return s.dialFailed(span, start, ErrSessionClosed)
			}
			dialed = nil

		case err := <-handshake:
			if err != nil {
				return s.dialFailed(span, start, err)
			}
			s.metrics.RecordHandshake(true, s.clock.Since(start))
			span.SetStatus(codes.Ok, "")
			return nil

		case <-timer.C:
			s.onDisconnect(gen, "handshake timeout")
			return s.dialFailed(span, start, fmt.Errorf("%w after %s", ErrHandshakeTimeout, s.config.HandshakeTimeout))

		case <-ctx.Done():
			s.onDisconnect(gen, ctx.Err().Error())
			return s.dialFailed(span, start, ctx.Err())
		}
	}
}

func (s *Session) dialFailed(span trace.Span, start time.Time, err error) error {
	s.metrics.RecordHandshake(false, s.clock.Since(start))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// attach hands conn to the session and starts its event pump
func (s *Session) attach(gen uint64, conn protocol.Conn, handshake chan error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.gen != gen || s.state != StateConnecting {
		return false
	}
	s.conn = conn
	s.handshake = handshake
	s.state = StateHandshakeWait
	s.lastActivity = s.clock.Now()

	go s.pump(gen, conn)
	return true
}

// pump routes transport events until the connection's channel closes
func (s *Session) pump(gen uint64, conn protocol.Conn) {
	for ev := range conn.Events() {
		switch ev.Type {
		case protocol.EventReady:
			s.onReady(gen)
		case protocol.EventChat:
			s.onInboundEvent(gen, ev.Text)
		case protocol.EventDisconnected:
			s.onDisconnect(gen, ev.Reason)
		}
	}
	s.onDisconnect(gen, "connection closed")
}

// onReady activates the session: fresh queue, dispatch loop started
func (s *Session) onReady(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.state != StateHandshakeWait {
		return
	}

	s.state = StateActive
	s.attempts = 0
	s.backoff.Reset()
	s.lastActivity = s.clock.Now()

	s.queue = dispatch.NewQueue(dispatch.QueueConfig{
		Capacity: s.config.QueueCapacity,
		Cooldown: s.config.Cooldown,
		Mode:     s.config.QueueMode,
		Clock:    s.clock,
	})
	s.loop = dispatch.NewLoop(dispatch.LoopConfig{
		Queue:        s.queue,
		Send:         s.dispatchLocked,
		Clock:        s.clock,
		TickInterval: s.config.TickInterval,
		SendInterval: s.config.SendInterval,
		Guard:        &s.mu,
		Logger:       s.logger,
	})
	if s.force != nil {
		s.loop.SetForce(*s.force)
	}
	s.loop.Start()

	s.signalHandshakeLocked(nil)

	s.logger.Info("session active",
		zap.String("display_name", s.cred.DisplayID),
		zap.Bool("forced", s.force != nil))
}

// onInboundEvent feeds chat senders into the queue
func (s *Session) onInboundEvent(gen uint64, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.state != StateActive {
		return
	}
	s.lastActivity = s.clock.Now()

	// collection is suspended in force mode
	if s.force != nil {
		return
	}

	sender, ok := extractSender(text)
	if !ok || sender == s.cred.DisplayID {
		return
	}
	if !s.queue.Enqueue(sender) {
		s.metrics.RecordQueueRejection()
	}
}

// onDisconnect runs at most once per connection generation
func (s *Session) onDisconnect(gen uint64, reason string) {
	s.mu.Lock()
	if s.gen != gen || !s.state.Live() {
		s.mu.Unlock()
		return
	}

	conn := s.teardownLocked()
	class := classify.Classify(reason)
	s.lastReason = reason
	s.lastClass = class
	s.lastActivity = s.clock.Now()
	s.metrics.RecordDisconnect(class.String())

	logger := s.logger.With(zap.String("reason", reason), zap.Stringer("class", class))

	var terminal error
	switch {
	case class.Terminal():
		s.state = StateBanned
		s.signalHandshakeLocked(fmt.Errorf("%w: %s", ErrBanned, reason))
		terminal = ErrBanned
		logger.Warn("session banned")

	default:
		s.state = StateDisconnected
		s.signalHandshakeLocked(fmt.Errorf("disconnected during handshake: %s", reason))
		if s.closed {
			break
		}
		if err := s.scheduleReconnectLocked(); err != nil {
			terminal = err
			s.exhausted = errors.Is(err, ErrReconnectExhausted)
			logger.Warn("session disconnected, not reconnecting", zap.Int("attempts", s.attempts))
		} else {
			logger.Info("session disconnected")
		}
	}
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if terminal != nil && s.hooks.terminal != nil {
		s.hooks.terminal(s, terminal)
	}
}

func (s *Session) scheduleReconnectLocked() error {
	delay := s.backoff.NextBackOff()
	if delay == backoff.Stop {
		return ErrReconnectExhausted
	}

	s.attempts++
	gen := s.gen
	s.reconnect = s.clock.AfterFunc(delay, func() {
		s.reconnectFired(gen)
	})
	s.metrics.RecordReconnect()

	s.logger.Debug("reconnect scheduled",
		zap.Int("attempt", s.attempts),
		zap.Duration("delay", delay))
	return nil
}

// reconnectFired never resurrects a session that left the pool
func (s *Session) reconnectFired(gen uint64) {
	if s.hooks.registered != nil && !s.hooks.registered(s) {
		return
	}

	s.mu.Lock()
	if s.closed || s.gen != gen || s.state != StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.reconnect = nil
	s.mu.Unlock()

	next, err := s.begin()
	if err != nil {
		return
	}
	if err := s.dial(context.Background(), next); err != nil {
		s.logger.Debug("reconnect failed", zap.Error(err))
	}
}

// teardownLocked stops dispatch and detaches the transport. The caller
// closes the returned connection after releasing mu.
func (s *Session) teardownLocked() protocol.Conn {
	if s.loop != nil {
		s.loop.Stop()
		s.loop = nil
	}
	s.queue = nil

	conn := s.conn
	s.conn = nil
	return conn
}

func (s *Session) signalHandshakeLocked(err error) {
	if s.handshake == nil {
		return
	}
	s.handshake <- err
	s.handshake = nil
}

func (s *Session) stopReconnectLocked() {
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
}

// dispatchLocked is the loop's send function; the loop holds mu
func (s *Session) dispatchLocked(target string) error {
	return s.sendLocked(s.config.Render(target))
}

func (s *Session) sendLocked(text string) error {
	if s.state != StateActive || s.conn == nil {
		return ErrNotConnected
	}
	if err := s.conn.Send(text); err != nil {
		s.metrics.RecordSend(false)
		return fmt.Errorf("send: %w", err)
	}
	s.sent++
	s.lastActivity = s.clock.Now()
	s.metrics.RecordSend(true)
	return nil
}

// Send writes text straight to the transport
func (s *Session) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(text)
}

// SetForce redirects dispatch to ft.Target. Only active sessions accept it;
// the override survives reconnects until cleared.
func (s *Session) SetForce(ft dispatch.ForceTarget) error {
	if ft.Target == "" {
		return ErrEmptyTarget
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return ErrNotConnected
	}
	s.force = &ft
	s.loop.SetForce(ft)
	return nil
}

// ClearForce restores queue draining and reports whether force was set
func (s *Session) ClearForce() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.force == nil {
		return false
	}
	s.force = nil
	if s.loop != nil {
		s.loop.ClearForce()
	}
	return true
}

// Attempts returns the consecutive reconnect count
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Close stops dispatch, cancels any pending reconnect and closes the
// transport. A banned session stays banned.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopReconnectLocked()
	s.gen++
	conn := s.teardownLocked()
	if s.state.Live() {
		s.state = StateDisconnected
	}
	s.signalHandshakeLocked(ErrSessionClosed)
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Summary returns a snapshot of the session
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		ID:           s.id,
		DisplayName:  s.cred.DisplayID,
		State:        s.state,
		Endpoint:     s.endpoint,
		Attempts:     s.attempts,
		LastReason:   s.lastReason,
		SentCount:    s.sent,
		LastActivity: s.lastActivity,
		Expiry:       s.cred.Expiry,
	}
	if s.lastReason != "" {
		sum.LastClass = s.lastClass.String()
	}
	if s.exhausted {
		sum.Exhausted = true
		sum.LastError = ErrReconnectExhausted.Error()
	}
	if s.queue != nil {
		sum.QueueLength = s.queue.Len()
		sum.CooldownCount = s.queue.CooldownCount()
	}
	if s.force != nil {
		sum.ForceTarget = s.force.Target
	}
	return sum
}

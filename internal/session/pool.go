/*
@Author: Lzww
@LastEditTime: 2025-11-11 21:14:59
@Description: Session pool
@Language: Go
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aetherflow/sessionpool/internal/credential"
	"github.com/aetherflow/sessionpool/internal/dispatch"
	"github.com/aetherflow/sessionpool/internal/metrics"
	"github.com/aetherflow/sessionpool/internal/protocol"
)

const (
	// TracerName is the instrumentation name for session spans
	TracerName = "github.com/aetherflow/sessionpool/internal/session"

	// DefaultRestoreConcurrency bounds parallel dials during Restore
	DefaultRestoreConcurrency = 8
)

// PoolConfig contains configuration for the session pool
type PoolConfig struct {
	Session Config
	Dialer  protocol.Dialer
	// Store, when set, remembers credentials so Restore can re-add them
	Store   Store
	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	// DefaultEndpoint is used when Add is called without one
	DefaultEndpoint string
	// RestoreConcurrency bounds parallel dials during Restore
	RestoreConcurrency int
}

// Pool is the registry of running sessions. Every registry mutation holds mu.
type Pool struct {
	config          Config
	dialer          protocol.Dialer
	store           Store
	clock           clock.Clock
	logger          *zap.Logger
	metrics         *metrics.Metrics
	tracer          trace.Tracer
	defaultEndpoint string
	restoreLimit    int

	mu       sync.RWMutex
	sessions map[string]*Session
	// graves holds the eviction timers of banned sessions
	graves map[string]*clock.Timer
	closed bool
}

// NewPool creates a new session pool
func NewPool(config *PoolConfig) *Pool {
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Tracer == nil {
		config.Tracer = otel.Tracer(TracerName)
	}
	if config.RestoreConcurrency <= 0 {
		config.RestoreConcurrency = DefaultRestoreConcurrency
	}

	return &Pool{
		config:          config.Session.withDefaults(),
		dialer:          config.Dialer,
		store:           config.Store,
		clock:           config.Clock,
		logger:          config.Logger,
		metrics:         config.Metrics,
		tracer:          config.Tracer,
		defaultEndpoint: config.DefaultEndpoint,
		restoreLimit:    config.RestoreConcurrency,
		sessions:        make(map[string]*Session),
		graves:          make(map[string]*clock.Timer),
	}
}

// Add parses raw, registers a session under id and connects it. An empty id
// gets a generated one. Handshake failures are returned, but the session
// stays registered and follows the reconnect policy.
func (p *Pool) Add(ctx context.Context, id, raw, endpoint string) (Summary, error) {
	cred, err := credential.Parse(raw)
	if err != nil {
		return Summary{}, err
	}
	if cred.Expired(p.clock.Now()) {
		return Summary{}, fmt.Errorf("%w: token expired at %s", ErrMalformedCredential, cred.Expiry.UTC().Format("2006-01-02 15:04:05"))
	}
	if endpoint == "" {
		endpoint = p.defaultEndpoint
	}
	if endpoint == "" {
		return Summary{}, ErrEndpointRequired
	}
	if id == "" {
		id = uuid.NewString()
	}

	ctx, span := p.tracer.Start(ctx, "pool.add")
	defer span.End()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Summary{}, ErrPoolClosed
	}
	if _, exists := p.sessions[id]; exists {
		p.mu.Unlock()
		return Summary{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	s := newSession(id, cred, endpoint, p)
	gen, err := s.begin()
	if err != nil {
		p.mu.Unlock()
		return Summary{}, err
	}
	p.sessions[id] = s
	p.mu.Unlock()

	p.metrics.RecordSessionAction("added")
	p.remember(ctx, &Record{ID: id, Credential: raw, Endpoint: endpoint, AddedAt: p.clock.Now()})

	p.logger.Info("session added",
		zap.String("session_id", id),
		zap.String("display_name", cred.DisplayID),
		zap.String("endpoint", endpoint))

	err = s.dial(ctx, gen)
	if err != nil {
		p.logger.Warn("session handshake failed",
			zap.String("session_id", id),
			zap.Error(err))
	}
	return s.Summary(), err
}

// Remove stops and forgets a session. Removing an unknown id returns
// ErrSessionNotFound and has no other effect.
func (p *Pool) Remove(ctx context.Context, id string) error {
	p.mu.Lock()
	s, ok := p.sessions[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(p.sessions, id)
	p.buryLocked(id)
	p.mu.Unlock()

	err := s.Close()
	p.forget(ctx, id)
	p.metrics.RecordSessionAction("removed")

	p.logger.Info("session removed", zap.String("session_id", id))
	return err
}

// Reconnect starts a fresh connection attempt for a disconnected session
func (p *Pool) Reconnect(ctx context.Context, id string) (Summary, error) {
	s, err := p.lookup(id)
	if err != nil {
		return Summary{}, err
	}
	err = s.Connect(ctx)
	return s.Summary(), err
}

// BroadcastForce sets target as the force target of every active session
// and returns how many accepted it
func (p *Pool) BroadcastForce(target string) (int, error) {
	if target == "" {
		return 0, ErrEmptyTarget
	}
	ft := dispatch.ForceTarget{Target: target, ActivatedAt: p.clock.Now()}

	count := 0
	for _, s := range p.list() {
		if err := s.SetForce(ft); err == nil {
			count++
		}
	}

	p.logger.Info("force target set",
		zap.String("target", target),
		zap.Int("sessions", count))
	return count, nil
}

// ClearForce clears force mode everywhere and returns how many sessions had it
func (p *Pool) ClearForce() int {
	count := 0
	for _, s := range p.list() {
		if s.ClearForce() {
			count++
		}
	}

	p.logger.Info("force target cleared", zap.Int("sessions", count))
	return count
}

// Force sets the force target of one session
func (p *Pool) Force(id, target string) error {
	s, err := p.lookup(id)
	if err != nil {
		return err
	}
	return s.SetForce(dispatch.ForceTarget{Target: target, ActivatedAt: p.clock.Now()})
}

// Unforce clears the force target of one session
func (p *Pool) Unforce(id string) (bool, error) {
	s, err := p.lookup(id)
	if err != nil {
		return false, err
	}
	return s.ClearForce(), nil
}

// Send relays text through one session
func (p *Pool) Send(id, text string) error {
	s, err := p.lookup(id)
	if err != nil {
		return err
	}
	return s.Send(text)
}

// StopAll removes every session and returns how many were stopped
func (p *Pool) StopAll(ctx context.Context) (int, error) {
	sessions := p.drain()

	var err error
	for _, s := range sessions {
		err = multierr.Append(err, s.Close())
		p.forget(ctx, s.id)
		p.metrics.RecordSessionAction("removed")
	}

	p.logger.Info("all sessions stopped", zap.Int("count", len(sessions)))
	return len(sessions), err
}

// Status lists every session ordered by id
func (p *Pool) Status() []Summary {
	sessions := p.list()
	summaries := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, s.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ID < summaries[j].ID
	})
	return summaries
}

// Get returns the summary of one session
func (p *Pool) Get(id string) (Summary, error) {
	s, err := p.lookup(id)
	if err != nil {
		return Summary{}, err
	}
	return s.Summary(), nil
}

// Len returns the number of registered sessions
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Restore re-adds every stored session. It returns how many were
// registered; records that can no longer be parsed are dropped.
func (p *Pool) Restore(ctx context.Context) (int, error) {
	if p.store == nil {
		return 0, nil
	}

	records, err := p.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list stored sessions: %w", err)
	}

	var (
		g        errgroup.Group
		mu       sync.Mutex
		restored int
	)
	g.SetLimit(p.restoreLimit)

	for _, rec := range records {
		g.Go(func() error {
			sum, err := p.Add(ctx, rec.ID, rec.Credential, rec.Endpoint)
			switch {
			case errors.Is(err, ErrMalformedCredential):
				p.logger.Warn("dropping stored session",
					zap.String("session_id", rec.ID),
					zap.Error(err))
				p.forget(ctx, rec.ID)
				return nil
			case sum.ID == "":
				p.logger.Warn("stored session not restored",
					zap.String("session_id", rec.ID),
					zap.Error(err))
				return nil
			}
			mu.Lock()
			restored++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	p.logger.Info("sessions restored",
		zap.Int("restored", restored),
		zap.Int("stored", len(records)))
	return restored, nil
}

// Close stops every session but keeps stored records for Restore
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	var err error
	for _, s := range p.drain() {
		err = multierr.Append(err, s.Close())
	}
	p.logger.Info("session pool stopped")
	return err
}

// Snapshot implements metrics.Source
func (p *Pool) Snapshot() metrics.Snapshot {
	snap := metrics.Snapshot{ByState: make(map[string]int)}
	for _, sum := range p.Status() {
		snap.ByState[sum.State.String()]++
		snap.QueueDepth += sum.QueueLength
		snap.Cooldowns += sum.CooldownCount
		if sum.ForceTarget != "" {
			snap.Forced++
		}
	}
	return snap
}

// list copies the registry so callers can take session locks without
// holding p.mu
func (p *Pool) list() []*Session {
	p.mu.RLock()
	defer p.mu.RUnlock()

	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (p *Pool) lookup(id string) (*Session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s, ok := p.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// drain empties the registry and returns what it held
func (p *Pool) drain() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	sessions := make([]*Session, 0, len(p.sessions))
	for id, s := range p.sessions {
		sessions = append(sessions, s)
		p.buryLocked(id)
	}
	p.sessions = make(map[string]*Session)
	return sessions
}

func (p *Pool) registered(s *Session) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessions[s.id] == s
}

// onTerminal is the session's terminal hook. Banned sessions stay visible
// for BannedGrace and are then evicted; exhausted sessions stay registered
// as Disconnected so their attempt count remains visible.
func (p *Pool) onTerminal(s *Session, err error) {
	if !errors.Is(err, ErrBanned) {
		p.logger.Warn("session gave up reconnecting",
			zap.String("session_id", s.id),
			zap.Error(err))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sessions[s.id] != s {
		return
	}
	if _, pending := p.graves[s.id]; pending {
		return
	}
	p.graves[s.id] = p.clock.AfterFunc(p.config.BannedGrace, func() {
		p.evict(s)
	})
}

func (p *Pool) evict(s *Session) {
	p.mu.Lock()
	if p.sessions[s.id] != s {
		p.mu.Unlock()
		return
	}
	delete(p.sessions, s.id)
	delete(p.graves, s.id)
	p.mu.Unlock()

	s.Close()
	p.forget(context.Background(), s.id)
	p.metrics.RecordSessionAction("evicted")

	p.logger.Info("banned session evicted", zap.String("session_id", s.id))
}

// buryLocked cancels a pending eviction
func (p *Pool) buryLocked(id string) {
	if t, ok := p.graves[id]; ok {
		t.Stop()
		delete(p.graves, id)
	}
}

func (p *Pool) remember(ctx context.Context, rec *Record) {
	if p.store == nil {
		return
	}
	if err := p.store.Save(ctx, rec); err != nil {
		p.logger.Error("failed to store session",
			zap.String("session_id", rec.ID),
			zap.Error(err))
	}
}

func (p *Pool) forget(ctx context.Context, id string) {
	if p.store == nil {
		return
	}
	if err := p.store.Delete(ctx, id); err != nil {
		p.logger.Error("failed to delete stored session",
			zap.String("session_id", id),
			zap.Error(err))
	}
}

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/aetherflow/sessionpool/internal/protocol"
	"github.com/aetherflow/sessionpool/internal/protocol/protocoltest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 2 * time.Second

type testPool struct {
	*Pool
	dialer *protocoltest.FakeDialer
	clock  *clock.Mock
	store  *MemoryStore
}

func newTestPool(t *testing.T, cfg Config) *testPool {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Date(2025, 11, 11, 12, 0, 0, 0, time.UTC))
	dialer := protocoltest.NewFakeDialer()
	store := NewMemoryStore()

	p := NewPool(&PoolConfig{
		Session:         cfg,
		Dialer:          dialer,
		Store:           store,
		Clock:           mock,
		Logger:          zap.NewNop(),
		DefaultEndpoint: "ws://game.test",
	})
	t.Cleanup(func() { p.Close() })

	return &testPool{Pool: p, dialer: dialer, clock: mock, store: store}
}

func (tp *testPool) session(t *testing.T, id string) *Session {
	t.Helper()
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	s, ok := tp.sessions[id]
	require.True(t, ok, "session %s not registered", id)
	return s
}

func (tp *testPool) hasGrave(id string) bool {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	_, ok := tp.graves[id]
	return ok
}

// tick runs one dispatch step the way the loop goroutine does
func (s *Session) tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop == nil {
		return false
	}
	return s.loop.Tick()
}

func (s *Session) targets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return nil
	}
	return s.queue.Targets()
}

func (s *Session) inCooldown(target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue != nil && s.queue.InCooldown(target)
}

func (s *Session) reconnectPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnect != nil
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State() == want
	}, waitFor, 5*time.Millisecond, "want state %s", want)
}

func TestPoolAddDispatchScenario(t *testing.T) {
	tp := newTestPool(t, Config{})
	ctx := context.Background()

	sum, err := tp.Add(ctx, "botA", "user:pass:secretXYZ", "")
	require.NoError(t, err)
	assert.Equal(t, StateActive, sum.State)
	assert.Equal(t, "user", sum.DisplayName)
	assert.Equal(t, "ws://game.test", sum.Endpoint)

	conn := tp.dialer.Last()
	require.NotNil(t, conn)
	assert.Equal(t, "secretXYZ", conn.Options.Secret)
	assert.Equal(t, "user", conn.Options.Username)

	s := tp.session(t, "botA")
	conn.Chat("Steve: hello")
	require.Eventually(t, func() bool {
		return len(s.targets()) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"Steve"}, s.targets())

	tp.clock.Add(2000 * time.Millisecond)
	s.tick()

	assert.Empty(t, s.targets())
	assert.True(t, s.inCooldown("Steve"))
	assert.Equal(t, []string{"/msg Steve hello"}, conn.Sent())

	status := tp.Status()
	require.Len(t, status, 1)
	assert.Equal(t, 0, status[0].QueueLength)
	assert.Equal(t, 1, status[0].CooldownCount)
	assert.Equal(t, uint64(1), status[0].SentCount)
}

func TestPoolLoopDrivesDispatch(t *testing.T) {
	tp := newTestPool(t, Config{})

	_, err := tp.Add(context.Background(), "botA", "user:pass:secretXYZ", "")
	require.NoError(t, err)

	conn := tp.dialer.Last()
	conn.Chat("<Alex> hey")

	assert.Eventually(t, func() bool {
		tp.clock.Add(100 * time.Millisecond)
		return len(conn.Sent()) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, "/msg Alex hello", conn.Sent()[0])
}

func TestPoolInboundSkipsOwnName(t *testing.T) {
	tp := newTestPool(t, Config{})

	_, err := tp.Add(context.Background(), "botA", "user:pass:secretXYZ", "")
	require.NoError(t, err)
	s := tp.session(t, "botA")

	conn := tp.dialer.Last()
	conn.Chat("user: that's me")
	conn.Chat("Steve: hello")
	conn.Chat("Steve: hello again")

	require.Eventually(t, func() bool {
		return len(s.targets()) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"Steve"}, s.targets())
}

func TestPoolAddDuplicate(t *testing.T) {
	tp := newTestPool(t, Config{})
	ctx := context.Background()

	_, err := tp.Add(ctx, "botA", "user:pass:secretXYZ", "")
	require.NoError(t, err)

	_, err = tp.Add(ctx, "botA", "other:pass:secret2", "")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, 1, tp.dialer.Dials())
	assert.Equal(t, 1, tp.Len())
}

func TestPoolAddDuplicateDuringHandshake(t *testing.T) {
	tp := newTestPool(t, Config{})
	tp.dialer.SetAutoReady(false)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := tp.Add(ctx, "botA", "user:pass:secretXYZ", "")
		first <- err
	}()

	require.Eventually(t, func() bool {
		return tp.dialer.Dials() == 1
	}, waitFor, 5*time.Millisecond)
	s := tp.session(t, "botA")
	waitState(t, s, StateHandshakeWait)

	_, err := tp.Add(ctx, "botA", "user:pass:secretXYZ", "")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// a second transport must never be opened for the same id
	assert.ErrorIs(t, s.Connect(ctx), ErrAlreadyRunning)

	tp.dialer.Last().Ready()
	require.NoError(t, <-first)
	assert.Equal(t, 1, tp.dialer.Dials())
	assert.Equal(t, StateActive, s.State())
}

func TestPoolAddConcurrent(t *testing.T) {
	tp := newTestPool(t, Config{})
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tp.Add(ctx, "botA", "user:pass:secretXYZ", "")
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrAlreadyRunning):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(9), rejected.Load())
	assert.Equal(t, 1, tp.dialer.Dials())
}

func TestPoolAddRejectsBadInput(t *testing.T) {
	tp := newTestPool(t, Config{})
	ctx := context.Background()

	_, err := tp.Add(ctx, "botA", "user:pass", "")
	assert.ErrorIs(t, err, ErrMalformedCredential)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": tp.clock.Now().Add(-time.Hour).Unix(),
	})
	token, err := expired.SignedString([]byte("test-key"))
	require.NoError(t, err)
	_, err = tp.Add(ctx, "botB", "a@b.c:pw:"+token, "")
	assert.ErrorIs(t, err, ErrMalformedCredential)

	assert.Equal(t, 0, tp.Len())
	assert.Equal(t, 0, tp.dialer.Dials())

	bare := NewPool(&PoolConfig{Dialer: tp.dialer, Clock: tp.clock})
	_, err = bare.Add(ctx, "botC", "user:pass:secret", "")
	assert.ErrorIs(t, err, ErrEndpointRequired)
}

func TestPoolAddGeneratesID(t *testing.T) {
	tp := newTestPool(t, Config{})

	sum, err := tp.Add(context.Background(), "", "secret-only-token", "")
	require.NoError(t, err)
	assert.NotEmpty(t, sum.ID)
	assert.Regexp(t, `^Player[0-9a-f]{6}$`, sum.DisplayName)
}

func TestPoolBroadcastForce(t *testing.T) {
	tp := newTestPool(t, Config{})
	ctx := context.Background()

	for _, id := range []string{"bot1", "bot2", "bot3"} {
		_, err := tp.Add(ctx, id, id+":pass:secret-"+id, "")
		require.NoError(t, err)
		tp.dialer.ForUser(id).Chat("Bob: hi")
	}

	tp.dialer.SetError(errors.New("connection refused"))
	sum, err := tp.Add(ctx, "bot4", "bot4:pass:secret-bot4", "")
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, sum.State)
	assert.Equal(t, 1, sum.Attempts)
	tp.dialer.SetError(nil)

	for _, id := range []string{"bot1", "bot2", "bot3"} {
		s := tp.session(t, id)
		require.Eventually(t, func() bool {
			return len(s.targets()) == 1
		}, waitFor, 5*time.Millisecond)
	}

	count, err := tp.BroadcastForce("Alice")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	tp.clock.Add(2 * time.Second)
	for _, id := range []string{"bot1", "bot2", "bot3"} {
		tp.session(t, id).tick()
		assert.Equal(t, []string{"/msg Alice hello"}, tp.dialer.ForUser(id).Sent(), id)
		assert.Equal(t, []string{"Bob"}, tp.session(t, id).targets(), "queue untouched while forced")
	}

	bot4, err := tp.Get("bot4")
	require.NoError(t, err)
	assert.Empty(t, bot4.ForceTarget)

	assert.Equal(t, 3, tp.ClearForce())
	assert.Equal(t, 0, tp.ClearForce())

	tp.clock.Add(2 * time.Second)
	for _, id := range []string{"bot1", "bot2", "bot3"} {
		tp.session(t, id).tick()
		assert.Equal(t, []string{"/msg Alice hello", "/msg Bob hello"}, tp.dialer.ForUser(id).Sent(), id)
	}

	_, err = tp.BroadcastForce("")
	assert.ErrorIs(t, err, ErrEmptyTarget)
}

func TestPoolBroadcastForceReleasesRegistry(t *testing.T) {
	tp := newTestPool(t, Config{})
	ctx := context.Background()

	_, err := tp.Add(ctx, "bot1", "bot1:pass:secret-bot1", "")
	require.NoError(t, err)
	slow := tp.session(t, "bot1")

	// bot1 is busy, e.g. a tick blocked in a transport write
	slow.mu.Lock()
	forced := make(chan int, 1)
	go func() {
		n, _ := tp.BroadcastForce("Alice")
		forced <- n
	}()
	time.Sleep(20 * time.Millisecond)

	added := make(chan error, 1)
	go func() {
		_, err := tp.Add(ctx, "bot2", "bot2:pass:secret-bot2", "")
		added <- err
	}()

	select {
	case err := <-added:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		slow.mu.Unlock()
		t.Fatal("Add blocked behind a broadcast waiting on one session")
	}
	assert.Equal(t, 2, tp.Len())

	slow.mu.Unlock()
	select {
	case n := <-forced:
		assert.GreaterOrEqual(t, n, 1)
	case <-time.After(waitFor):
		t.Fatal("broadcast did not finish")
	}
}

func TestPoolForceSuspendsCollection(t *testing.T) {
	tp := newTestPool(t, Config{})

	_, err := tp.Add(context.Background(), "botA", "user:pass:secretXYZ", "")
	require.NoError(t, err)
	require.NoError(t, tp.Force("botA", "Alice"))

	s := tp.session(t, "botA")
	conn := tp.dialer.Last()
	conn.Chat("Steve: hello")
	conn.Chat("Alex: hi")
	assert.Never(t, func() bool {
		return len(s.targets()) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)

	cleared, err := tp.Unforce("botA")
	require.NoError(t, err)
	assert.True(t, cleared)

	assert.ErrorIs(t, tp.Force("missing", "Alice"), ErrSessionNotFound)
}

func TestPoolBannedEviction(t *testing.T) {
	tp := newTestPool(t, Config{})
	ctx := context.Background()

	_, err := tp.Add(ctx, "botA", "user:pass:secretXYZ", "")
	require.NoError(t, err)
	s := tp.session(t, "botA")

	tp.dialer.Last().Disconnect("kicked: banned")
	waitState(t, s, StateBanned)

	assert.False(t, s.reconnectPending())
	sum, err := tp.Get("botA")
	require.NoError(t, err)
	assert.Equal(t, "PERMANENT_BAN", sum.LastClass)
	assert.Equal(t, "kicked: banned", sum.LastReason)

	require.Eventually(t, func() bool {
		return tp.hasGrave("botA")
	}, waitFor, 5*time.Millisecond)

	tp.clock.Add(DefaultBannedGrace)
	require.Eventually(t, func() bool {
		_, err := tp.Get("botA")
		return errors.Is(err, ErrSessionNotFound)
	}, waitFor, 5*time.Millisecond)

	assert.Empty(t, tp.Status())
	_, err = tp.store.Get(ctx, "botA")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	tp.clock.Add(time.Minute)
	assert.Equal(t, 1, tp.dialer.Dials(), "banned sessions never reconnect")
}

func TestPoolMuteIsTerminal(t *testing.T) {
	tp := newTestPool(t, Config{})

	_, err := tp.Add(context.Background(), "botA", "user:pass:secretXYZ", "")
	require.NoError(t, err)
	s := tp.session(t, "botA")

	tp.dialer.Last().Disconnect("You are muted")
	waitState(t, s, StateBanned)
	assert.ErrorIs(t, s.Connect(context.Background()), ErrBanned)
}

func TestPoolRemoveDuringGrace(t *testing.T) {
	tp := newTestPool(t, Config{})
	ctx := context.Background()

	_, err := tp.Add(ctx, "botA", "user:pass:secretXYZ", "")
	require.NoError(t, err)

	tp.dialer.Last().Disconnect("You have been banned permanently")
	require.Eventually(t, func() bool {
		return tp.hasGrave("botA")
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, tp.Remove(ctx, "botA"))
	assert.False(t, tp.hasGrave("botA"))
	tp.clock.Add(DefaultBannedGrace)
}

func TestPoolTransientReconnect(t *testing.T) {
	tp := newTestPool(t, Config{})

	_, err := tp.Add(context.Background(), "botA", "user:pass:secretXYZ", "")
	require.NoError(t, err)
	s := tp.session(t, "botA")
	first := tp.dialer.Last()

	first.Disconnect("Connection reset")
	waitState(t, s, StateDisconnected)
	assert.True(t, first.Closed())

	sum := s.Summary()
	assert.Equal(t, 1, sum.Attempts)
	assert.Equal(t, "TRANSIENT", sum.LastClass)

	tp.clock.Add(DefaultReconnectDelay - time.Millisecond)
	assert.Equal(t, 1, tp.dialer.Dials())

	tp.clock.Add(time.Millisecond)
	waitState(t, s, StateActive)
	assert.Equal(t, 2, tp.dialer.Dials())
	assert.Equal(t, 0, s.Attempts())
}

func TestPoolRateLimitedReconnects(t *testing.T) {
	tp := newTestPool(t, Config{})

	_, err := tp.Add(context.Background(), "botA", "user:pass:secretXYZ", "")
	require.NoError(t, err)
	s := tp.session(t, "botA")

	tp.dialer.Last().Disconnect("Logged in from another location")
	waitState(t, s, StateDisconnected)
	assert.Equal(t, "RATE_LIMITED", s.Summary().LastClass)
	assert.True(t, s.reconnectPending())
}

func TestPoolReconnectExhausted(t *testing.T) {
	tp := newTestPool(t, Config{MaxReconnectAttempts: 2})

	var dials atomic.Int32
	refused := errors.New("connection refused")
	tp.Pool.dialer = protocol.DialerFunc(func(ctx context.Context, opts protocol.DialOptions) (protocol.Conn, error) {
		dials.Add(1)
		return tp.dialer.Dial(ctx, opts)
	})

	_, err := tp.Add(context.Background(), "botA", "user:pass:secretXYZ", "")
	require.NoError(t, err)
	s := tp.session(t, "botA")

	tp.dialer.SetError(refused)
	tp.dialer.Last().Disconnect("Connection reset")
	waitState(t, s, StateDisconnected)

	sum, err := tp.Get("botA")
	require.NoError(t, err)
	assert.False(t, sum.Exhausted, "a retry is still pending")
	assert.Empty(t, sum.LastError)

	for attempt := 2; attempt <= 3; attempt++ {
		tp.clock.Add(DefaultReconnectDelay)
		want := int32(attempt)
		require.Eventually(t, func() bool {
			return dials.Load() == want && s.State() == StateDisconnected
		}, waitFor, 5*time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return !s.reconnectPending()
	}, waitFor, 5*time.Millisecond)

	sum, err = tp.Get("botA")
	require.NoError(t, err, "exhausted sessions stay visible")
	assert.Equal(t, StateDisconnected, sum.State)
	assert.Equal(t, 2, sum.Attempts)
	assert.Contains(t, sum.LastReason, "connection refused")
	assert.True(t, sum.Exhausted)
	assert.Equal(t, ErrReconnectExhausted.Error(), sum.LastError)

	tp.clock.Add(time.Minute)
	assert.Equal(t, int32(3), dials.Load())

	// a manual reconnect starts over
	tp.dialer.SetError(nil)
	sum, err = tp.Reconnect(context.Background(), "botA")
	require.NoError(t, err)
	assert.Equal(t, StateActive, sum.State)
	assert.Equal(t, 0, sum.Attempts)
	assert.False(t, sum.Exhausted)
}

func TestPoolHandshakeTimeout(t *testing.T) {
	tp := newTestPool(t, Config{})
	tp.dialer.SetAutoReady(false)

	result := make(chan error, 1)
	go func() {
		_, err := tp.Add(context.Background(), "botA", "user:pass:secretXYZ", "")
		result <- err
	}()

	require.Eventually(t, func() bool {
		return tp.dialer.Dials() == 1
	}, waitFor, 5*time.Millisecond)
	s := tp.session(t, "botA")
	waitState(t, s, StateHandshakeWait)

	tp.clock.Add(DefaultHandshakeTimeout)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrHandshakeTimeout)
	case <-time.After(waitFor):
		t.Fatal("Add did not return after the handshake timeout")
	}

	sum := s.Summary()
	assert.Equal(t, StateDisconnected, sum.State)
	assert.Equal(t, "TRANSIENT", sum.LastClass)
	assert.Equal(t, 1, sum.Attempts)
	assert.True(t, tp.dialer.Last().Closed())
}

func TestPoolHandshakeBanned(t *testing.T) {
	tp := newTestPool(t, Config{})
	tp.dialer.AutoReady = false
	tp.dialer.OnDial = func(conn *protocoltest.FakeConn) {
		conn.Disconnect("You are banned from this server")
	}

	_, err := tp.Add(context.Background(), "botA", "user:pass:secretXYZ", "")
	assert.ErrorIs(t, err, ErrBanned)
}

func TestPoolRemoveCancelsReconnect(t *testing.T) {
	tp := newTestPool(t, Config{})
	ctx := context.Background()

	_, err := tp.Add(ctx, "botA", "user:pass:secretXYZ", "")
	require.NoError(t, err)
	s := tp.session(t, "botA")

	tp.dialer.Last().Disconnect("Connection reset")
	waitState(t, s, StateDisconnected)
	require.True(t, s.reconnectPending())

	require.NoError(t, tp.Remove(ctx, "botA"))
	assert.False(t, s.reconnectPending())
	assert.ErrorIs(t, tp.Remove(ctx, "botA"), ErrSessionNotFound)

	tp.clock.Add(time.Minute)
	assert.Never(t, func() bool {
		return tp.dialer.Dials() > 1
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 0, tp.Len())
}

func TestPoolRemoveActive(t *testing.T) {
	tp := newTestPool(t, Config{})
	ctx := context.Background()

	_, err := tp.Add(ctx, "botA", "user:pass:secretXYZ", "")
	require.NoError(t, err)
	s := tp.session(t, "botA")
	conn := tp.dialer.Last()

	require.NoError(t, tp.Remove(ctx, "botA"))
	assert.True(t, conn.Closed())
	assert.False(t, s.tick())

	count, _ := tp.store.Count(ctx)
	assert.Equal(t, 0, count)
}

func TestPoolSend(t *testing.T) {
	tp := newTestPool(t, Config{})

	_, err := tp.Add(context.Background(), "botA", "user:pass:secretXYZ", "")
	require.NoError(t, err)
	s := tp.session(t, "botA")

	require.NoError(t, tp.Send("botA", "hello world"))
	assert.Equal(t, []string{"hello world"}, tp.dialer.Last().Sent())

	assert.ErrorIs(t, tp.Send("missing", "x"), ErrSessionNotFound)

	tp.dialer.Last().Disconnect("Connection reset")
	waitState(t, s, StateDisconnected)
	assert.ErrorIs(t, tp.Send("botA", "x"), ErrNotConnected)
	assert.ErrorIs(t, tp.Force("botA", "Alice"), ErrNotConnected)
}

func TestPoolForcePersistsAcrossReconnect(t *testing.T) {
	tp := newTestPool(t, Config{})

	_, err := tp.Add(context.Background(), "botA", "user:pass:secretXYZ", "")
	require.NoError(t, err)
	s := tp.session(t, "botA")
	require.NoError(t, tp.Force("botA", "Alice"))

	tp.dialer.Last().Disconnect("Connection reset")
	waitState(t, s, StateDisconnected)
	assert.Equal(t, "Alice", s.Summary().ForceTarget)

	tp.clock.Add(DefaultReconnectDelay)
	waitState(t, s, StateActive)

	s.tick()
	assert.Equal(t, []string{"/msg Alice hello"}, tp.dialer.Last().Sent())
}

func TestPoolStopAll(t *testing.T) {
	tp := newTestPool(t, Config{})
	ctx := context.Background()

	for _, id := range []string{"bot1", "bot2"} {
		_, err := tp.Add(ctx, id, id+":pass:secret", "")
		require.NoError(t, err)
	}

	count, err := tp.StopAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Empty(t, tp.Status())

	for _, conn := range tp.dialer.Conns() {
		assert.True(t, conn.Closed())
	}
	stored, _ := tp.store.Count(ctx)
	assert.Equal(t, 0, stored)
}

func TestPoolCloseKeepsRecordsForRestore(t *testing.T) {
	tp := newTestPool(t, Config{})
	ctx := context.Background()

	_, err := tp.Add(ctx, "bot1", "bot1:pass:secret", "ws://one")
	require.NoError(t, err)
	_, err = tp.Add(ctx, "bot2", "bot2:pass:secret", "")
	require.NoError(t, err)
	require.NoError(t, tp.store.Save(ctx, &Record{ID: "broken", Credential: "not:valid"}))

	require.NoError(t, tp.Close())
	_, err = tp.Add(ctx, "bot3", "bot3:pass:secret", "")
	assert.ErrorIs(t, err, ErrPoolClosed)

	dialer := protocoltest.NewFakeDialer()
	restored := NewPool(&PoolConfig{
		Dialer:          dialer,
		Store:           tp.store,
		Clock:           tp.clock,
		DefaultEndpoint: "ws://game.test",
	})
	defer restored.Close()

	n, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	status := restored.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "bot1", status[0].ID)
	assert.Equal(t, "ws://one", status[0].Endpoint)
	assert.Equal(t, StateActive, status[1].State)

	_, err = tp.store.Get(ctx, "broken")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestPoolSnapshot(t *testing.T) {
	tp := newTestPool(t, Config{})
	ctx := context.Background()

	_, err := tp.Add(ctx, "bot1", "bot1:pass:secret", "")
	require.NoError(t, err)
	tp.dialer.SetError(errors.New("connection refused"))
	tp.Add(ctx, "bot2", "bot2:pass:secret", "")

	_, err = tp.BroadcastForce("Alice")
	require.NoError(t, err)

	snap := tp.Snapshot()
	assert.Equal(t, 1, snap.ByState["ACTIVE"])
	assert.Equal(t, 1, snap.ByState["DISCONNECTED"])
	assert.Equal(t, 1, snap.Forced)
}

package dispatch

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueIdempotent(t *testing.T) {
	q := NewQueue(QueueConfig{Clock: clock.NewMock()})

	assert.True(t, q.Enqueue("Steve"))
	assert.False(t, q.Enqueue("Steve"))
	assert.False(t, q.Enqueue("Steve"))
	assert.False(t, q.Enqueue(""))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, []string{"Steve"}, q.Targets())
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(QueueConfig{Clock: clock.NewMock()})
	for _, name := range []string{"a", "b", "c"} {
		require.True(t, q.Enqueue(name))
	}

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.DequeueNext()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := q.DequeueNext()
	assert.False(t, ok)
}

func TestQueueCooldown(t *testing.T) {
	mock := clock.NewMock()
	q := NewQueue(QueueConfig{Clock: mock, Cooldown: 5 * time.Second})

	require.True(t, q.Enqueue("Steve"))
	target, ok := q.DequeueNext()
	require.True(t, ok)
	q.MarkSent(target)
	assert.Equal(t, 1, q.CooldownCount())

	mock.Add(time.Millisecond)
	assert.False(t, q.Enqueue("Steve"), "target must be rejected while cooling down")
	assert.Equal(t, 0, q.Len())

	mock.Add(5 * time.Second)
	assert.Equal(t, 0, q.CooldownCount())
	assert.True(t, q.Enqueue("Steve"), "target must be accepted after cooldown")
}

func TestQueueCooldownBoundary(t *testing.T) {
	mock := clock.NewMock()
	q := NewQueue(QueueConfig{Clock: mock, Cooldown: 5 * time.Second})

	q.MarkSent("Alex")
	mock.Add(5*time.Second - time.Millisecond)
	assert.True(t, q.InCooldown("Alex"))
	mock.Add(time.Millisecond)
	assert.False(t, q.InCooldown("Alex"))
}

func TestQueueContinuousCapacity(t *testing.T) {
	q := NewQueue(QueueConfig{Clock: clock.NewMock(), Capacity: 3})

	assert.True(t, q.Enqueue("a"))
	assert.True(t, q.Enqueue("b"))
	assert.True(t, q.Enqueue("c"))
	assert.False(t, q.Enqueue("d"))
	assert.False(t, q.Paused())

	_, _ = q.DequeueNext()
	assert.True(t, q.Enqueue("d"), "continuous mode tops up as soon as there is room")
}

func TestQueueCycleMode(t *testing.T) {
	q := NewQueue(QueueConfig{Clock: clock.NewMock(), Capacity: 3, Mode: ModeCycle})

	for _, name := range []string{"a", "b", "c"} {
		require.True(t, q.Enqueue(name))
	}
	assert.True(t, q.Paused())

	_, _ = q.DequeueNext()
	assert.False(t, q.Enqueue("d"), "cycle mode waits for a full drain")

	_, _ = q.DequeueNext()
	_, _ = q.DequeueNext()
	assert.False(t, q.Paused())
	assert.True(t, q.Enqueue("d"))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("cycle")
	require.NoError(t, err)
	assert.Equal(t, ModeCycle, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeContinuous, m)

	_, err = ParseMode("bursty")
	assert.Error(t, err)
}

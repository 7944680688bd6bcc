// Package breaker 按服务器地址熔断拨号，避免整池会话同时重连一个不可用的服务器
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/aetherflow/sessionpool/internal/protocol"
)

// ErrOpen 熔断器打开时拨号直接失败
var ErrOpen = errors.New("breaker: endpoint circuit is open")

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常）
	StateClosed State = iota
	// StateHalfOpen 半开状态（探测）
	StateHalfOpen
	// StateOpen 打开状态（熔断）
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// 默认配置
const (
	DefaultFailures    = 5
	DefaultOpenTimeout = 30 * time.Second
)

// Config 熔断器配置
type Config struct {
	// Failures 连续失败多少次后熔断
	Failures int
	// OpenTimeout 打开状态持续时间，之后放行一次探测
	OpenTimeout time.Duration
	Clock       clock.Clock
	Logger      *zap.Logger
	// OnStateChange 状态变更回调
	OnStateChange func(endpoint string, from, to State)
}

type circuit struct {
	state    State
	failures int
	expiry   time.Time
	probing  bool
}

// Dialer 包装 protocol.Dialer，每个 endpoint 一个独立熔断器
type Dialer struct {
	next   protocol.Dialer
	config Config

	mu       sync.Mutex
	circuits map[string]*circuit
}

var _ protocol.Dialer = (*Dialer)(nil)

// New 创建带熔断的拨号器
func New(next protocol.Dialer, config Config) *Dialer {
	if config.Failures <= 0 {
		config.Failures = DefaultFailures
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = DefaultOpenTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Dialer{
		next:     next,
		config:   config,
		circuits: make(map[string]*circuit),
	}
}

// Dial 熔断打开时返回 ErrOpen，否则转发给下层拨号器并记录结果
func (d *Dialer) Dial(ctx context.Context, opts protocol.DialOptions) (protocol.Conn, error) {
	if err := d.beforeDial(opts.Endpoint); err != nil {
		return nil, err
	}

	conn, err := d.next.Dial(ctx, opts)
	// 调用方取消不算服务器故障
	if err != nil && ctx.Err() != nil {
		d.release(opts.Endpoint)
		return nil, err
	}
	d.afterDial(opts.Endpoint, err == nil)
	return conn, err
}

// State 返回 endpoint 当前状态
func (d *Dialer) State(endpoint string) State {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.circuits[endpoint]
	if !ok {
		return StateClosed
	}
	return d.currentState(endpoint, c)
}

// Reset 重置 endpoint 的熔断器
func (d *Dialer) Reset(endpoint string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.circuits[endpoint]; ok {
		c.failures = 0
		d.setState(endpoint, c, StateClosed)
		d.config.Logger.Info("Circuit breaker reset", zap.String("endpoint", endpoint))
	}
}

func (d *Dialer) beforeDial(endpoint string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.circuits[endpoint]
	if !ok {
		c = &circuit{}
		d.circuits[endpoint] = c
	}

	switch d.currentState(endpoint, c) {
	case StateOpen:
		return fmt.Errorf("%w: %s", ErrOpen, endpoint)
	case StateHalfOpen:
		// 半开状态只放行一个探测
		if c.probing {
			return fmt.Errorf("%w: %s", ErrOpen, endpoint)
		}
		c.probing = true
	}
	return nil
}

func (d *Dialer) afterDial(endpoint string, success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := d.circuits[endpoint]
	c.probing = false

	if success {
		c.failures = 0
		if c.state != StateClosed {
			d.setState(endpoint, c, StateClosed)
		}
		return
	}

	c.failures++
	switch c.state {
	case StateHalfOpen:
		d.setState(endpoint, c, StateOpen)
	case StateClosed:
		if c.failures >= d.config.Failures {
			d.setState(endpoint, c, StateOpen)
		}
	}
}

func (d *Dialer) release(endpoint string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.circuits[endpoint].probing = false
}

// currentState 打开状态超时后转为半开
func (d *Dialer) currentState(endpoint string, c *circuit) State {
	if c.state == StateOpen && !d.config.Clock.Now().Before(c.expiry) {
		d.setState(endpoint, c, StateHalfOpen)
	}
	return c.state
}

func (d *Dialer) setState(endpoint string, c *circuit, state State) {
	if c.state == state {
		return
	}

	prev := c.state
	c.state = state
	c.probing = false
	switch state {
	case StateOpen:
		c.expiry = d.config.Clock.Now().Add(d.config.OpenTimeout)
	case StateClosed:
		c.failures = 0
		c.expiry = time.Time{}
	}

	if d.config.OnStateChange != nil {
		d.config.OnStateChange(endpoint, prev, state)
	}

	d.config.Logger.Info("Circuit breaker state changed",
		zap.String("endpoint", endpoint),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
		zap.Int("failures", c.failures),
	)
}

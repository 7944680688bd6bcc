package session

import (
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aetherflow/sessionpool/internal/dispatch"
)

const (
	// DefaultHandshakeTimeout bounds dial plus login
	DefaultHandshakeTimeout = 30 * time.Second

	// DefaultReconnectDelay is the first (and, with multiplier 1, every) reconnect delay
	DefaultReconnectDelay = 10 * time.Second

	// DefaultMaxReconnectAttempts caps consecutive reconnects
	DefaultMaxReconnectAttempts = 3

	// DefaultBannedGrace is how long a banned session stays visible
	DefaultBannedGrace = time.Second

	// DefaultMessageTemplate renders one outbound line
	DefaultMessageTemplate = "/msg {target} {message}"

	// DefaultMessage is substituted for {message}
	DefaultMessage = "hello"
)

// Config contains per-session configuration
type Config struct {
	TickInterval  time.Duration
	SendInterval  time.Duration
	Cooldown      time.Duration
	QueueCapacity int
	QueueMode     dispatch.Mode

	Message         string
	MessageTemplate string

	HandshakeTimeout time.Duration

	// ReconnectDelay is the base delay. With ReconnectMultiplier > 1 each
	// further attempt waits longer, up to MaxReconnectDelay.
	ReconnectDelay      time.Duration
	ReconnectMultiplier float64
	MaxReconnectDelay   time.Duration
	// MaxReconnectAttempts of 0 means the default, negative disables reconnects
	MaxReconnectAttempts int

	BannedGrace time.Duration
}

// DefaultConfig returns the default session configuration
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = dispatch.DefaultTickInterval
	}
	if c.SendInterval <= 0 {
		c.SendInterval = dispatch.DefaultSendInterval
	}
	if c.Cooldown <= 0 {
		c.Cooldown = dispatch.DefaultCooldown
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = dispatch.DefaultCapacity
	}
	if c.Message == "" {
		c.Message = DefaultMessage
	}
	if c.MessageTemplate == "" {
		c.MessageTemplate = DefaultMessageTemplate
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.BannedGrace <= 0 {
		c.BannedGrace = DefaultBannedGrace
	}
	return c
}

// Render builds the outbound line for target
func (c Config) Render(target string) string {
	return strings.NewReplacer(
		"{target}", target,
		"{message}", c.Message,
	).Replace(c.MessageTemplate)
}

// newBackOff builds the reconnect schedule
func (c Config) newBackOff() backoff.BackOff {
	var base backoff.BackOff
	if c.ReconnectMultiplier <= 1 {
		base = backoff.NewConstantBackOff(c.ReconnectDelay)
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = c.ReconnectDelay
		exp.Multiplier = c.ReconnectMultiplier
		exp.RandomizationFactor = 0
		exp.MaxElapsedTime = 0
		if c.MaxReconnectDelay > 0 {
			exp.MaxInterval = c.MaxReconnectDelay
		}
		exp.Reset()
		base = exp
	}

	attempts := c.MaxReconnectAttempts
	if attempts < 0 {
		attempts = 0
	}
	return backoff.WithMaxRetries(base, uint64(attempts))
}

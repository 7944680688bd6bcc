// Package protocol defines the boundary between a session and the game
// server it talks to. The session manager only sees Dialer, Conn and the
// events a Conn delivers; the wire format lives in an implementation
// package such as wsclient.
package protocol

import (
	"context"
	"errors"
)

// EventType identifies an inbound protocol event
type EventType int

const (
	// EventReady is emitted once the server has accepted the login
	EventReady EventType = iota
	// EventChat carries one inbound chat line
	EventChat
	// EventDisconnected is the last event a Conn emits
	EventDisconnected
)

// String returns string representation of the event type
func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventChat:
		return "chat"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one inbound protocol event
type Event struct {
	Type EventType
	// Text is the raw chat line for EventChat
	Text string
	// Reason is the server supplied kick or close reason for EventDisconnected
	Reason string
}

// DialOptions describe the identity a connection logs in with
type DialOptions struct {
	Endpoint  string
	Username  string
	ProfileID string
	Secret    string
}

// ErrClosed is returned by Send on a closed connection
var ErrClosed = errors.New("protocol: connection closed")

// Conn is an established connection.
//
// Events delivers inbound events in order. At most one EventDisconnected is
// delivered, after which the channel is closed. Close is idempotent; the
// channel is closed shortly after, possibly following a final
// EventDisconnected.
type Conn interface {
	Events() <-chan Event
	Send(text string) error
	Close() error
}

// Dialer opens connections
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Conn, error)
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(ctx context.Context, opts DialOptions) (Conn, error)

// Dial calls f
func (f DialerFunc) Dial(ctx context.Context, opts DialOptions) (Conn, error) {
	return f(ctx, opts)
}

/*
@Author: Lzww
@LastEditTime: 2025-11-9 17:14:20
@Description: Session model
@Language: Go
*/
package session

import (
	"time"
)

// State represents session state
type State int

const (
	// StateConnecting is when the transport is being opened
	StateConnecting State = iota
	// StateHandshakeWait is when the transport is open and login is pending
	StateHandshakeWait
	// StateActive is when the session is logged in and dispatching
	StateActive
	// StateDisconnected is when the session has no transport; it may reconnect
	StateDisconnected
	// StateBanned is terminal
	StateBanned
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateHandshakeWait:
		return "HANDSHAKE_WAIT"
	case StateActive:
		return "ACTIVE"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateBanned:
		return "BANNED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Live reports whether the session owns, or is acquiring, a transport
func (s State) Live() bool {
	return s == StateConnecting || s == StateHandshakeWait || s == StateActive
}

// Summary is a point-in-time view of one session
type Summary struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"display_name"`
	State         State     `json:"state"`
	Endpoint      string    `json:"endpoint"`
	QueueLength   int       `json:"queue_length"`
	CooldownCount int       `json:"cooldown_count"`
	Attempts      int       `json:"reconnect_attempts"`
	LastReason    string    `json:"last_reason,omitempty"`
	LastClass     string    `json:"last_class,omitempty"`
	// Exhausted is set once the reconnect budget is spent; no retry is pending
	Exhausted     bool      `json:"reconnect_exhausted"`
	LastError     string    `json:"last_error,omitempty"`
	ForceTarget   string    `json:"force_target,omitempty"`
	SentCount     uint64    `json:"sent_count"`
	LastActivity  time.Time `json:"last_activity"`
	Expiry        time.Time `json:"expiry,omitempty"`
}

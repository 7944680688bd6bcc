package session

import (
	"errors"

	"github.com/aetherflow/sessionpool/internal/credential"
)

var (
	// ErrMalformedCredential is returned by Add for unparsable or expired credentials
	ErrMalformedCredential = credential.ErrMalformedCredential

	// ErrAlreadyRunning is returned when a session id is already registered
	// or a session is already connecting or active
	ErrAlreadyRunning = errors.New("session already running")

	// ErrHandshakeTimeout is returned when login does not complete in time
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrNotConnected is returned by sends on a session that is not active
	ErrNotConnected = errors.New("session not connected")

	// ErrReconnectExhausted is reported when the reconnect budget is spent
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrBanned is reported once when a session reaches the banned state
	ErrBanned = errors.New("session banned")

	// ErrSessionNotFound is returned for unknown session ids
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned for operations on a removed session
	ErrSessionClosed = errors.New("session closed")

	// ErrEndpointRequired is returned by Add when no endpoint is known
	ErrEndpointRequired = errors.New("endpoint required")

	// ErrEmptyTarget is returned when a force target is empty
	ErrEmptyTarget = errors.New("empty target")

	// ErrPoolClosed is returned by Add after Close
	ErrPoolClosed = errors.New("session pool closed")
)

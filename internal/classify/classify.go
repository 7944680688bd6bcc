// Package classify maps disconnect and kick reasons onto the reconnect policy.
package classify

import "strings"

// Class is the outcome of classifying a disconnect reason
type Class int

const (
	// Unknown is returned for an empty reason
	Unknown Class = iota
	// Transient covers network resets, timeouts and anything unrecognised
	Transient
	// RateLimited means the remote refused us for connecting too often or
	// because the identity is already online elsewhere
	RateLimited
	// PermanentBan means the identity can no longer send messages
	PermanentBan
)

// String returns string representation of class
func (c Class) String() string {
	switch c {
	case Transient:
		return "TRANSIENT"
	case RateLimited:
		return "RATE_LIMITED"
	case PermanentBan:
		return "PERMANENT_BAN"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no reconnect may follow
func (c Class) Terminal() bool {
	return c == PermanentBan
}

// Muted or chat-restricted identities are treated like bans: a session that
// cannot send has nothing left to do.
var banTokens = []string{
	"banned",
	"blacklisted",
	"suspended",
	"muted",
	"restricted chat",
	"chat restricted",
	"chat is restricted",
	"chat is disabled",
}

var rateLimitTokens = []string{
	"already online",
	"already connected",
	"already logged in",
	"duplicate login",
	"logged in from another location",
	"too many",
	"rate limit",
	"ratelimit",
	"throttled",
	"slow down",
}

// Classify maps a disconnect reason to a Class using case-insensitive
// substring matching. It holds no state.
func Classify(reason string) Class {
	text := strings.ToLower(strings.TrimSpace(reason))
	if text == "" {
		return Unknown
	}
	if containsAny(text, banTokens) {
		return PermanentBan
	}
	if containsAny(text, rateLimitTokens) {
		return RateLimited
	}
	return Transient
}

func containsAny(text string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

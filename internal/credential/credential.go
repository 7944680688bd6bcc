// Package credential parses raw account credential strings into the
// identity a session connects with.
//
// The raw form is `account:password:secret`. Only the first two delimiters
// are structural; everything after the second one is the secret, so secrets
// that themselves contain the delimiter survive intact. A bare secret with no
// delimiter is accepted as well, and `::secret` is the canonical spelling of
// that secret-only form.
//
// When the secret is a JWT its claims are decoded (without verifying the
// signature, the remote endpoint does that) to recover the display name,
// profile id and expiry.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Delimiter separates the structural fields of a raw credential
const Delimiter = ":"

const fieldCount = 3

// ErrMalformedCredential is returned for any input Parse cannot accept
var ErrMalformedCredential = errors.New("malformed credential")

// Credential is an immutable connection identity
type Credential struct {
	// DisplayID is the name the session is known by remotely
	DisplayID string
	// Account is the login (usually an email), empty for secret-only input
	Account string
	// Password is carried for completeness and never logged
	Password string
	// Secret is the opaque authentication artifact used for the handshake
	Secret string
	// ProfileID uniquely identifies the remote profile
	ProfileID string
	// Expiry is zero when the secret carries no expiry
	Expiry time.Time
	// Issuer and XUID are informational JWT claims
	Issuer string
	XUID   string
	// HasProfile is false when the secret is a JWT without a profile claim
	HasProfile bool
}

// Parse extracts a Credential from raw. It never returns a partially
// populated Credential. Fields are taken verbatim so that
// Parse(Format(c)) round-trips, surrounding whitespace included.
func Parse(raw string) (Credential, error) {
	if strings.TrimSpace(raw) == "" {
		return Credential{}, fmt.Errorf("%w: empty input", ErrMalformedCredential)
	}

	var c Credential
	parts := strings.SplitN(raw, Delimiter, fieldCount)
	switch len(parts) {
	case 1:
		c.Secret = parts[0]
	case fieldCount:
		c.Account, c.Password, c.Secret = parts[0], parts[1], parts[2]
		if c.Account == "" && c.Password != "" {
			return Credential{}, fmt.Errorf("%w: password without account", ErrMalformedCredential)
		}
	default:
		return Credential{}, fmt.Errorf("%w: expected account%spassword%ssecret or a bare secret",
			ErrMalformedCredential, Delimiter, Delimiter)
	}

	if strings.TrimSpace(c.Secret) == "" {
		return Credential{}, fmt.Errorf("%w: empty secret", ErrMalformedCredential)
	}

	if looksLikeJWT(c.Secret) {
		if err := c.applyClaims(); err != nil {
			return Credential{}, err
		}
	} else {
		c.HasProfile = true
	}

	if c.DisplayID == "" {
		c.DisplayID = fallbackDisplayID(c.Account, c.Secret)
	}
	if c.ProfileID == "" {
		c.ProfileID = "cred-" + secretDigest(c.Secret)[:16]
	}

	return c, nil
}

// Format renders c back into its raw form
func Format(c Credential) string {
	return strings.Join([]string{c.Account, c.Password, c.Secret}, Delimiter)
}

// Expired reports whether the secret carries an expiry at or before now
func (c Credential) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && !now.Before(c.Expiry)
}

// String never includes the password or the secret
func (c Credential) String() string {
	if c.Account == "" {
		return fmt.Sprintf("%s (secret: %d chars)", c.DisplayID, len(c.Secret))
	}
	return fmt.Sprintf("%s <%s> (secret: %d chars)", c.DisplayID, c.Account, len(c.Secret))
}

// looksLikeJWT only matches compact JWS tokens with a JSON header
func looksLikeJWT(s string) bool {
	segments := strings.Split(s, ".")
	if len(segments) != 3 {
		return false
	}
	for _, seg := range segments {
		if seg == "" {
			return false
		}
	}
	return strings.HasPrefix(segments[0], "eyJ")
}

func (c *Credential) applyClaims() error {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithPaddingAllowed())
	if _, _, err := parser.ParseUnverified(c.Secret, claims); err != nil {
		return fmt.Errorf("%w: token: %v", ErrMalformedCredential, err)
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		c.Expiry = exp.Time
	}
	if iss, err := claims.GetIssuer(); err == nil {
		c.Issuer = iss
	}
	c.XUID = claimString(claims["xuid"])

	if pfd, ok := claims["pfd"].([]interface{}); ok && len(pfd) > 0 {
		if first, ok := pfd[0].(map[string]interface{}); ok {
			c.DisplayID = claimString(first["name"])
			c.ProfileID = claimString(first["id"])
		}
	}
	if profiles, ok := claims["profiles"].(map[string]interface{}); ok {
		if mc := claimString(profiles["mc"]); mc != "" {
			c.ProfileID = mc
		}
	}
	c.HasProfile = c.ProfileID != ""

	return nil
}

func claimString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return fmt.Sprintf("%.0f", val)
	default:
		return fmt.Sprint(val)
	}
}

func fallbackDisplayID(account, secret string) string {
	if account != "" {
		if at := strings.IndexByte(account, '@'); at > 0 {
			return account[:at]
		}
		return account
	}
	return "Player" + secretDigest(secret)[:6]
}

func secretDigest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

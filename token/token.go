// Package token decodes compact identity tokens into their claims.
//
// Decoding does NOT verify the token signature: tokens reach this package
// only after the backend code-exchange step, which is where trust in the
// token is established. The decoded claims are used to extract the user's
// identity and, later, to check expiry when restoring a persisted session.
package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4/jwt"
)

var (
	ErrMalformedToken = errors.New("malformed identity token")
	ErrMissingClaim   = errors.New("identity token missing mandatory claim")
)

// Claims is the decoded payload of an identity token.
type Claims struct {
	Issuer   string
	Audience string
	Subject  string
	Expiry   time.Time
	IssuedAt time.Time

	Email   string
	Name    string
	Picture string

	// Payload is the full decoded payload object, untouched by the typed
	// fields above.
	Payload map[string]any
}

// identityClaims are the provider-specific profile claims.
type identityClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Decode parses a compact three-segment token and returns its claims.
// Only the payload segment is interpreted: the header is not inspected
// and the signature segment is not verified, so any structurally valid
// token decodes regardless of its algorithm.
func Decode(raw string) (*Claims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments", ErrMalformedToken)
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, fmt.Errorf("%w: payload segment: %v", ErrMalformedToken, err)
	}

	// jwt.Claims handles the registered-claim shapes (aud as string or
	// array, exp/iat as NumericDate).
	var std jwt.Claims
	if err := json.Unmarshal(payload, &std); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	var ident identityClaims
	if err := json.Unmarshal(payload, &ident); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	var full map[string]any
	if err := json.Unmarshal(payload, &full); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	c := &Claims{
		Issuer:  std.Issuer,
		Subject: std.Subject,
		Email:   ident.Email,
		Name:    ident.Name,
		Picture: ident.Picture,
		Payload: full,
	}
	if len(std.Audience) > 0 {
		c.Audience = std.Audience[0]
	}
	if std.Expiry != nil {
		c.Expiry = std.Expiry.Time()
	}
	if std.IssuedAt != nil {
		c.IssuedAt = std.IssuedAt.Time()
	}
	return c, nil
}

// RequireIdentity checks the claims mandatory for establishing a user
// identity. Email and name must both be present.
func (c *Claims) RequireIdentity() error {
	if c.Email == "" {
		return fmt.Errorf("%w: email", ErrMissingClaim)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: name", ErrMissingClaim)
	}
	return nil
}

// Expired reports whether the token is no longer valid at the given time.
// A token without an expiry claim is treated as expired: a persisted
// session is honored only when the token carries a future exp.
func (c *Claims) Expired(now time.Time) bool {
	if c.Expiry.IsZero() {
		return true
	}
	return !now.Before(c.Expiry)
}

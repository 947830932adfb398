// Package provider bridges to the external identity provider's
// authorization-code flow.
//
// The flow is deliberately asynchronous: RequestCode only triggers the
// user-facing consent step, and the resulting code (or the provider's
// denial) is delivered later through the callback bound at construction.
// Success and user-driven cancellation arrive through the same channel;
// neither is raised as a panic or a late return value.
package provider

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	// ErrMissingClientID is returned when the provider client ID is not
	// configured. This is a hard failure before any network activity.
	ErrMissingClientID = errors.New("provider: missing client ID")

	// ErrClientUnavailable is returned when the provider client cannot be
	// brought up at all (e.g. the loopback listener cannot bind). The flow
	// fails fast instead of hanging.
	ErrClientUnavailable = errors.New("provider: client unavailable")
)

// CodeResult is the outcome of one authorization attempt. Exactly one of
// Code and Err is set.
type CodeResult struct {
	Code string
	Err  error
}

// CodeCallback receives the outcome of an authorization attempt. It is
// invoked at most once per RequestCode call, at an arbitrary later time.
type CodeCallback func(CodeResult)

// CodeClient triggers the provider's authorization step. Implementations
// deliver the outcome through the callback bound at construction, never
// through the RequestCode return value.
type CodeClient interface {
	// RequestCode starts an authorization attempt. A non-nil error means
	// the attempt could not be started at all; once RequestCode returns
	// nil, the bound callback will eventually fire with the outcome
	// (including ctx cancellation).
	RequestCode(ctx context.Context) error
}

// Error is an error reported by the identity provider itself, e.g. the
// user denying the consent screen.
type Error struct {
	Code        string
	Description string
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider error: %s (%s)", e.Code, e.Description)
	}
	return fmt.Sprintf("provider error: %s", e.Code)
}

// stateLength is the number of random bytes behind the state parameter.
const stateLength = 32

// generateState creates a random, URL-safe state string binding the
// authorization request to its callback.
func generateState() (string, error) {
	b := make([]byte, stateLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Package auth is the single source of truth for authentication state.
//
// The Service orchestrates the whole sign-in flow: it triggers the
// provider's authorization step, exchanges the resulting code for an
// identity token through the trusted backend, derives the deterministic
// account address, persists the authenticated user, and emits the
// wallet-connection trigger. Consumers observe the flow exclusively through
// the published AuthState; no step leaks a failure past the Service other
// than as a state update (methods additionally mirror the failure in their
// return value for Go callers).
package auth

import (
	"time"

	"github.com/veralux/authbridge/zklogin"
)

// Provider identifies the identity source of an AuthUser.
type Provider string

// ProviderGoogle is currently the only supported identity source.
const ProviderGoogle Provider = "google"

// Storage keys for persisted auth records.
const (
	// StorageKeyUser is the durable authenticated-user record.
	StorageKeyUser = "veralux_auth_user"
	// StorageKeyBridge is the session-scoped record of the last OAuth
	// exchange, read by other parts of the application for inspection.
	StorageKeyBridge = "veralux_google_auth"
	// StorageKeySalts is the durable per-subject salt map. Keeping the
	// salt stable per user keeps the derived address stable across
	// sessions.
	StorageKeySalts = "veralux_user_salts"
)

// AuthUser is the authenticated identity record. It is created once per
// successful sign-in and replaced wholesale by the next one; it is never
// mutated field-by-field after creation.
type AuthUser struct {
	Address          string                    `json:"address"`
	Email            string                    `json:"email"`
	Name             string                    `json:"name"`
	Picture          string                    `json:"picture,omitempty"`
	Provider         Provider                  `json:"provider"`
	JWT              string                    `json:"jwt"`
	EphemeralKeyPair *zklogin.EphemeralKeyPair `json:"ephemeralKeyPair"`
	MaxEpoch         uint64                    `json:"maxEpoch"`
	JWTRandomness    string                    `json:"jwtRandomness"`
	UserSalt         string                    `json:"userSalt"`
}

// AuthState is the externally observable authentication state.
type AuthState struct {
	User            *AuthUser
	IsAuthenticated bool
	IsLoading       bool
	// Err is the last failure message, cleared at the start of each new
	// attempt. Empty means no error.
	Err string
}

// bridgeRecord is the session-scoped snapshot of the last OAuth exchange
// (StorageKeyBridge).
type bridgeRecord struct {
	JWT       string         `json:"jwt"`
	UserInfo  bridgeUserInfo `json:"userInfo"`
	Timestamp time.Time      `json:"timestamp"`
	Address   string         `json:"address"`
	Email     string         `json:"email"`
	Name      string         `json:"name"`
	Picture   string         `json:"picture"`
}

type bridgeUserInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// cloneState returns a snapshot safe to hand to callers: the caller may
// inspect but not reach back into the Service's copy.
func cloneState(st AuthState) AuthState {
	if st.User != nil {
		u := *st.User
		if u.EphemeralKeyPair != nil {
			kp := *u.EphemeralKeyPair
			u.EphemeralKeyPair = &kp
		}
		st.User = &u
	}
	return st
}

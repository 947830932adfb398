package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/veralux/authbridge/events"
	"github.com/veralux/authbridge/provider"
	"github.com/veralux/authbridge/storage"
	"github.com/veralux/authbridge/token"
	"github.com/veralux/authbridge/zklogin"
)

// ErrSignInInFlight is returned when a sign-in attempt is started while a
// previous one has not completed. At most one attempt runs at a time.
var ErrSignInInFlight = errors.New("auth: sign-in already in progress")

// Exchanger trades an authorization code for an identity token.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (string, error)
}

// ClientFactory constructs the provider code client with the flow's
// callback bound. It is invoked lazily by InitializeGoogle so that
// configuration failures surface through AuthState rather than at
// Service construction.
type ClientFactory func(cb provider.CodeCallback) (provider.CodeClient, error)

// Listener observes state changes. Listeners are invoked synchronously,
// in subscription order, after every change.
type Listener func(AuthState)

type stateListener struct {
	fn Listener
}

// attempt tracks one in-flight sign-in.
type attempt struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Service orchestrates the sign-in flow and holds the process-wide
// authentication state. All mutations flow through its methods.
type Service struct {
	mu        sync.Mutex
	state     AuthState
	listeners []*stateListener

	newClient ClientFactory
	client    provider.CodeClient
	exchanger Exchanger
	durable   storage.Store
	session   storage.Store
	bus       *events.Bus

	now       func() time.Time
	popupWait time.Duration

	inFlight bool
	nextID   uint64
	cur      *attempt
}

// Option configures a Service.
type Option func(*Service)

// WithClock substitutes the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithPopupTimeout bounds how long an attempt may wait for the provider's
// callback. Zero (the default) waits indefinitely, matching the provider's
// own semantics: an abandoned consent screen only resolves when the
// provider reports it.
func WithPopupTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.popupWait = d
	}
}

// NewService creates a Service. durable holds records that survive
// restarts (the authenticated user and the per-subject salts); session
// holds process-lifetime bridge records.
func NewService(newClient ClientFactory, ex Exchanger, durable, session storage.Store, bus *events.Bus, opts ...Option) *Service {
	s := &Service{
		newClient: newClient,
		exchanger: ex,
		durable:   durable,
		session:   session,
		bus:       bus,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a listener and returns its disposer. Duplicate
// registrations are permitted and each fires per change.
func (s *Service) Subscribe(fn Listener) func() {
	l := &stateListener{fn: fn}
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, cur := range s.listeners {
				if cur == l {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					break
				}
			}
		})
	}
}

// State returns the current state snapshot. Callers must not mutate it.
func (s *Service) State() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.state)
}

// commit applies mutate to the state under the lock, then notifies
// listeners outside it.
func (s *Service) commit(mutate func(*AuthState)) {
	s.mu.Lock()
	mutate(&s.state)
	snap, ls := s.snapshotLocked()
	s.mu.Unlock()
	notify(snap, ls)
}

func (s *Service) snapshotLocked() (AuthState, []*stateListener) {
	ls := make([]*stateListener, len(s.listeners))
	copy(ls, s.listeners)
	return cloneState(s.state), ls
}

func notify(snap AuthState, ls []*stateListener) {
	for _, l := range ls {
		l.fn(snap)
	}
}

// InitializeGoogle constructs the provider code client. It is idempotent:
// once a client exists, subsequent calls return immediately. Failures
// (missing configuration, client bring-up) land in AuthState.Err and leave
// User untouched.
func (s *Service) InitializeGoogle() error {
	s.mu.Lock()
	if s.client != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.commit(func(st *AuthState) {
		st.IsLoading = true
		st.Err = ""
	})

	client, err := s.newClient(s.onCodeResult)
	if err != nil {
		s.commit(func(st *AuthState) {
			st.IsLoading = false
			st.Err = fmt.Sprintf("failed to initialize Google sign-in: %v", err)
		})
		return err
	}

	s.mu.Lock()
	if s.client == nil {
		s.client = client
	}
	s.mu.Unlock()

	s.commit(func(st *AuthState) {
		st.IsLoading = false
	})
	return nil
}

// SignInWithGoogle starts one sign-in attempt. The heavy lifting happens
// asynchronously: the provider invokes the bound callback with the
// authorization code (or its error) at an arbitrary later time, and the
// rest of the flow runs from there. Only one attempt may be in flight.
func (s *Service) SignInWithGoogle(ctx context.Context) error {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return ErrSignInInFlight
	}
	s.inFlight = true
	s.nextID++
	id := s.nextID
	var actx context.Context
	var cancel context.CancelFunc
	if s.popupWait > 0 {
		actx, cancel = context.WithTimeout(ctx, s.popupWait)
	} else {
		actx, cancel = context.WithCancel(ctx)
	}
	s.cur = &attempt{id: id, ctx: actx, cancel: cancel}
	s.mu.Unlock()

	if err := s.InitializeGoogle(); err != nil {
		s.endAttempt(id)
		return err
	}

	s.commit(func(st *AuthState) {
		st.IsLoading = true
		st.Err = ""
	})

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if err := client.RequestCode(actx); err != nil {
		s.failAttempt(id, fmt.Sprintf("failed to request authorization: %v", err))
		return err
	}

	// Watchdog: if the attempt context ends first (caller cancellation or
	// the configured popup timeout), the attempt fails instead of leaving
	// the state loading forever.
	go func() {
		<-actx.Done()
		s.failAttempt(id, fmt.Sprintf("sign-in not completed: %v", context.Cause(actx)))
	}()
	return nil
}

// onCodeResult is the callback bound into the provider client. It carries
// the flow from authorization code to completed authentication.
func (s *Service) onCodeResult(res provider.CodeResult) {
	s.mu.Lock()
	if !s.inFlight || s.cur == nil {
		// No attempt to attach this result to; a stale provider callback.
		s.mu.Unlock()
		return
	}
	id := s.cur.id
	ctx := s.cur.ctx
	s.mu.Unlock()

	if res.Err != nil {
		s.failAttempt(id, fmt.Sprintf("sign-in failed: %v", res.Err))
		return
	}

	jwt, err := s.exchanger.Exchange(ctx, res.Code)
	if err != nil {
		s.failAttempt(id, err.Error())
		return
	}

	s.complete(ctx, id, jwt)
}

// CompleteAuthentication runs the terminal success path for an identity
// token obtained out of band: it validates the token's identity claims,
// generates the ephemeral key material, derives the account address,
// persists the user, and fires the wallet-connection trigger.
func (s *Service) CompleteAuthentication(ctx context.Context, rawJWT string) error {
	s.mu.Lock()
	var id uint64
	if s.cur != nil {
		id = s.cur.id
	}
	s.mu.Unlock()
	return s.complete(ctx, id, rawJWT)
}

func (s *Service) complete(ctx context.Context, id uint64, rawJWT string) error {
	fail := func(err error) error {
		s.finish(id, func(st *AuthState) {
			st.IsLoading = false
			st.Err = err.Error()
		})
		return err
	}

	claims, err := token.Decode(rawJWT)
	if err != nil {
		return fail(err)
	}
	if err := claims.RequireIdentity(); err != nil {
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("sign-in not completed: %w", err))
	}

	keyPair, err := zklogin.GenerateEphemeralKeyPair()
	if err != nil {
		return fail(fmt.Errorf("ephemeral key generation: %w", err))
	}
	randomness, err := zklogin.GenerateRandomness()
	if err != nil {
		return fail(fmt.Errorf("randomness generation: %w", err))
	}
	// The nonce binds the ephemeral key to this attempt; it is derived
	// here but not forwarded to the provider's authorization request.
	if _, err := zklogin.ComputeNonce(keyPair.PublicKey, zklogin.DefaultMaxEpoch, randomness); err != nil {
		return fail(fmt.Errorf("nonce derivation: %w", err))
	}

	salt, err := s.saltFor(claims.Subject)
	if err != nil {
		return fail(fmt.Errorf("salt retrieval: %w", err))
	}

	address, err := zklogin.DeriveAddress(claims.Issuer, claims.Audience, claims.Subject, salt)
	if err != nil {
		return fail(fmt.Errorf("address derivation: %w", err))
	}

	user := &AuthUser{
		Address:          address,
		Email:            claims.Email,
		Name:             claims.Name,
		Picture:          claims.Picture,
		Provider:         ProviderGoogle,
		JWT:              rawJWT,
		EphemeralKeyPair: keyPair,
		MaxEpoch:         zklogin.DefaultMaxEpoch,
		JWTRandomness:    randomness,
		UserSalt:         salt,
	}

	if err := s.persist(user, claims); err != nil {
		return fail(fmt.Errorf("persisting session: %w", err))
	}

	if !s.finish(id, func(st *AuthState) {
		st.User = user
		st.IsAuthenticated = true
		st.IsLoading = false
		st.Err = ""
	}) {
		// The attempt ended while this completion was running; its outcome
		// already stands, so neither the state nor the wallet trigger fire.
		return fmt.Errorf("sign-in not completed: attempt ended")
	}

	s.bus.Emit(events.TopicWalletConnection, events.WalletConnectionDetail{
		Source:    events.SourceGoogleOAuth,
		Timestamp: s.now(),
	})
	return nil
}

// saltFor returns the stable salt for a subject, generating and persisting
// one on first sight. A stable per-user salt keeps the derived address
// identical across sessions.
func (s *Service) saltFor(subject string) (string, error) {
	salts := make(map[string]string)
	raw, ok, err := s.durable.Get(StorageKeySalts)
	if err != nil {
		return "", err
	}
	if ok {
		if err := json.Unmarshal(raw, &salts); err != nil {
			return "", fmt.Errorf("corrupt salt record: %w", err)
		}
	}
	if salt, ok := salts[subject]; ok {
		return salt, nil
	}

	salt, err := zklogin.GenerateSalt()
	if err != nil {
		return "", err
	}
	salts[subject] = salt
	out, err := json.Marshal(salts)
	if err != nil {
		return "", err
	}
	if err := s.durable.Set(StorageKeySalts, out); err != nil {
		return "", err
	}
	return salt, nil
}

func (s *Service) persist(user *AuthUser, claims *token.Claims) error {
	rec, err := json.Marshal(user)
	if err != nil {
		return err
	}
	if err := s.durable.Set(StorageKeyUser, rec); err != nil {
		return err
	}

	bridge, err := json.Marshal(bridgeRecord{
		JWT: user.JWT,
		UserInfo: bridgeUserInfo{
			Sub:     claims.Subject,
			Email:   claims.Email,
			Name:    claims.Name,
			Picture: claims.Picture,
		},
		Timestamp: s.now(),
		Address:   user.Address,
		Email:     user.Email,
		Name:      user.Name,
		Picture:   user.Picture,
	})
	if err != nil {
		return err
	}
	return s.session.Set(StorageKeyBridge, bridge)
}

// SignOut clears persisted records and resets the state to initial. The
// in-memory user is cleared even when storage fails; the storage failure
// is then surfaced through AuthState.Err.
func (s *Service) SignOut() error {
	var storeErr error
	if err := s.durable.Delete(StorageKeyUser); err != nil {
		storeErr = err
	}
	if err := s.session.Delete(StorageKeyBridge); err != nil && storeErr == nil {
		storeErr = err
	}

	s.mu.Lock()
	if s.cur != nil {
		s.cur.cancel()
		s.cur = nil
	}
	s.inFlight = false
	s.state = AuthState{}
	if storeErr != nil {
		s.state.Err = fmt.Sprintf("sign-out storage cleanup: %v", storeErr)
	}
	snap, ls := s.snapshotLocked()
	s.mu.Unlock()
	notify(snap, ls)

	return storeErr
}

// LoadStoredUser restores a persisted session at startup. An expired,
// malformed, or unreadable record is purged silently: failing to restore
// is an expected, non-exceptional path and never surfaces through
// AuthState.Err.
func (s *Service) LoadStoredUser() error {
	raw, ok, err := s.durable.Get(StorageKeyUser)
	if err != nil {
		// Unreadable records (e.g. sealed under a retired key) are purged
		// like expired ones.
		s.durable.Delete(StorageKeyUser)
		return nil
	}
	if !ok {
		return nil
	}

	var user AuthUser
	if err := json.Unmarshal(raw, &user); err != nil {
		s.durable.Delete(StorageKeyUser)
		return nil
	}

	claims, err := token.Decode(user.JWT)
	if err != nil || claims.Expired(s.now()) {
		s.durable.Delete(StorageKeyUser)
		return nil
	}

	s.commit(func(st *AuthState) {
		st.User = &user
		st.IsAuthenticated = true
		st.IsLoading = false
		st.Err = ""
	})
	return nil
}

// failAttempt ends attempt id with an error message. Stale calls (the
// attempt already ended, or a newer one started) are ignored.
func (s *Service) failAttempt(id uint64, msg string) {
	s.mu.Lock()
	if !s.inFlight || s.cur == nil || s.cur.id != id {
		s.mu.Unlock()
		return
	}
	cancel := s.cur.cancel
	s.inFlight = false
	s.cur = nil
	s.state.IsLoading = false
	s.state.Err = msg
	snap, ls := s.snapshotLocked()
	s.mu.Unlock()

	cancel()
	notify(snap, ls)
}

// finish applies a terminal state mutation and ends attempt id. With a
// zero id it applies unconditionally (standalone CompleteAuthentication).
// With a non-zero id it applies only while that attempt is still current:
// once the attempt has ended elsewhere, say through the timeout watchdog,
// a late completion must not overwrite the already-published outcome.
// Reports whether the mutation was applied.
func (s *Service) finish(id uint64, mutate func(*AuthState)) bool {
	s.mu.Lock()
	var cancel context.CancelFunc
	if id != 0 {
		if s.cur == nil || s.cur.id != id {
			s.mu.Unlock()
			return false
		}
		cancel = s.cur.cancel
		s.inFlight = false
		s.cur = nil
	}
	mutate(&s.state)
	snap, ls := s.snapshotLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	notify(snap, ls)
	return true
}

// endAttempt releases attempt id without touching state.
func (s *Service) endAttempt(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil && s.cur.id == id {
		s.cur.cancel()
		s.inFlight = false
		s.cur = nil
	}
}

// Package server implements the trusted backend boundary of the auth
// bridge: the token-exchange endpoint that trades an authorization code
// for a verified identity token. The client never sees the OAuth client
// secret; it lives only here.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/veralux/authbridge/exchange"
)

// googleIssuer is the OIDC discovery issuer for Google.
const googleIssuer = "https://accounts.google.com"

// TokenVerifier checks a raw ID token's signature and standard claims.
// *oidc.IDTokenVerifier satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

type exchangeRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri"`
}

// Handler serves POST /api/auth/google.
type Handler struct {
	conf     *oauth2.Config
	verifier TokenVerifier
	logger   *slog.Logger
	handler  http.Handler
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger (default slog.Default).
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// NewHandler creates a Handler from an explicit config and verifier.
// A nil verifier skips ID-token verification; production callers should
// always supply one.
func NewHandler(conf *oauth2.Config, verifier TokenVerifier, opts ...Option) *Handler {
	h := &Handler{
		conf:     conf,
		verifier: verifier,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/google", h.handleGoogle)
	h.handler = requestLog(h.logger, mux)
	return h
}

// NewGoogleHandler performs OIDC discovery against Google and returns a
// ready Handler. Makes an outbound request to accounts.google.com.
func NewGoogleHandler(ctx context.Context, clientID, clientSecret string, opts ...Option) (*Handler, error) {
	p, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, err
	}
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     p.Endpoint(),
		RedirectURL:  exchange.RedirectModePostMessage,
	}
	return NewHandler(conf, p.Verifier(&oidc.Config{ClientID: clientID}), opts...), nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *Handler) handleGoogle(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "missing code")
		return
	}

	conf := *h.conf
	if req.RedirectURI != "" {
		conf.RedirectURL = req.RedirectURI
	}

	tok, err := conf.Exchange(r.Context(), req.Code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.ErrorCode != "" {
			writeError(w, http.StatusBadRequest, rerr.ErrorCode)
			return
		}
		writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		writeError(w, http.StatusBadGateway, "no id_token returned")
		return
	}

	if h.verifier != nil {
		if _, err := h.verifier.Verify(r.Context(), rawIDToken); err != nil {
			writeError(w, http.StatusUnauthorized, "id_token verification failed")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"jwt": rawIDToken})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError emits the fixed {"error": ...} shape consumed by the
// exchange client.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

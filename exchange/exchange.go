// Package exchange trades a short-lived authorization code for a long-lived
// identity token via the trusted backend. This is a network boundary:
// transient failures and protocol failures surface through the same error
// channel, and no automatic retry is performed.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var ErrNoToken = errors.New("exchange: no token in response")

// RedirectModePostMessage is the fixed redirect marker sent with every
// exchange. It tells the backend the code came from a popup-style flow
// rather than a full-page redirect.
const RedirectModePostMessage = "postmessage"

// maxErrorBody bounds how much of an error response body is read.
const maxErrorBody = 4096

type exchangeRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri"`
}

type exchangeResponse struct {
	JWT   string `json:"jwt"`
	Error string `json:"error"`
}

// Client posts authorization codes to the backend token endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// NewClient creates a Client for the given token endpoint
// (e.g. "https://api.veralux.io/api/auth/google").
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange posts code to the backend and returns the identity token.
// On a non-2xx status the returned error carries the backend's error
// message when one is present, else the HTTP status.
func (c *Client) Exchange(ctx context.Context, code string) (string, error) {
	body, err := json.Marshal(exchangeRequest{Code: code, RedirectURI: RedirectModePostMessage})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er exchangeResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			return "", fmt.Errorf("exchange: %s", er.Error)
		}
		return "", fmt.Errorf("exchange: %s", resp.Status)
	}

	var er exchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return "", fmt.Errorf("exchange: decode response: %w", err)
	}
	if er.JWT == "" {
		return "", ErrNoToken
	}
	return er.JWT, nil
}

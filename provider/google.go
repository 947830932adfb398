package provider

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// defaultSettleDelay is how long the loopback listener stays up after the
// outcome is delivered, so the user's browser receives the closing page.
const defaultSettleDelay = 250 * time.Millisecond

// closingPage is shown in the browser once the flow completes.
const closingPage = `<!DOCTYPE html><html><body><p>Sign-in complete. You may close this window.</p></body></html>`

// Google runs Google's authorization-code flow against a short-lived
// loopback redirect listener. The client secret never touches this client;
// the code is exchanged server-side.
type Google struct {
	conf     oauth2.Config
	callback CodeCallback
	openURL  func(url string) error
	addr     string
	settle   time.Duration
}

// GoogleOption configures the Google client.
type GoogleOption func(*Google)

// WithOpenURL sets how the consent URL is presented to the user.
// The default logs the URL for the user to open manually.
func WithOpenURL(fn func(url string) error) GoogleOption {
	return func(g *Google) {
		g.openURL = fn
	}
}

// WithListenAddr pins the loopback listener address (default "127.0.0.1:0").
func WithListenAddr(addr string) GoogleOption {
	return func(g *Google) {
		g.addr = addr
	}
}

// WithSettleDelay adjusts the listener grace period after delivery.
func WithSettleDelay(d time.Duration) GoogleOption {
	return func(g *Google) {
		g.settle = d
	}
}

// NewGoogle constructs the Google code client. callback receives the
// outcome of every RequestCode attempt.
func NewGoogle(clientID string, callback CodeCallback, opts ...GoogleOption) (*Google, error) {
	if clientID == "" {
		return nil, ErrMissingClientID
	}
	if callback == nil {
		return nil, errors.New("provider: nil callback")
	}
	g := &Google{
		conf: oauth2.Config{
			ClientID: clientID,
			Endpoint: endpoints.Google,
			Scopes:   []string{oidc.ScopeOpenID, "email", "profile"},
		},
		callback: callback,
		openURL: func(url string) error {
			log.Printf("open this URL in your browser to sign in:\n%s", url)
			return nil
		},
		addr:   "127.0.0.1:0",
		settle: defaultSettleDelay,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// RequestCode starts one authorization attempt. The outcome — code,
// provider denial, or ctx cancellation — arrives via the bound callback.
//
// No OIDC nonce is sent with the authorization request; the zkLogin nonce
// is only consumed during address derivation.
func (g *Google) RequestCode(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClientUnavailable, err)
	}

	state, err := generateState()
	if err != nil {
		ln.Close()
		return err
	}

	conf := g.conf
	conf.RedirectURL = fmt.Sprintf("http://%s/callback", ln.Addr())

	var once sync.Once
	done := make(chan struct{})
	deliver := func(res CodeResult) {
		once.Do(func() {
			close(done)
			g.callback(res)
		})
	}

	srv := &http.Server{}
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res := CodeResult{}
		switch {
		case q.Get("error") != "":
			res.Err = &Error{Code: q.Get("error"), Description: q.Get("error_description")}
		case subtle.ConstantTimeCompare([]byte(q.Get("state")), []byte(state)) != 1:
			res.Err = errors.New("provider: state mismatch")
		case q.Get("code") == "":
			res.Err = errors.New("provider: callback without code")
		default:
			res.Code = q.Get("code")
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(closingPage))

		deliver(res)
		// Keep serving briefly so the response reaches the browser.
		go func() {
			time.Sleep(g.settle)
			srv.Shutdown(context.Background())
		}()
	})
	srv.Handler = mux

	go srv.Serve(ln)
	go func() {
		select {
		case <-ctx.Done():
			deliver(CodeResult{Err: ctx.Err()})
			srv.Shutdown(context.Background())
		case <-done:
		}
	}()

	if err := g.openURL(conf.AuthCodeURL(state)); err != nil {
		srv.Shutdown(context.Background())
		return fmt.Errorf("%w: open consent url: %v", ErrClientUnavailable, err)
	}
	return nil
}

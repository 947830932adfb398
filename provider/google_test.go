package provider

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"
)

// driveFlow runs RequestCode and plays the browser's part: it inspects the
// consent URL handed to openURL and hits the loopback redirect with the
// given query values.
func driveFlow(t *testing.T, respond func(redirectURI string, state string) url.Values) CodeResult {
	t.Helper()

	results := make(chan CodeResult, 1)
	g, err := NewGoogle("client-123", func(res CodeResult) { results <- res },
		WithOpenURL(func(consent string) error {
			u, err := url.Parse(consent)
			if err != nil {
				t.Errorf("consent url: %v", err)
				return err
			}
			q := u.Query()
			redirectURI := q.Get("redirect_uri")
			state := q.Get("state")
			if redirectURI == "" || state == "" {
				t.Errorf("consent url missing redirect_uri/state: %s", consent)
			}
			if q.Get("client_id") != "client-123" {
				t.Errorf("client_id = %q", q.Get("client_id"))
			}
			if q.Get("nonce") != "" {
				t.Errorf("authorization request unexpectedly carries a nonce")
			}
			go func() {
				cb := respond(redirectURI, state)
				resp, err := http.Get(redirectURI + "?" + cb.Encode())
				if err == nil {
					resp.Body.Close()
				}
			}()
			return nil
		}),
		WithSettleDelay(10*time.Millisecond),
	)
	if err != nil {
		t.Fatal(err)
	}

	if err := g.RequestCode(context.Background()); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}

	select {
	case res := <-results:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("callback never fired")
		return CodeResult{}
	}
}

func TestGoogle_CodeDelivered(t *testing.T) {
	res := driveFlow(t, func(_, state string) url.Values {
		return url.Values{"code": {"abc123"}, "state": {state}}
	})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Code != "abc123" {
		t.Errorf("code = %q", res.Code)
	}
}

func TestGoogle_ProviderDenial(t *testing.T) {
	res := driveFlow(t, func(_, state string) url.Values {
		return url.Values{"error": {"access_denied"}, "state": {state}}
	})
	var perr *Error
	if !errors.As(res.Err, &perr) {
		t.Fatalf("err = %v, want *provider.Error", res.Err)
	}
	if perr.Code != "access_denied" {
		t.Errorf("provider error code = %q", perr.Code)
	}
}

func TestGoogle_StateMismatch(t *testing.T) {
	res := driveFlow(t, func(_, _ string) url.Values {
		return url.Values{"code": {"abc123"}, "state": {"forged"}}
	})
	if res.Err == nil {
		t.Fatal("forged state accepted")
	}
	if res.Code != "" {
		t.Errorf("code delivered despite forged state: %q", res.Code)
	}
}

func TestGoogle_ContextCancellation(t *testing.T) {
	results := make(chan CodeResult, 1)
	g, err := NewGoogle("client-123", func(res CodeResult) { results <- res },
		WithOpenURL(func(string) error { return nil }), // user never completes
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := g.RequestCode(ctx); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	cancel()

	select {
	case res := <-results:
		if !errors.Is(res.Err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", res.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation never delivered")
	}
}

func TestGoogle_Construction(t *testing.T) {
	if _, err := NewGoogle("", func(CodeResult) {}); !errors.Is(err, ErrMissingClientID) {
		t.Errorf("missing client ID err = %v", err)
	}
	if _, err := NewGoogle("client-123", nil); err == nil {
		t.Error("nil callback accepted")
	}
}

func TestGoogle_ListenerUnavailable(t *testing.T) {
	g, err := NewGoogle("client-123", func(CodeResult) {},
		WithListenAddr("127.0.0.1:1"), // binding a privileged port fails for unprivileged users
		WithOpenURL(func(string) error { return nil }),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.RequestCode(context.Background()); !errors.Is(err, ErrClientUnavailable) {
		t.Skipf("RequestCode err = %v (environment allowed the bind)", err)
	}
}

// Command signin runs the full sign-in flow locally: it restores a
// persisted session if one is still valid, otherwise starts the Google
// authorization flow against a loopback listener and completes
// authentication through the configured exchange backend.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/veralux/authbridge/auth"
	"github.com/veralux/authbridge/config"
	"github.com/veralux/authbridge/events"
	"github.com/veralux/authbridge/exchange"
	"github.com/veralux/authbridge/provider"
	"github.com/veralux/authbridge/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	files, err := storage.NewFileStore(cfg.StorageDir)
	if err != nil {
		log.Fatal(err)
	}
	var durable storage.Store = files
	if keys, err := cfg.DecodeStorageKey(); err != nil {
		log.Fatal(err)
	} else if keys != nil {
		durable, err = storage.NewSealed(files, cfg.StorageKeyID, keys)
		if err != nil {
			log.Fatal(err)
		}
	}

	bus := events.NewBus()
	bus.Subscribe(events.TopicWalletConnection, func(_ string, payload any) {
		detail := payload.(events.WalletConnectionDetail)
		log.Printf("wallet connection requested (source=%s)", detail.Source)
	})

	factory := func(cb provider.CodeCallback) (provider.CodeClient, error) {
		return provider.NewGoogle(cfg.GoogleClientID, cb)
	}
	svc := auth.NewService(factory, exchange.NewClient(cfg.ExchangeURL),
		durable, storage.NewMemoryStore(), bus,
		auth.WithPopupTimeout(cfg.PopupTimeout),
	)
	auth.SetDefault(svc)

	done := make(chan auth.AuthState, 1)
	unsub := svc.Subscribe(func(st auth.AuthState) {
		if !st.IsLoading && (st.IsAuthenticated || st.Err != "") {
			select {
			case done <- st:
			default:
			}
		}
	})
	defer unsub()

	if err := svc.LoadStoredUser(); err != nil {
		log.Printf("session restore: %v", err)
	}
	if st := svc.State(); st.IsAuthenticated {
		log.Printf("restored session for %s (%s)", st.User.Email, st.User.Address)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := svc.SignInWithGoogle(ctx); err != nil {
		log.Fatal(err)
	}

	select {
	case st := <-done:
		if st.IsAuthenticated {
			log.Printf("signed in as %s (%s)", st.User.Name, st.User.Address)
		} else {
			log.Printf("sign-in failed: %s", st.Err)
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Println("interrupted")
	}
}

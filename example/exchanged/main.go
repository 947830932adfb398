// Command exchanged serves the token-exchange backend consumed by the
// client-side sign-in flow.
package main

import (
	"context"
	"log"
	"net/http"

	"github.com/joho/godotenv"

	"github.com/veralux/authbridge/config"
	"github.com/veralux/authbridge/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.GoogleClientSecret == "" {
		log.Fatal("VERALUX_GOOGLE_CLIENT_SECRET must be set for the exchange backend")
	}

	h, err := server.NewGoogleHandler(context.Background(), cfg.GoogleClientID, cfg.GoogleClientSecret)
	if err != nil {
		log.Fatalf("Failed to set up Google exchange: %v", err)
	}

	log.Printf("exchange backend listening on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, h); err != nil {
		log.Fatal(err)
	}
}

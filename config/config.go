// Package config loads the bridge configuration from the environment.
// All variables carry the VERALUX_ prefix.
package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration. GoogleClientID is the public
// identity-provider client identifier; its absence is a hard failure
// before any network activity.
type Config struct {
	GoogleClientID     string `envconfig:"GOOGLE_CLIENT_ID" required:"true"`
	GoogleClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET"`

	// ExchangeURL is the backend token-exchange endpoint consumed by the
	// client-side flow.
	ExchangeURL string `envconfig:"EXCHANGE_URL" default:"http://localhost:8080/api/auth/google"`
	// ListenAddr is where the exchange backend serves.
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`

	// StorageDir holds the durable auth records.
	StorageDir string `envconfig:"STORAGE_DIR" default:".veralux"`
	// StorageKeyID and StorageKey (base64, 32 bytes) seal the durable
	// records at rest.
	StorageKeyID string `envconfig:"STORAGE_KEY_ID" default:"1"`
	StorageKey   string `envconfig:"STORAGE_KEY"`

	// PopupTimeout bounds the wait for the user to complete the consent
	// step. Zero waits indefinitely.
	PopupTimeout time.Duration `envconfig:"POPUP_TIMEOUT" default:"0"`
}

// Load reads configuration from VERALUX_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("VERALUX", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DecodeStorageKey returns the sealing key ring, or nil when sealing is
// not configured.
func (c *Config) DecodeStorageKey() (map[string][]byte, error) {
	if c.StorageKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("config: storage key is not valid base64: %w", err)
	}
	return map[string][]byte{c.StorageKeyID: key}, nil
}

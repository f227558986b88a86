// Package config loads router configuration from the environment, or
// a .env file, via a generic LoadConfig helper.
package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultRelays seeds a Router when NOSTR_RELAYS is unset.
var DefaultRelays = []string{"wss://relay.getportal.cc", "wss://relay.damus.io"}

// RouterConfig holds everything a cmd/portal invocation needs to
// construct and run a Router.
type RouterConfig struct {
	NostrRelays      []string      `env:"NOSTR_RELAYS" envSeparator:";"`
	NostrPrivateKey  string        `env:"NOSTR_PRIVATE_KEY"`
	CommandQueueSize int           `env:"COMMAND_QUEUE_SIZE" envDefault:"256"`
	RetryBase        time.Duration `env:"RETRY_BASE" envDefault:"1s"`
	RetryCap         time.Duration `env:"RETRY_CAP" envDefault:"5m"`
	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"25"`
}

// LoadConfig loads and marshals configuration of type T from a .env
// file in the user's home directory or the working directory, falling
// back to plain OS environment variables when neither exists.
func LoadConfig[T any]() (*T, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Error("config: error loading home directory", "error", err)
	}
	if homeDir != "" {
		if _, statErr := os.Stat(homeDir + "/.env"); statErr == nil {
			return loadFromEnv[T](homeDir + "/.env")
		}
	}
	if _, statErr := os.Stat(".env"); statErr == nil {
		return loadFromEnv[T]("")
	}
	return loadFromEnv[T]("")
}

func loadFromEnv[T any](path string) (*T, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			slog.Warn("config: failed to load .env file", "path", path, "error", err)
		}
	} else {
		_ = godotenv.Load()
	}
	cfg, err := env.ParseAs[T]()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

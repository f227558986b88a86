package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/asmogo/portal/channel"
	"github.com/asmogo/portal/config"
	"github.com/asmogo/portal/handshake"
	"github.com/asmogo/portal/keys"
	"github.com/asmogo/portal/router"
)

func main() {
	rootCmd := &cobra.Command{Use: "portal"}
	rootCmd.AddCommand(&cobra.Command{Use: "run", Short: "start the message router", RunE: runRouter})
	rootCmd.AddCommand(&cobra.Command{Use: "handshake", Short: "print this node's key-handshake url", RunE: printHandshake})
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadKeypair(cfg *config.RouterConfig) (*keys.Keypair, error) {
	if cfg.NostrPrivateKey == "" {
		slog.Info("no private key configured, generating an ephemeral one")
		return keys.Generate()
	}
	return keys.NewKeypair(cfg.NostrPrivateKey)
}

func runRouter(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig[config.RouterConfig]()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(cfg.NostrRelays) == 0 {
		slog.Info("no relays configured, using defaults")
		cfg.NostrRelays = config.DefaultRelays
	}
	kp, err := loadKeypair(cfg)
	if err != nil {
		return fmt.Errorf("load keypair: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := channel.NewRelayPool(ctx, cfg.NostrRelays)
	r := router.New(router.Options{
		Keypair:          kp,
		Channel:          pool,
		CommandQueueSize: cfg.CommandQueueSize,
		Retry: router.RetryConfig{
			Base:        cfg.RetryBase,
			Cap:         cfg.RetryCap,
			MaxAttempts: cfg.RetryMaxAttempts,
		},
	})

	go logRelayStatuses(r)

	slog.Info("portal router starting", "pubkey", kp.PublicKey, "relays", cfg.NostrRelays)
	return r.Run(ctx)
}

// logRelayStatuses reports every relay connection transition at Info
// level until the router's status stream closes on shutdown.
func logRelayStatuses(r *router.Router) {
	for status := range r.Statuses() {
		slog.Info("relay status changed", "url", status.URL, "status", status.Status)
	}
}

func printHandshake(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig[config.RouterConfig]()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(cfg.NostrRelays) == 0 {
		cfg.NostrRelays = config.DefaultRelays
	}
	kp, err := loadKeypair(cfg)
	if err != nil {
		return fmt.Errorf("load keypair: %w", err)
	}
	url, err := handshake.Format(handshake.URL{
		MainKey: kp.PublicKey,
		Relays:  cfg.NostrRelays,
		Token:   fmt.Sprintf("token_%d", time.Now().UnixNano()),
	})
	if err != nil {
		return fmt.Errorf("format handshake url: %w", err)
	}
	fmt.Println(url)
	return nil
}

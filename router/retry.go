package router

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/channel"
)

// RetryConfig tunes the exponential backoff scheduler.
type RetryConfig struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultRetryConfig are the default backoff bounds.
var DefaultRetryConfig = RetryConfig{
	Base:        time.Second,
	Cap:         5 * time.Minute,
	MaxAttempts: 25,
}

// scheduleRetry detaches a goroutine that keeps retrying ev against
// the relays that rejected it, with delay cfg.Base*e^attempt capped at
// cfg.Cap, up to cfg.MaxAttempts. It holds only the immutable signed
// event and a Channel reference, so it survives independently of the
// conversation (or even the router actor's command loop) that
// triggered the original broadcast.
func scheduleRetry(ctx context.Context, ch channel.Channel, ev nostr.Event, failed []string, cfg RetryConfig) {
	if len(failed) == 0 {
		return
	}
	go func() {
		remaining := append([]string(nil), failed...)
		attempt := 0
		for len(remaining) > 0 && attempt < cfg.MaxAttempts {
			attempt++
			delay := time.Duration(float64(cfg.Base) * math.Exp(float64(attempt)))
			if delay > cfg.Cap {
				delay = cfg.Cap
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			result, err := ch.BroadcastTo(ctx, remaining, ev)
			if err != nil {
				slog.Warn("router: retry broadcast error", "event_id", ev.ID, "attempt", attempt, "error", err)
				continue
			}
			remaining = result.Failed
		}
		if len(remaining) > 0 {
			slog.Error("router: giving up retrying event", "event_id", ev.ID, "relays", remaining, "attempts", attempt)
		}
	}()
}

package router

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

func TestScheduleRetryConvergesAfterTransientFailures(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	ch.failNextN = 2

	ev := nostr.Event{ID: "retry-convergence"}
	cfg := RetryConfig{Base: time.Millisecond, Cap: 10 * time.Millisecond, MaxAttempts: 5}
	scheduleRetry(context.Background(), ch, ev, []string{"relay://fake"}, cfg)

	require.Eventually(t, func() bool {
		return ch.broadcastCount() == 3
	}, time.Second, time.Millisecond, "retry must keep re-broadcasting until a relay accepts the event")

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 3, ch.broadcastCount(), "a converged retry must not keep broadcasting")
}

func TestScheduleRetryGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	ch.failNextN = 1000

	ev := nostr.Event{ID: "retry-exhaustion"}
	cfg := RetryConfig{Base: time.Millisecond, Cap: 2 * time.Millisecond, MaxAttempts: 3}
	scheduleRetry(context.Background(), ch, ev, []string{"relay://fake"}, cfg)

	require.Eventually(t, func() bool {
		return ch.broadcastCount() == cfg.MaxAttempts
	}, time.Second, time.Millisecond, "retry must stop after MaxAttempts broadcasts")

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, cfg.MaxAttempts, ch.broadcastCount(), "a retry that exhausted its attempts must not keep broadcasting")
}

func TestScheduleRetryNoopWithoutFailures(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	scheduleRetry(context.Background(), ch, nostr.Event{ID: "no-failures"}, nil, DefaultRetryConfig)

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 0, ch.broadcastCount(), "an empty failed set must never schedule a retry goroutine")
}

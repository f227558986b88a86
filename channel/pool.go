package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/asmogo/portal/ids"
)

const relayConnectTimeout = 15 * time.Second

// relaySub tracks one subscription installed on one relay connection.
type relaySub struct {
	relay *nostr.Relay
	sub   *nostr.Subscription
	eose  bool
}

// RelayPool is the default Channel implementation: a pool of
// github.com/nbd-wtf/go-nostr relay connections, with explicit
// subscribe/unsubscribe/broadcast verbs instead of a single SubMany
// entrypoint.
type RelayPool struct {
	mu    sync.RWMutex
	subs  *xsync.MapOf[string, []*relaySub] // subID -> one relaySub per relay it's installed on
	known *xsync.MapOf[string, *nostr.Relay]

	notifications chan Notification
	statuses      chan RelayStatusUpdate

	ctx    context.Context
	cancel context.CancelFunc
}

var _ Channel = (*RelayPool)(nil)

// NewRelayPool connects to every url in seedURLs and returns a ready
// Channel. Connection failures are logged and skipped.
func NewRelayPool(ctx context.Context, seedURLs []string) *RelayPool {
	ctx, cancel := context.WithCancel(ctx)
	p := &RelayPool{
		subs:          xsync.NewMapOf[string, []*relaySub](),
		known:         xsync.NewMapOf[string, *nostr.Relay](),
		notifications: make(chan Notification, 256),
		statuses:      make(chan RelayStatusUpdate, 64),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, u := range seedURLs {
		if _, err := p.ensureRelay(ctx, u); err != nil {
			slog.Warn("relay pool: initial connect failed", "url", u, "error", err)
		}
	}
	return p
}

func (p *RelayPool) ensureRelay(ctx context.Context, rawURL string) (*nostr.Relay, error) {
	u := normalizeRelayURL(rawURL)
	if relay, ok := p.known.Load(u); ok && relay.IsConnected() {
		return relay, nil
	}
	p.emitStatus(u, StatusConnecting)
	connectCtx, cancel := context.WithTimeout(ctx, relayConnectTimeout)
	defer cancel()
	relay, err := nostr.RelayConnect(connectCtx, u)
	if err != nil {
		p.emitStatus(u, StatusDisconnected)
		return nil, fmt.Errorf("channel: connect to %s: %w", u, err)
	}
	p.known.Store(u, relay)
	p.emitStatus(u, StatusConnected)
	return relay, nil
}

func (p *RelayPool) emitStatus(url string, status RelayStatus) {
	select {
	case p.statuses <- RelayStatusUpdate{URL: url, Status: status}:
	default:
	}
}

// Relays returns the urls of every relay currently known to the pool.
func (p *RelayPool) Relays() []string {
	urls := make([]string, 0, p.known.Size())
	p.known.Range(func(url string, _ *nostr.Relay) bool {
		urls = append(urls, url)
		return true
	})
	return urls
}

// AddRelay connects to a new relay and adds it to the pool's known set.
func (p *RelayPool) AddRelay(ctx context.Context, url string) error {
	_, err := p.ensureRelay(ctx, url)
	return err
}

// RemoveRelay disconnects a relay and drops it from the known set.
func (p *RelayPool) RemoveRelay(ctx context.Context, url string) {
	u := normalizeRelayURL(url)
	if relay, ok := p.known.LoadAndDelete(u); ok {
		relay.Close()
		p.emitStatus(u, StatusTerminated)
	}
}

func (p *RelayPool) Subscribe(ctx context.Context, sub ids.SubscriptionID, filter nostr.Filter) (int, error) {
	return p.subscribeURLs(ctx, p.Relays(), sub, filter)
}

func (p *RelayPool) SubscribeTo(ctx context.Context, urls []string, sub ids.SubscriptionID, filter nostr.Filter) error {
	_, err := p.subscribeURLs(ctx, urls, sub, filter)
	return err
}

func (p *RelayPool) subscribeURLs(ctx context.Context, urls []string, sub ids.SubscriptionID, filter nostr.Filter) (int, error) {
	installed := make([]*relaySub, 0, len(urls))
	var firstErr error
	for _, u := range urls {
		relay, err := p.ensureRelay(ctx, u)
		if err != nil {
			slog.Warn("channel: subscribe skipped relay", "url", u, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		nostrSub, err := relay.Subscribe(ctx, nostr.Filters{filter})
		if err != nil {
			slog.Warn("channel: subscribe failed", "url", u, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		rs := &relaySub{relay: relay, sub: nostrSub}
		installed = append(installed, rs)
		go p.pump(sub, rs)
	}
	if len(installed) == 0 && firstErr != nil {
		return 0, firstErr
	}
	p.appendSubs(sub, installed)
	return len(installed), nil
}

func (p *RelayPool) appendSubs(sub ids.SubscriptionID, add []*relaySub) {
	p.subs.Compute(sub.String(), func(existing []*relaySub, _ bool) ([]*relaySub, bool) {
		return append(existing, add...), false
	})
}

// pump forwards a single relay subscription's events/EOSE onto the
// pool's shared notification channel, tagged with the subscription id.
func (p *RelayPool) pump(sub ids.SubscriptionID, rs *relaySub) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case evt, more := <-rs.sub.Events:
			if !more {
				return
			}
			select {
			case p.notifications <- Notification{SubID: sub, Event: evt, Relay: rs.relay.URL}:
			case <-p.ctx.Done():
				return
			}
		case <-rs.sub.EndOfStoredEvents:
			select {
			case p.notifications <- Notification{SubID: sub, EOSE: true, Relay: rs.relay.URL}:
			case <-p.ctx.Done():
				return
			}
		case reason := <-rs.sub.ClosedReason:
			slog.Info("channel: subscription closed", "relay", rs.relay.URL, "reason", reason)
			return
		}
	}
}

func (p *RelayPool) Unsubscribe(ctx context.Context, sub ids.SubscriptionID) error {
	entries, ok := p.subs.LoadAndDelete(sub.String())
	if !ok {
		return nil
	}
	for _, rs := range entries {
		rs.sub.Unsub()
	}
	return nil
}

func (p *RelayPool) Broadcast(ctx context.Context, event nostr.Event) (BroadcastResult, error) {
	return p.BroadcastTo(ctx, p.Relays(), event)
}

func (p *RelayPool) BroadcastTo(ctx context.Context, urls []string, event nostr.Event) (BroadcastResult, error) {
	var res BroadcastResult
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, u := range urls {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay, err := p.ensureRelay(ctx, u)
			if err != nil {
				mu.Lock()
				res.Failed = append(res.Failed, u)
				mu.Unlock()
				return
			}
			if err := relay.Publish(ctx, event); err != nil {
				slog.Warn("channel: publish failed", "url", u, "event", event.ID, "error", err)
				mu.Lock()
				res.Failed = append(res.Failed, u)
				mu.Unlock()
				return
			}
			mu.Lock()
			res.OK = append(res.OK, u)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return res, nil
}

func (p *RelayPool) Receive(ctx context.Context) (Notification, error) {
	select {
	case n, ok := <-p.notifications:
		if !ok {
			return Notification{}, fmt.Errorf("channel: closed")
		}
		return n, nil
	case <-ctx.Done():
		return Notification{}, ctx.Err()
	}
}

func (p *RelayPool) Statuses() <-chan RelayStatusUpdate {
	return p.statuses
}

func (p *RelayPool) Shutdown(ctx context.Context) error {
	p.cancel()
	p.known.Range(func(url string, relay *nostr.Relay) bool {
		relay.Close()
		return true
	})
	close(p.notifications)
	close(p.statuses)
	return nil
}

// IsKnownRelay reports whether url is part of the pool's known set.
func (p *RelayPool) IsKnownRelay(url string) bool {
	_, ok := p.known.Load(normalizeRelayURL(url))
	return ok
}

func normalizeAll(urls []string) []string {
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = normalizeRelayURL(u)
	}
	return out
}

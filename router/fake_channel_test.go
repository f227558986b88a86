package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/channel"
	"github.com/asmogo/portal/ids"
)

// fakeChannel is an in-memory Channel used to drive the router's
// dispatch logic in tests without a real relay connection. It always
// reports a single relay, "relay://fake".
type fakeChannel struct {
	mu            sync.Mutex
	notifications chan channel.Notification
	subs          map[string]nostr.Filter
	broadcasts    []nostr.Event
	failNextN     int // number of upcoming broadcasts to report as failed
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		notifications: make(chan channel.Notification, 64),
		subs:          make(map[string]nostr.Filter),
	}
}

func (f *fakeChannel) Subscribe(_ context.Context, sub ids.SubscriptionID, filter nostr.Filter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub.String()] = filter
	return 1, nil
}

func (f *fakeChannel) SubscribeTo(_ context.Context, _ []string, sub ids.SubscriptionID, filter nostr.Filter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub.String()] = filter
	return nil
}

func (f *fakeChannel) Unsubscribe(_ context.Context, sub ids.SubscriptionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, sub.String())
	return nil
}

func (f *fakeChannel) Broadcast(ctx context.Context, event nostr.Event) (channel.BroadcastResult, error) {
	return f.BroadcastTo(ctx, []string{"relay://fake"}, event)
}

func (f *fakeChannel) BroadcastTo(_ context.Context, urls []string, event nostr.Event) (channel.BroadcastResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, event)
	if f.failNextN > 0 {
		f.failNextN--
		return channel.BroadcastResult{Failed: urls}, nil
	}
	return channel.BroadcastResult{OK: urls}, nil
}

func (f *fakeChannel) Receive(ctx context.Context) (channel.Notification, error) {
	select {
	case n := <-f.notifications:
		return n, nil
	case <-ctx.Done():
		return channel.Notification{}, ctx.Err()
	}
}

func (f *fakeChannel) Statuses() <-chan channel.RelayStatusUpdate { return nil }

func (f *fakeChannel) Shutdown(context.Context) error { return nil }

func (f *fakeChannel) Relays() []string { return []string{"relay://fake"} }

func (f *fakeChannel) AddRelay(context.Context, string) error { return nil }

func (f *fakeChannel) RemoveRelay(context.Context, string) {}

func (f *fakeChannel) IsKnownRelay(url string) bool { return url == "relay://fake" }

func (f *fakeChannel) deliver(subID ids.SubscriptionID, ev *nostr.Event) {
	f.notifications <- channel.Notification{SubID: subID, Event: ev, Relay: "relay://fake"}
}

func (f *fakeChannel) deliverEOSE(subID ids.SubscriptionID) {
	f.notifications <- channel.Notification{SubID: subID, EOSE: true, Relay: "relay://fake"}
}

func (f *fakeChannel) subIDFor(filter nostr.Filter) (ids.SubscriptionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, fl := range f.subs {
		if mergeable(fl, filter) {
			return ids.SubscriptionID(id), nil
		}
	}
	return "", fmt.Errorf("fakeChannel: no subscription matches filter")
}

func (f *fakeChannel) onlySubID() ids.SubscriptionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.subs {
		return ids.SubscriptionID(id)
	}
	return ""
}

func (f *fakeChannel) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeChannel) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}

var _ channel.Channel = (*fakeChannel)(nil)

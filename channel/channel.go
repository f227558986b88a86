// Package channel defines the narrow interface (C1 in the router
// design) between the Message Router and a pool of relay connections,
// and a concrete implementation built on github.com/nbd-wtf/go-nostr.
package channel

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/ids"
)

// BroadcastResult partitions the relays a broadcast targeted into the
// ones that accepted the event and the ones that failed.
type BroadcastResult struct {
	OK     []string
	Failed []string
}

// RelayStatus mirrors the connection lifecycle of a single relay, as
// forwarded to external observers.
type RelayStatus int

const (
	StatusInitialized RelayStatus = iota
	StatusPending
	StatusConnecting
	StatusConnected
	StatusDisconnected
	StatusTerminated
	StatusBanned
	StatusSleeping
)

func (s RelayStatus) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusPending:
		return "pending"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusTerminated:
		return "terminated"
	case StatusBanned:
		return "banned"
	case StatusSleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

// RelayStatusUpdate is delivered on the status stream returned by
// Channel.Statuses.
type RelayStatusUpdate struct {
	URL    string
	Status RelayStatus
}

// Notification is what Receive yields: either a relayed event bound to
// a subscription, an end-of-stored-events marker, or something the
// router ignores (represented by the zero value of both fields).
type Notification struct {
	SubID ids.SubscriptionID
	Event *nostr.Event // nil for EOSE
	EOSE  bool
	Relay string
}

// Channel is the narrow, async interface the router drives. It is
// implemented by the relay pool adapter; the router never talks to a
// relay transport directly.
type Channel interface {
	// Subscribe installs sub on every relay the pool currently knows
	// and returns the number of relays it was installed on.
	Subscribe(ctx context.Context, sub ids.SubscriptionID, filter nostr.Filter) (int, error)
	// SubscribeTo installs sub only on the given relay urls.
	SubscribeTo(ctx context.Context, urls []string, sub ids.SubscriptionID, filter nostr.Filter) error
	// Unsubscribe tears down sub on every relay it is installed on.
	Unsubscribe(ctx context.Context, sub ids.SubscriptionID) error
	// Broadcast publishes event to every relay the pool knows.
	Broadcast(ctx context.Context, event nostr.Event) (BroadcastResult, error)
	// BroadcastTo publishes event only to the given relay urls.
	BroadcastTo(ctx context.Context, urls []string, event nostr.Event) (BroadcastResult, error)
	// Receive blocks until the next pool notification is available.
	Receive(ctx context.Context) (Notification, error)
	// Statuses returns a stream of per-relay connection status changes.
	Statuses() <-chan RelayStatusUpdate
	// Shutdown tears down every relay connection.
	Shutdown(ctx context.Context) error
	// Relays returns the urls of every relay currently known to the pool.
	Relays() []string
	// AddRelay connects a new relay and adds it to the known set.
	AddRelay(ctx context.Context, url string) error
	// RemoveRelay disconnects a relay and drops it from the known set.
	RemoveRelay(ctx context.Context, url string)
	// IsKnownRelay reports whether url is part of the pool's known set,
	// used by the router to reject scoping a conversation to a relay it
	// has never heard of.
	IsKnownRelay(url string) bool
}

package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// notificationBufferSize bounds how many notifications a slow
// subscriber may have pending before the router's send blocks
//.
const notificationBufferSize = 8

// subscriberSink is one subscriber's mailbox for a conversation's
// notifications. cancel is invoked by Close to let the router reap the
// sink on its next delivery attempt instead of blocking forever.
type subscriberSink struct {
	ch     chan json.RawMessage
	ctx    context.Context
	cancel context.CancelFunc
}

func newSubscriberSink() *subscriberSink {
	ctx, cancel := context.WithCancel(context.Background())
	return &subscriberSink{ch: make(chan json.RawMessage, notificationBufferSize), ctx: ctx, cancel: cancel}
}

// NotificationStream delivers one conversation's notifications to one
// subscriber, deserialized into T.
type NotificationStream[T any] struct {
	sink *subscriberSink
}

// Close detaches the subscriber. The router reaps it lazily, the next
// time it tries to deliver to this conversation.
func (s *NotificationStream[T]) Close() {
	s.sink.cancel()
}

// Recv blocks until the next notification arrives or ctx is canceled.
func (s *NotificationStream[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	select {
	case raw, ok := <-s.sink.ch:
		if !ok {
			return zero, fmt.Errorf("router: notification stream closed")
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return zero, fmt.Errorf("router: deserialize notification: %w", err)
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// deliverNotification fans value out to every live subscriber of
// entry, reaping any whose stream has been closed. Run only from the
// actor goroutine. A full mailbox blocks the actor, and with it every
// other command and notification, until the slow subscriber drains or
// closes its stream.
func (r *Router) deliverNotification(entry *conversationEntry, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		slog.Error("router: marshal notification failed", "conversation_id", entry.id, "error", err)
		return
	}
	alive := entry.subscribers[:0]
	for _, sink := range entry.subscribers {
		if sink.ctx.Err() != nil {
			// subscriber closed its stream, drop it.
			continue
		}
		select {
		case sink.ch <- data:
			alive = append(alive, sink)
		case <-sink.ctx.Done():
			// subscriber closed its stream, drop it.
		}
	}
	entry.subscribers = alive
}

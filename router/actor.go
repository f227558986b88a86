// Package router implements the message router that serializes every
// command and every inbound relay notification through one channel, a
// single-writer, lock-free actor driving an arbitrary set of
// conversations.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/asmogo/portal/channel"
	"github.com/asmogo/portal/ids"
	"github.com/asmogo/portal/keys"
)

// Options configures a Router at construction time.
type Options struct {
	Keypair          *keys.Keypair
	Channel          channel.Channel
	CommandQueueSize int
	Retry            RetryConfig
}

// Router is the conversation-multiplexing actor. Every exported method
// is safe to call from any goroutine: they post a command and block on
// a one-shot reply channel, so the state below is only ever touched by
// the goroutine running Run.
type Router struct {
	signer  *keys.Signer
	keypair *keys.Keypair
	channel channel.Channel
	retry   RetryConfig

	cmds   chan command
	closed atomic.Bool

	conversations map[string]*conversationEntry
	subscriptions map[string]*subscriptionEntry
}

// New constructs a Router. Call Run in its own goroutine before using
// any other method.
func New(opts Options) *Router {
	queueSize := opts.CommandQueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig
	}
	return &Router{
		signer:        keys.NewSigner(opts.Keypair),
		keypair:       opts.Keypair,
		channel:       opts.Channel,
		retry:         retry,
		cmds:          make(chan command, queueSize),
		conversations: make(map[string]*conversationEntry),
		subscriptions: make(map[string]*subscriptionEntry),
	}
}

// Run is the actor's single command-processing loop. It also starts
// the goroutine that turns Channel.Receive into notificationCmd
// values, so relay traffic is serialized through the same queue as
// caller commands. Run blocks until ctx is canceled or Shutdown runs.
func (r *Router) Run(ctx context.Context) error {
	pumpCtx, cancelPump := context.WithCancel(ctx)
	defer cancelPump()
	go r.pumpNotifications(pumpCtx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-r.cmds:
			if !ok {
				return nil
			}
			if done := r.apply(ctx, cmd); done {
				return nil
			}
		}
	}
}

func (r *Router) pumpNotifications(ctx context.Context) {
	for {
		n, err := r.channel.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("router: receive from channel failed", "error", err)
			continue
		}
		select {
		case r.cmds <- notificationCmd{n: n}:
		case <-ctx.Done():
			return
		}
	}
}

// command is the sealed set of operations the actor accepts
//.
type command interface{ isCommand() }

type addConversationCmd struct {
	conv    Conversation
	scope   relayScope
	wantSub bool
	reply   chan<- addConversationResult
}

type addConversationResult struct {
	id   ids.ConversationID
	sink *subscriberSink // non-nil only when wantSub
	err  error
}

type subscribeCmd struct {
	id    ids.ConversationID
	reply chan<- subscribeResult
}

type subscribeResult struct {
	sink *subscriberSink
	err  error
}

type addRelayCmd struct {
	url              string
	subscribeExisting bool
	reply            chan<- error
}

type removeRelayCmd struct {
	url   string
	reply chan<- error
}

type pingCmd struct{ reply chan<- error }

type shutdownCmd struct{ reply chan<- error }

type notificationCmd struct{ n channel.Notification }

func (addConversationCmd) isCommand() {}
func (subscribeCmd) isCommand()       {}
func (addRelayCmd) isCommand()        {}
func (removeRelayCmd) isCommand()     {}
func (pingCmd) isCommand()            {}
func (shutdownCmd) isCommand()        {}
func (notificationCmd) isCommand()    {}

// apply executes one command against actor state. Returning true tells
// Run to stop (only shutdownCmd does this).
func (r *Router) apply(ctx context.Context, cmd command) bool {
	switch c := cmd.(type) {
	case addConversationCmd:
		r.handleAddConversation(ctx, c)
	case subscribeCmd:
		r.handleSubscribe(c)
	case addRelayCmd:
		r.handleAddRelay(ctx, c)
	case removeRelayCmd:
		r.handleRemoveRelay(ctx, c)
	case pingCmd:
		c.reply <- nil
	case shutdownCmd:
		err := r.channel.Shutdown(ctx)
		r.closed.Store(true)
		c.reply <- err
		return true
	case notificationCmd:
		r.handleNotification(ctx, c.n)
	default:
		slog.Error("router: unknown command type", "type", fmt.Sprintf("%T", cmd))
	}
	return false
}

func (r *Router) handleAddConversation(ctx context.Context, c addConversationCmd) {
	if !c.scope.global {
		for _, url := range c.scope.urlList() {
			if !r.channel.IsKnownRelay(url) {
				c.reply <- addConversationResult{err: fmt.Errorf("%w: %s", ErrRelayNotConnected, url)}
				return
			}
		}
	}

	id := ids.NewStandard()
	entry := &conversationEntry{id: id.String(), conv: c.conv, scope: c.scope}
	r.conversations[entry.id] = entry

	var sink *subscriberSink
	if c.wantSub {
		sink = newSubscriberSink()
		entry.subscribers = append(entry.subscribers, sink)
	}

	resp, err := c.conv.Init()
	if err != nil {
		delete(r.conversations, entry.id)
		c.reply <- addConversationResult{err: err}
		return
	}
	r.processResponse(ctx, entry, resp)
	c.reply <- addConversationResult{id: id, sink: sink}
}

func (r *Router) handleSubscribe(c subscribeCmd) {
	entry, ok := r.conversations[c.id.String()]
	if !ok || entry.isAlias {
		c.reply <- subscribeResult{err: ErrConversationNotFound}
		return
	}
	sink := newSubscriberSink()
	entry.subscribers = append(entry.subscribers, sink)
	c.reply <- subscribeResult{sink: sink}
}

func (r *Router) handleAddRelay(ctx context.Context, c addRelayCmd) {
	err := r.channel.AddRelay(ctx, c.url)
	if err == nil && c.subscribeExisting {
		for _, entry := range r.conversations {
			if entry.isAlias || entry.filter == nil || !entry.scope.global {
				continue
			}
			subID := ids.SubscriptionID(entry.subID)
			if subErr := r.channel.SubscribeTo(ctx, []string{c.url}, subID, *entry.filter); subErr != nil {
				slog.Warn("router: failed to extend subscription to new relay", "url", c.url, "conversation_id", entry.id, "error", subErr)
				continue
			}
			entry.eoseRemaining++
		}
	}
	c.reply <- err
}

// handleRemoveRelay disconnects a relay and unwinds every conversation
// entry that depended on it: a global entry loses one relay out of its
// EOSE countdown, and a scoped entry that named this relay has it
// trimmed from its scope and is cleaned up entirely once no relay is
// left for it to talk to.
func (r *Router) handleRemoveRelay(ctx context.Context, c removeRelayCmd) {
	r.channel.RemoveRelay(ctx, c.url)

	for key, entry := range r.conversations {
		if entry.subID == "" {
			continue
		}
		if entry.scope.global {
			r.resolveEoseSource(ctx, entry)
			continue
		}
		if !entry.scope.urls[c.url] {
			continue
		}
		entry.scope.removeURL(c.url)
		r.resolveEoseSource(ctx, entry)
		if entry.scope.exhausted() {
			r.cleanupConversation(ctx, key)
		}
	}

	c.reply <- nil
}

// --- public API ---

// checkOpen rejects any command issued after Shutdown has completed,
// instead of leaving the caller blocked sending on a queue nothing
// drains anymore.
func (r *Router) checkOpen() error {
	if r.closed.Load() {
		return ErrShutdown
	}
	return nil
}

// Statuses returns a stream of per-relay connection status changes,
// passed straight through from the underlying Channel.
func (r *Router) Statuses() <-chan channel.RelayStatusUpdate {
	return r.channel.Statuses()
}

// AddConversation registers conv, calls its Init, and returns its
// freshly assigned id.
func (r *Router) AddConversation(ctx context.Context, conv Conversation) (ids.ConversationID, error) {
	return r.addConversation(ctx, conv, globalScope(), false)
}

// AddConversationScoped is like AddConversation but confines the
// conversation's filter and broadcasts to the given relay urls.
func (r *Router) AddConversationScoped(ctx context.Context, conv Conversation, relayURLs []string) (ids.ConversationID, error) {
	return r.addConversation(ctx, conv, scopedTo(relayURLs), false)
}

func (r *Router) addConversation(ctx context.Context, conv Conversation, scope relayScope, wantSub bool) (ids.ConversationID, error) {
	if err := r.checkOpen(); err != nil {
		return ids.ConversationID{}, err
	}
	reply := make(chan addConversationResult, 1)
	select {
	case r.cmds <- addConversationCmd{conv: conv, scope: scope, wantSub: wantSub, reply: reply}:
	case <-ctx.Done():
		return ids.ConversationID{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.id, res.err
	case <-ctx.Done():
		return ids.ConversationID{}, ctx.Err()
	}
}

// subscribe returns a raw (JSON) notification stream for an existing
// conversation's notifications. Use the package-level Subscribe
// function for a typed stream.
func (r *Router) subscribe(ctx context.Context, id ids.ConversationID) (*subscriberSink, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	reply := make(chan subscribeResult, 1)
	select {
	case r.cmds <- subscribeCmd{id: id, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.sink, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Router) addConversationWithSink(ctx context.Context, conv Conversation, scope relayScope) (ids.ConversationID, *subscriberSink, error) {
	if err := r.checkOpen(); err != nil {
		return ids.ConversationID{}, nil, err
	}
	reply := make(chan addConversationResult, 1)
	select {
	case r.cmds <- addConversationCmd{conv: conv, scope: scope, wantSub: true, reply: reply}:
	case <-ctx.Done():
		return ids.ConversationID{}, nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.id, res.sink, res.err
	case <-ctx.Done():
		return ids.ConversationID{}, nil, ctx.Err()
	}
}

// Subscribe opens a typed notification stream for a conversation
// already registered with the router.
func Subscribe[T any](ctx context.Context, r *Router, id ids.ConversationID) (*NotificationStream[T], error) {
	sink, err := r.subscribe(ctx, id)
	if err != nil {
		return nil, err
	}
	return &NotificationStream[T]{sink: sink}, nil
}

// AddAndSubscribe registers conv and returns both its id and a typed
// stream for the notifications it will emit, atomically with respect
// to other router activity (no notification can be missed between
// registration and subscription).
func AddAndSubscribe[T any](ctx context.Context, r *Router, conv Conversation) (ids.ConversationID, *NotificationStream[T], error) {
	id, sink, err := r.addConversationWithSink(ctx, conv, globalScope())
	if err != nil {
		return ids.ConversationID{}, nil, err
	}
	return id, &NotificationStream[T]{sink: sink}, nil
}

// AddRelay connects a new relay. If subscribeExisting is true, every
// currently installed global filter is also installed on it.
func (r *Router) AddRelay(ctx context.Context, url string, subscribeExisting bool) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	reply := make(chan error, 1)
	select {
	case r.cmds <- addRelayCmd{url: url, subscribeExisting: subscribeExisting, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RemoveRelay disconnects a relay.
func (r *Router) RemoveRelay(ctx context.Context, url string) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	reply := make(chan error, 1)
	select {
	case r.cmds <- removeRelayCmd{url: url, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping round-trips the actor's command queue, useful for liveness
// checks and for tests to synchronize with pending notifications.
func (r *Router) Ping(ctx context.Context) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	reply := make(chan error, 1)
	select {
	case r.cmds <- pingCmd{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown tears down the relay pool and stops Run.
func (r *Router) Shutdown(ctx context.Context) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	reply := make(chan error, 1)
	select {
	case r.cmds <- shutdownCmd{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

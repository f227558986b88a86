package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/channel"
	"github.com/asmogo/portal/ids"
	"github.com/asmogo/portal/keys"
)

// KindMetadata is the one kind exempt from the self-loop rejection
// rule below: the router's own published profile update is expected
// to round-trip back through a listener subscribed to it.
const KindMetadata = 0

// handleNotification is the single entry point for everything the
// relay pool hands back to the actor.
func (r *Router) handleNotification(ctx context.Context, n channel.Notification) {
	if n.EOSE {
		r.handleEOSE(ctx, n.SubID)
		return
	}
	if n.Event != nil {
		r.handleEvent(ctx, n)
	}
}

func (r *Router) handleEOSE(ctx context.Context, subID ids.SubscriptionID) {
	for _, bound := range r.rawBoundEntries(subID) {
		r.resolveEoseSource(ctx, bound)
	}
}

// resolveEoseSource counts down one relay's worth of end-of-stored-events
// for entry, whether that relay reported EOSE itself or was dropped out
// from under the subscription entirely. Once the count reaches zero it
// dispatches MessageEndOfStoredEvents exactly once, to entry itself or,
// for a subkey-proof alias, to its parent.
func (r *Router) resolveEoseSource(ctx context.Context, entry *conversationEntry) {
	if entry.eoseDelivered || entry.eoseRemaining <= 0 {
		return
	}
	entry.eoseRemaining--
	if entry.eoseRemaining > 0 {
		return
	}
	entry.eoseDelivered = true
	target := entry
	if entry.isAlias {
		parent, ok := r.conversations[entry.parentID]
		if !ok {
			return
		}
		target = parent
	}
	r.dispatchTo(ctx, target, eoseMessage)
}

// rawBoundEntries returns every conversation entry (standard or alias)
// whose own subscription id is subID, without resolving aliases to
// their parent — each such entry owns its own EOSE countdown.
func (r *Router) rawBoundEntries(subID ids.SubscriptionID) []*conversationEntry {
	var out []*conversationEntry
	for _, entry := range r.conversations {
		if entry.subID == subID.String() {
			out = append(out, entry)
		}
	}
	return out
}

func (r *Router) handleEvent(ctx context.Context, n channel.Notification) {
	ev := n.Event
	if ev.PubKey == r.keypair.PublicKey && ev.Kind != KindMetadata {
		return
	}
	ok, err := keys.VerifySignature(ev)
	if err != nil || !ok {
		slog.Warn("router: dropping event with invalid signature", "event_id", ev.ID, "error", err)
		return
	}

	msg := r.buildMessage(ev)

	dispatched := make(map[string]bool)
	for _, entry := range r.conversationsBoundTo(n.SubID) {
		dispatched[entry.id] = true
		r.recordPeer(entry, ev.PubKey)
		r.dispatchTo(ctx, entry, msg)
	}
	for _, entry := range r.allStandardConversations() {
		if dispatched[entry.id] {
			continue
		}
		if entry.filter == nil || !entry.filter.Matches(ev) {
			continue
		}
		dispatched[entry.id] = true
		r.recordPeer(entry, ev.PubKey)
		r.dispatchTo(ctx, entry, msg)
	}
}

func (r *Router) recordPeer(entry *conversationEntry, pubkey string) {
	if entry.peers == nil {
		entry.peers = make(map[string]bool)
	}
	entry.peers[pubkey] = true
}

// buildMessage decrypts ev's content under the local key's
// conversation key with the author, falling back to treating it as an
// already-cleartext JSON payload when decryption fails.
func (r *Router) buildMessage(ev *nostr.Event) ConversationMessage {
	key, err := keys.ConversationKey(r.keypair.PrivateKey, ev.PubKey)
	if err == nil {
		if plaintext, decErr := keys.Decrypt(key, ev.Content); decErr == nil && json.Valid([]byte(plaintext)) {
			return cleartextMessage(CleartextEvent{
				ID: ev.ID, Author: ev.PubKey, CreatedAt: ev.CreatedAt,
				Kind: ev.Kind, Tags: ev.Tags, Content: json.RawMessage(plaintext),
			})
		}
	}
	if json.Valid([]byte(ev.Content)) {
		return cleartextMessage(CleartextEvent{
			ID: ev.ID, Author: ev.PubKey, CreatedAt: ev.CreatedAt,
			Kind: ev.Kind, Tags: ev.Tags, Content: json.RawMessage(ev.Content),
		})
	}
	return encryptedMessage(ev)
}

// conversationsBoundTo resolves a subscription id to the conversation
// entries the router should call on_message on: standard conversations
// bound to it directly, and the parent of any alias bound to it (an
// alias itself has no Conversation implementation to call).
func (r *Router) conversationsBoundTo(subID ids.SubscriptionID) []*conversationEntry {
	var out []*conversationEntry
	for _, entry := range r.conversations {
		if entry.subID != subID.String() {
			continue
		}
		if entry.isAlias {
			if parent, ok := r.conversations[entry.parentID]; ok {
				out = append(out, parent)
			}
			continue
		}
		out = append(out, entry)
	}
	return out
}

func (r *Router) allStandardConversations() []*conversationEntry {
	out := make([]*conversationEntry, 0, len(r.conversations))
	for _, entry := range r.conversations {
		if !entry.isAlias {
			out = append(out, entry)
		}
	}
	return out
}

// dispatchTo calls on_message, processes the response, and runs
// cleanup if the conversation now reports itself expired.
func (r *Router) dispatchTo(ctx context.Context, entry *conversationEntry, msg ConversationMessage) {
	resp, err := entry.conv.OnMessage(msg)
	if err != nil {
		slog.Warn("router: conversation returned an error", "conversation_id", entry.id, "error", err)
		resp = NewResponse().Finish()
	}
	r.processResponse(ctx, entry, resp)
	if !resp.finish && entry.conv.IsExpired() {
		r.cleanupConversation(ctx, entry.id)
	}
}

// processResponse applies one Response in a fixed order: filter
// installation, then event construction and
// broadcast, then the subkey-proof alias (which needs the ids just
// broadcast), then notification delivery, then finish cleanup.
func (r *Router) processResponse(ctx context.Context, entry *conversationEntry, resp Response) {
	if resp.filter != nil {
		r.installFilter(ctx, entry, *resp.filter)
	}

	var emittedIDs []string
	for _, reply := range resp.replies {
		recipients := []string{reply.recipient}
		if reply.all {
			recipients = mapKeys(entry.peers)
		}
		for _, pubkey := range recipients {
			ev, err := r.buildEncryptedEvent(pubkey, reply.kind, reply.tags, reply.content)
			if err != nil {
				slog.Error("router: build reply event failed", "conversation_id", entry.id, "recipient", pubkey, "error", err)
				continue
			}
			emittedIDs = append(emittedIDs, ev.ID)
			r.broadcastEvent(ctx, entry, ev)
		}
	}
	for _, u := range resp.unencrypted {
		ev, err := r.buildUnencryptedEvent(u.kind, u.tags, u.content)
		if err != nil {
			slog.Error("router: build broadcast event failed", "conversation_id", entry.id, "error", err)
			continue
		}
		emittedIDs = append(emittedIDs, ev.ID)
		r.broadcastEvent(ctx, entry, ev)
	}

	if resp.subscribeToSubkeyProofs && len(emittedIDs) > 0 {
		r.createSubkeyProofAlias(ctx, entry, resp.subkeyProofKind, emittedIDs)
	}

	for _, n := range resp.notifications {
		r.deliverNotification(entry, n)
	}

	if resp.finish {
		r.cleanupConversation(ctx, entry.id)
	}
}

func (r *Router) buildEncryptedEvent(recipient string, kind int, tags nostr.Tags, content any) (nostr.Event, error) {
	payload, err := json.Marshal(content)
	if err != nil {
		return nostr.Event{}, err
	}
	ciphertext, err := r.signer.EncryptFor(recipient, string(payload))
	if err != nil {
		return nostr.Event{}, fmt.Errorf("%w: %s: %v", ErrEncryptionNotSupported, recipient, err)
	}
	tags = append(append(nostr.Tags(nil), tags...), nostr.Tag{"p", recipient})
	return r.signer.Sign(kind, tags, ciphertext)
}

func (r *Router) buildUnencryptedEvent(kind int, tags nostr.Tags, content any) (nostr.Event, error) {
	payload, err := json.Marshal(content)
	if err != nil {
		return nostr.Event{}, err
	}
	return r.signer.Sign(kind, tags, string(payload))
}

func (r *Router) broadcastEvent(ctx context.Context, entry *conversationEntry, ev nostr.Event) {
	var result channel.BroadcastResult
	var err error
	if entry.scope.global {
		result, err = r.channel.Broadcast(ctx, ev)
	} else {
		result, err = r.channel.BroadcastTo(ctx, entry.scope.urlList(), ev)
	}
	if err != nil {
		slog.Warn("router: broadcast failed", "event_id", ev.ID, "error", err)
		return
	}
	scheduleRetry(context.WithoutCancel(ctx), r.channel, ev, result.Failed, r.retry)
}

func mapKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

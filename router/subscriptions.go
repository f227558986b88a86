package router

import (
	"context"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/ids"
)

// installFilter binds entry to a relay-pool subscription for filter,
// sharing an existing one when a compatible global subscription
// already exists.
func (r *Router) installFilter(ctx context.Context, entry *conversationEntry, filter nostr.Filter) {
	if isEmptyFilter(filter) {
		return
	}
	if !entry.scope.global {
		urls := entry.scope.urlList()
		subID := ids.NewSubscriptionID()
		if err := r.channel.SubscribeTo(ctx, urls, subID, filter); err != nil {
			slog.Error("router: scoped subscribe failed", "conversation_id", entry.id, "error", err)
			return
		}
		r.bindNewSubscription(entry, subID, filter, entry.scope, len(urls))
		return
	}

	for _, other := range r.allStandardConversations() {
		if other.id == entry.id || other.filter == nil || !other.scope.global {
			continue
		}
		if !mergeable(*other.filter, filter) {
			continue
		}
		r.mergeSubscriptions(ctx, entry, other, filter)
		return
	}

	subID := ids.NewSubscriptionID()
	relayCount, err := r.channel.Subscribe(ctx, subID, filter)
	if err != nil {
		slog.Error("router: subscribe failed", "conversation_id", entry.id, "error", err)
		return
	}
	r.bindNewSubscription(entry, subID, filter, globalScope(), relayCount)
}

func (r *Router) bindNewSubscription(entry *conversationEntry, subID ids.SubscriptionID, filter nostr.Filter, scope relayScope, relayCount int) {
	entry.subID = subID.String()
	f := filter
	entry.filter = &f
	entry.scope = scope
	entry.eoseRemaining = relayCount
	entry.eoseDelivered = relayCount == 0

	if sub, ok := r.subscriptions[subID.String()]; ok {
		sub.refcount++
		return
	}
	r.subscriptions[subID.String()] = &subscriptionEntry{id: subID.String(), filter: filter, scope: scope, refcount: 1}
}

// mergeSubscriptions re-subscribes entry and every conversation
// currently sharing other's subscription under the wider, merged
// filter, replacing the old relay-pool subscription with one new one.
func (r *Router) mergeSubscriptions(ctx context.Context, entry, other *conversationEntry, filter nostr.Filter) {
	merged := mergeFilters(*other.filter, filter)
	oldSubID := other.subID

	if err := r.channel.Unsubscribe(ctx, ids.SubscriptionID(oldSubID)); err != nil {
		slog.Warn("router: unsubscribe before merge failed", "subscription_id", oldSubID, "error", err)
	}
	newSubID := ids.NewSubscriptionID()
	relayCount, err := r.channel.Subscribe(ctx, newSubID, merged)
	if err != nil {
		slog.Error("router: merged subscribe failed", "conversation_id", entry.id, "error", err)
		return
	}

	for _, e := range r.conversations {
		if e.subID == oldSubID {
			e.subID = newSubID.String()
			f := merged
			e.filter = &f
			e.eoseRemaining = relayCount
			e.eoseDelivered = relayCount == 0
		}
	}
	delete(r.subscriptions, oldSubID)

	entry.subID = newSubID.String()
	f := merged
	entry.filter = &f
	entry.eoseRemaining = relayCount
	entry.eoseDelivered = relayCount == 0

	refcount := 0
	for _, e := range r.conversations {
		if e.subID == newSubID.String() {
			refcount++
		}
	}
	r.subscriptions[newSubID.String()] = &subscriptionEntry{id: newSubID.String(), filter: merged, scope: globalScope(), refcount: refcount}
}

// createSubkeyProofAlias installs an alias conversation, sharing
// entry's lifetime as its parent, subscribed to subkeyProofKind events
// that reference any of emittedIDs via an "e" tag.
func (r *Router) createSubkeyProofAlias(ctx context.Context, parent *conversationEntry, subkeyProofKind int, emittedIDs []string) {
	parentID, err := ids.ParseConversationID(parent.id)
	if err != nil {
		slog.Error("router: parse parent conversation id failed", "conversation_id", parent.id, "error", err)
		return
	}
	aliasID := ids.NewAlias(parentID, uint64(len(parent.children)))
	alias := &conversationEntry{id: aliasID.String(), isAlias: true, parentID: parent.id, scope: parent.scope}
	r.conversations[alias.id] = alias
	parent.children = append(parent.children, alias.id)

	filter := nostr.Filter{
		Kinds: []int{subkeyProofKind},
		Tags:  nostr.TagMap{"e": emittedIDs},
	}
	r.installFilter(ctx, alias, filter)
}

// cleanupConversation removes id and, if it owns any, every child
// alias, releasing each one's subscription reference.
func (r *Router) cleanupConversation(ctx context.Context, key string) {
	entry, ok := r.conversations[key]
	if !ok {
		return
	}
	for _, childKey := range entry.children {
		r.releaseSubscription(ctx, childKey)
		delete(r.conversations, childKey)
	}
	r.releaseSubscription(ctx, key)
	delete(r.conversations, key)

	if entry.isAlias {
		if parent, ok := r.conversations[entry.parentID]; ok {
			parent.children = removeString(parent.children, key)
		}
	}
}

func (r *Router) releaseSubscription(ctx context.Context, key string) {
	entry, ok := r.conversations[key]
	if !ok || entry.subID == "" {
		return
	}
	sub, ok := r.subscriptions[entry.subID]
	if !ok {
		return
	}
	sub.refcount--
	if sub.refcount <= 0 {
		if err := r.channel.Unsubscribe(ctx, ids.SubscriptionID(entry.subID)); err != nil {
			slog.Warn("router: unsubscribe on cleanup failed", "subscription_id", entry.subID, "error", err)
		}
		delete(r.subscriptions, entry.subID)
	}
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

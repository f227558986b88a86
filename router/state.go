package router

import "github.com/nbd-wtf/go-nostr"

// relayScope describes which relays a conversation's subscription and
// broadcasts are confined to. A global scope participates in filter
// merging with other global conversations; a scoped
// one never merges and is broadcast to only its own relay set.
type relayScope struct {
	global bool
	urls   map[string]bool
}

func globalScope() relayScope { return relayScope{global: true} }

func scopedTo(urls []string) relayScope {
	s := relayScope{urls: make(map[string]bool, len(urls))}
	for _, u := range urls {
		s.urls[u] = true
	}
	return s
}

func (s relayScope) urlList() []string {
	out := make([]string, 0, len(s.urls))
	for u := range s.urls {
		out = append(out, u)
	}
	return out
}

// removeURL drops url from a scoped relayScope. It is a no-op on a
// global scope, which has no url set to shrink.
func (s relayScope) removeURL(url string) {
	if s.global {
		return
	}
	delete(s.urls, url)
}

// exhausted reports whether a scoped relayScope has lost every relay it
// was confined to. Always false for a global scope.
func (s relayScope) exhausted() bool {
	return !s.global && len(s.urls) == 0
}

// conversationEntry is the router's bookkeeping record for one live
// conversation id. Standard entries own a Conversation implementation;
// alias entries are sentinels that only exist to bind a subscription
// and are routed to their parent's conversation.
type conversationEntry struct {
	id       string // ConversationID.String()
	isAlias  bool
	parentID string // set when isAlias

	conv     Conversation // nil for alias entries
	children []string     // standard entries: ids of their alias children

	subID         string // SubscriptionID.String(), empty if no filter installed
	filter        *nostr.Filter
	scope         relayScope
	eoseRemaining int
	eoseDelivered bool

	subscribers []*subscriberSink
	peers       map[string]bool // authors this conversation has received a message from, for ReplyAll
}

// subscriptionEntry tracks one relay-pool subscription that may be
// shared by several conversation entries after a merge.
type subscriptionEntry struct {
	id       string // SubscriptionID.String()
	filter   nostr.Filter
	scope    relayScope
	refcount int
}

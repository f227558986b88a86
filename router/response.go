package router

import "github.com/nbd-wtf/go-nostr"

// replyTarget is one event a Response asks the router to build, sign
// and broadcast, addressed either to a single recipient or to every
// peer the conversation has heard from so far (ReplyAll).
type replyTarget struct {
	recipient string // empty when all is true
	all       bool
	kind      int
	tags      nostr.Tags
	content   any
}

type unencryptedEvent struct {
	kind    int
	tags    nostr.Tags
	content any
}

// Response is the value a Conversation returns from Init or OnMessage,
// built with the chained setters below. The zero value does nothing.
type Response struct {
	filter                   *nostr.Filter
	replies                  []replyTarget
	unencrypted              []unencryptedEvent
	notifications            []any
	subscribeToSubkeyProofs  bool
	subkeyProofKind          int
	finish                   bool
}

// NewResponse starts an empty response.
func NewResponse() Response {
	return Response{}
}

// Filter installs (or merges into an existing compatible subscription)
// the given filter for this conversation.
func (r Response) Filter(f nostr.Filter) Response {
	r.filter = &f
	return r
}

// ReplyTo queues an encrypted event addressed to a single recipient.
func (r Response) ReplyTo(recipient string, kind int, tags nostr.Tags, content any) Response {
	r.replies = append(append([]replyTarget(nil), r.replies...), replyTarget{
		recipient: recipient, kind: kind, tags: tags, content: content,
	})
	return r
}

// ReplyAll queues an encrypted event addressed to every peer this
// conversation has received a message from so far.
func (r Response) ReplyAll(kind int, tags nostr.Tags, content any) Response {
	r.replies = append(append([]replyTarget(nil), r.replies...), replyTarget{
		all: true, kind: kind, tags: tags, content: content,
	})
	return r
}

// BroadcastUnencrypted queues a plaintext event with no recipient.
func (r Response) BroadcastUnencrypted(kind int, tags nostr.Tags, content any) Response {
	r.unencrypted = append(append([]unencryptedEvent(nil), r.unencrypted...), unencryptedEvent{
		kind: kind, tags: tags, content: content,
	})
	return r
}

// Notify queues a value to deliver to every subscriber of this
// conversation's notification stream.
func (r Response) Notify(value any) Response {
	r.notifications = append(append([]any(nil), r.notifications...), value)
	return r
}

// SubscribeToSubkeyProofs asks the router to, after broadcasting the
// events this response produces, create an alias conversation
// subscribed to subkey-proof events referencing them, so a reply
// signed by a subkey whose proof lands late can still be accepted.
// kind is the distinguished subkey-proof event kind, supplied by the
// conversation layer rather than hardcoded in the router.
func (r Response) SubscribeToSubkeyProofs(kind int) Response {
	r.subscribeToSubkeyProofs = true
	r.subkeyProofKind = kind
	return r
}

// Finish marks the conversation for cleanup once this response has
// been fully processed.
func (r Response) Finish() Response {
	r.finish = true
	return r
}

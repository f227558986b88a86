package router

import (
	"encoding/json"

	"github.com/nbd-wtf/go-nostr"
)

// Conversation is the contract every stateful exchange the router
// drives must implement.
// Init is called once, right after the router assigns the
// conversation an id, and OnMessage once per inbound message matched
// to it afterwards. IsExpired is consulted by the router right after
// each OnMessage call and lets a conversation retire itself without
// waiting for an explicit Finish response.
type Conversation interface {
	Init() (Response, error)
	OnMessage(msg ConversationMessage) (Response, error)
	IsExpired() bool
}

// MessageKind distinguishes the three shapes a ConversationMessage can
// take.
type MessageKind int

const (
	MessageCleartext MessageKind = iota
	MessageEncrypted
	MessageEndOfStoredEvents
)

// CleartextEvent is a relay event whose content has already been
// decrypted (or was never encrypted) and parsed as JSON.
type CleartextEvent struct {
	ID        string
	Author    string
	CreatedAt nostr.Timestamp
	Kind      int
	Tags      nostr.Tags
	Content   json.RawMessage
}

// ConversationMessage is what the router hands to Conversation.OnMessage.
// Exactly one of Cleartext/Encrypted is populated, selected by Kind;
// MessageEndOfStoredEvents carries neither.
type ConversationMessage struct {
	Kind      MessageKind
	Cleartext *CleartextEvent
	Encrypted *nostr.Event
}

func cleartextMessage(ce CleartextEvent) ConversationMessage {
	return ConversationMessage{Kind: MessageCleartext, Cleartext: &ce}
}

func encryptedMessage(ev *nostr.Event) ConversationMessage {
	return ConversationMessage{Kind: MessageEncrypted, Encrypted: ev}
}

var eoseMessage = ConversationMessage{Kind: MessageEndOfStoredEvents}

package router

import (
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/keys"
)

// Built is what an adapter's inner logic returns: the event to emit
// and, for listeners, what to do with an inbound message.
type Built struct {
	Kind    int
	Tags    nostr.Tags
	Content any
}

// OneShotBuilder produces the single event a OneShotSender emits.
type OneShotBuilder interface {
	Build() (Built, error)
}

// OneShotSender is the simplest conversation shell: build one event,
// send it to one or more recipients, and finish. It never installs a
// filter or processes replies itself.
type OneShotSender struct {
	target          string
	extraRecipients []string
	inner           OneShotBuilder
}

// NewOneShotSender addresses inner's event to target and any extra
// recipients, all encrypted individually.
func NewOneShotSender(target string, extraRecipients []string, inner OneShotBuilder) *OneShotSender {
	return &OneShotSender{target: target, extraRecipients: extraRecipients, inner: inner}
}

func (s *OneShotSender) Init() (Response, error) {
	built, err := s.inner.Build()
	if err != nil {
		return Response{}, err
	}
	resp := NewResponse().ReplyTo(s.target, built.Kind, built.Tags, built.Content)
	for _, r := range s.extraRecipients {
		resp = resp.ReplyTo(r, built.Kind, built.Tags, built.Content)
	}
	return resp.Finish(), nil
}

func (s *OneShotSender) OnMessage(ConversationMessage) (Response, error) {
	return NewResponse().Finish(), nil
}

func (s *OneShotSender) IsExpired() bool { return false }

// ListenerHandler processes one decrypted message for a MultiKeyListener.
// Returning KeepGoing=false lets the listener expire on its own, rather
// than waiting for a Finish response.
type ListenerHandler interface {
	Filter(pubkeys []string) nostr.Filter
	HandleEvent(ev CleartextEvent) (ListenerResult, error)
}

// ListenerResult is what HandleEvent reports back to a MultiKeyListener:
// an optional reply event addressed to ReplyTo, an optional value to
// push to the listener's own notification subscribers, and whether the
// listener should keep running afterward.
type ListenerResult struct {
	Reply     *Built
	ReplyTo   string
	Notify    any
	KeepGoing bool
}

// MultiKeyListener listens on behalf of its own key and, when that key
// carries a verifying subkey proof, the master it was delegated from;
// inner's Filter decides how those pubkeys are matched, and each
// delivered message is forwarded to inner. It self-expires after
// validUntil, if set.
type MultiKeyListener struct {
	keypair    *keys.Keypair
	inner      ListenerHandler
	validUntil *time.Time
	expired    bool
}

// NewMultiKeyListener listens on behalf of kp (and its master, if kp
// carries a subkey proof) until validity elapses (nil means never).
func NewMultiKeyListener(kp *keys.Keypair, inner ListenerHandler, validity *time.Duration) *MultiKeyListener {
	l := &MultiKeyListener{keypair: kp, inner: inner}
	if validity != nil {
		until := time.Now().Add(*validity)
		l.validUntil = &until
	}
	return l
}

// pubkeys returns the identities this listener accepts mail for: its
// own key, plus the master it holds a delegation from, but only once
// that delegation has been checked against the master's signature and
// expiry. A listener whose own subkey proof no longer verifies falls
// back to listening on its subkey alone.
func (l *MultiKeyListener) pubkeys() []string {
	pubkeys := []string{l.keypair.PublicKey}
	if l.keypair.SubkeyProof == nil {
		return pubkeys
	}
	if err := keys.VerifySubkeyProof(*l.keypair.SubkeyProof, time.Now()); err != nil {
		slog.Warn("router: local subkey proof no longer verifies, not listening for master", "master", l.keypair.SubkeyProof.Master, "error", err)
		return pubkeys
	}
	return append(pubkeys, l.keypair.SubkeyProof.Master)
}

func (l *MultiKeyListener) Init() (Response, error) {
	return NewResponse().Filter(l.inner.Filter(l.pubkeys())), nil
}

func (l *MultiKeyListener) OnMessage(msg ConversationMessage) (Response, error) {
	if msg.Kind != MessageCleartext {
		return NewResponse(), nil
	}
	result, err := l.inner.HandleEvent(*msg.Cleartext)
	if err != nil {
		return NewResponse(), err
	}
	if !result.KeepGoing {
		l.expired = true
	}
	resp := NewResponse()
	if result.Reply != nil {
		resp = resp.ReplyTo(result.ReplyTo, result.Reply.Kind, result.Reply.Tags, result.Reply.Content)
	}
	if result.Notify != nil {
		resp = resp.Notify(result.Notify)
	}
	return resp, nil
}

func (l *MultiKeyListener) IsExpired() bool {
	if l.expired {
		return true
	}
	return l.validUntil != nil && time.Now().After(*l.validUntil)
}

// MultiKeySender sends on behalf of a master or a delegated subkey and,
// after broadcasting, subscribes to subkey-proof events referencing its
// own outgoing ids. It finishes on the first message that subscription
// delivers, whether that is its end-of-stored-events or a proof event;
// proof events are not validated.
type MultiKeySender struct {
	target          string
	extraRecipients []string
	inner           OneShotBuilder
	subkeyProofKind int
}

// NewMultiKeySender mirrors NewOneShotSender but additionally
// subscribes to late subkey proofs for the events it emits.
func NewMultiKeySender(target string, extraRecipients []string, inner OneShotBuilder, subkeyProofKind int) *MultiKeySender {
	return &MultiKeySender{target: target, extraRecipients: extraRecipients, inner: inner, subkeyProofKind: subkeyProofKind}
}

func (s *MultiKeySender) Init() (Response, error) {
	built, err := s.inner.Build()
	if err != nil {
		return Response{}, err
	}
	resp := NewResponse().ReplyTo(s.target, built.Kind, built.Tags, built.Content)
	for _, r := range s.extraRecipients {
		resp = resp.ReplyTo(r, built.Kind, built.Tags, built.Content)
	}
	return resp.SubscribeToSubkeyProofs(s.subkeyProofKind), nil
}

func (s *MultiKeySender) OnMessage(msg ConversationMessage) (Response, error) {
	// Either the subkey-proof subscription went through its stored
	// backlog with nothing relevant (EOSE) or a proof event arrived;
	// either way there is nothing further to wait for.
	return NewResponse().Finish(), nil
}

func (s *MultiKeySender) IsExpired() bool { return false }

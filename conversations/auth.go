package conversations

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/ids"
	"github.com/asmogo/portal/keys"
	"github.com/asmogo/portal/router"
)

// AuthChallenge is sent to a peer to start a key-handshake-backed
// authentication exchange.
type AuthChallenge struct {
	Token string `json:"token"`
}

// AuthAnswer is what a responder sends back.
type AuthAnswer struct {
	Token    string `json:"token"`
	Accepted bool   `json:"accepted"`
}

// AuthResult is delivered on the initiator's notification stream once
// the peer answers the challenge.
type AuthResult struct {
	PeerPubkey string `json:"peer_pubkey"`
	Token      string `json:"token"`
	Accepted   bool   `json:"accepted"`
}

// authInitiator sends a challenge to one peer and waits for that
// peer's answer, combining a reply and a filter in the same Init
// response: the router installs the filter before broadcasting the
// challenge, so the answer can never arrive before the listener does.
type authInitiator struct {
	peer  string
	token string
}

func (a *authInitiator) Init() (router.Response, error) {
	filter := nostr.Filter{Kinds: []int{KindAuthResponse}, Authors: []string{a.peer}}
	challenge := AuthChallenge{Token: a.token}
	return router.NewResponse().Filter(filter).ReplyTo(a.peer, KindAuthChallenge, nil, challenge), nil
}

func (a *authInitiator) OnMessage(msg router.ConversationMessage) (router.Response, error) {
	if msg.Kind != router.MessageCleartext {
		return router.NewResponse(), nil
	}
	var answer AuthAnswer
	if err := json.Unmarshal(msg.Cleartext.Content, &answer); err != nil {
		return router.NewResponse(), fmt.Errorf("conversations: decode auth answer: %w", err)
	}
	if answer.Token != a.token {
		return router.NewResponse(), nil
	}
	result := AuthResult{PeerPubkey: msg.Cleartext.Author, Token: answer.Token, Accepted: answer.Accepted}
	return router.NewResponse().Notify(result).Finish(), nil
}

func (a *authInitiator) IsExpired() bool { return false }

// Authenticate sends an auth challenge to peerPubkey and returns a
// stream the caller can read the peer's answer from.
func Authenticate(ctx context.Context, r *router.Router, peerPubkey, token string) (ids.ConversationID, *router.NotificationStream[AuthResult], error) {
	return router.AddAndSubscribe[AuthResult](ctx, r, &authInitiator{peer: peerPubkey, token: token})
}

// AuthResponderDecision is asked for a verdict on every inbound
// challenge addressed to the local identity (or the master it holds a
// subkey proof from).
type AuthResponderDecision func(challenge AuthChallenge, fromPubkey string) bool

// authResponderHandler is the router.ListenerHandler behind
// NewAuthResponder: it answers every auth challenge addressed to either
// of the listener's pubkeys with decide's verdict.
type authResponderHandler struct {
	decide AuthResponderDecision
}

func (h *authResponderHandler) Filter(pubkeys []string) nostr.Filter {
	return nostr.Filter{Kinds: []int{KindAuthChallenge}, Tags: nostr.TagMap{"p": pubkeys}}
}

func (h *authResponderHandler) HandleEvent(ev router.CleartextEvent) (router.ListenerResult, error) {
	var challenge AuthChallenge
	if err := json.Unmarshal(ev.Content, &challenge); err != nil {
		return router.ListenerResult{KeepGoing: true}, fmt.Errorf("conversations: decode auth challenge: %w", err)
	}
	accepted := h.decide(challenge, ev.Author)
	answer := AuthAnswer{Token: challenge.Token, Accepted: accepted}
	return router.ListenerResult{
		Reply:     &router.Built{Kind: KindAuthResponse, Content: answer},
		ReplyTo:   ev.Author,
		KeepGoing: true,
	}, nil
}

// NewAuthResponder builds a long-lived listener/responder for kp,
// answering challenges addressed to kp's own key or, once its subkey
// proof verifies, the master it was delegated from.
func NewAuthResponder(kp *keys.Keypair, decide AuthResponderDecision) *router.MultiKeyListener {
	return router.NewMultiKeyListener(kp, &authResponderHandler{decide: decide}, nil)
}

// RunAuthResponder registers a long-lived AuthResponder for kp.
func RunAuthResponder(ctx context.Context, r *router.Router, kp *keys.Keypair, decide AuthResponderDecision) (ids.ConversationID, error) {
	if kp == nil {
		return ids.ConversationID{}, router.ErrUserNotSet
	}
	return r.AddConversation(ctx, NewAuthResponder(kp, decide))
}

package conversations

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/ids"
	"github.com/asmogo/portal/keys"
	"github.com/asmogo/portal/router"
)

// RecurringRequest asks a peer to authorize a standing payment of
// AmountMsat every Period, starting now.
type RecurringRequest struct {
	AmountMsat uint64        `json:"amount_msat"`
	Period     time.Duration `json:"period"`
	Reason     string        `json:"reason"`
}

// RecurringNotice is sent by the payer each time a scheduled payment
// goes out, so the payee can reconcile it against the original
// authorization.
type RecurringNotice struct {
	AmountMsat uint64 `json:"amount_msat"`
	Invoice    string `json:"invoice,omitempty"`
	Sequence   int    `json:"sequence"`
}

// RequestRecurringPayment asks peerPubkey to authorize a standing
// payment and streams every RecurringNotice it later reports. The
// conversation never finishes on its own; the caller closes the
// returned stream once it no longer cares about further notices.
func RequestRecurringPayment(ctx context.Context, r *router.Router, peerPubkey string, req RecurringRequest) (ids.ConversationID, *router.NotificationStream[RecurringNotice], error) {
	conv := &recurringWatcher{peer: peerPubkey, request: req}
	return router.AddAndSubscribe[RecurringNotice](ctx, r, conv)
}

// recurringWatcher sends the authorization request once, then stays
// subscribed to every subsequent RecurringNotice from the same peer
// for the lifetime of the conversation.
type recurringWatcher struct {
	peer    string
	request RecurringRequest
}

func (w *recurringWatcher) Init() (router.Response, error) {
	filter := nostr.Filter{Kinds: []int{KindRecurringNotice}, Authors: []string{w.peer}}
	return router.NewResponse().Filter(filter).ReplyTo(w.peer, KindRecurringRequest, nil, w.request), nil
}

func (w *recurringWatcher) OnMessage(msg router.ConversationMessage) (router.Response, error) {
	if msg.Kind != router.MessageCleartext {
		return router.NewResponse(), nil
	}
	var notice RecurringNotice
	if err := decodeCleartext(msg, &notice); err != nil {
		return router.NewResponse(), err
	}
	return router.NewResponse().Notify(notice), nil
}

func (w *recurringWatcher) IsExpired() bool { return false }

// RecurringAuthorization is delivered once per inbound RecurringRequest
// a payer's responder accepts to drive.
type RecurringAuthorization struct {
	PeerPubkey string
	Request    RecurringRequest
}

// RunRecurringAuthorizer registers a long-lived listener under kp that
// streams a RecurringAuthorization for every inbound RecurringRequest
// addressed to kp (or the master it holds a subkey proof from) that
// authorize approves. Actually scheduling and sending the standing
// payments is left to the caller, which calls SendRecurringNotice on
// its own timer once a standing payment is authorized — the router has
// no notion of wall-clock scheduling of its own.
func RunRecurringAuthorizer(ctx context.Context, r *router.Router, kp *keys.Keypair, authorize func(RecurringRequest, string) bool) (ids.ConversationID, *router.NotificationStream[RecurringAuthorization], error) {
	if kp == nil {
		return ids.ConversationID{}, nil, router.ErrUserNotSet
	}
	listener := router.NewMultiKeyListener(kp, &recurringAuthorizerHandler{authorize: authorize}, nil)
	return router.AddAndSubscribe[RecurringAuthorization](ctx, r, listener)
}

type recurringAuthorizerHandler struct {
	authorize func(RecurringRequest, string) bool
}

func (h *recurringAuthorizerHandler) Filter(pubkeys []string) nostr.Filter {
	return nostr.Filter{Kinds: []int{KindRecurringRequest}, Tags: nostr.TagMap{"p": pubkeys}}
}

func (h *recurringAuthorizerHandler) HandleEvent(ev router.CleartextEvent) (router.ListenerResult, error) {
	var req RecurringRequest
	if err := json.Unmarshal(ev.Content, &req); err != nil {
		return router.ListenerResult{KeepGoing: true}, fmt.Errorf("conversations: decode recurring request: %w", err)
	}
	if !h.authorize(req, ev.Author) {
		return router.ListenerResult{KeepGoing: true}, nil
	}
	return router.ListenerResult{
		Notify:    RecurringAuthorization{PeerPubkey: ev.Author, Request: req},
		KeepGoing: true,
	}, nil
}

// SendRecurringNotice reports one scheduled payment to peerPubkey,
// outside of any conversation's own response pipeline, for payers that
// schedule notices on a timer rather than in reaction to an inbound
// message.
func SendRecurringNotice(ctx context.Context, r *router.Router, peerPubkey string, notice RecurringNotice) error {
	sender := router.NewOneShotSender(peerPubkey, nil, recurringNoticeBuilder{notice: notice})
	_, err := r.AddConversation(ctx, sender)
	return err
}

type recurringNoticeBuilder struct {
	notice RecurringNotice
}

func (b recurringNoticeBuilder) Build() (router.Built, error) {
	return router.Built{Kind: KindRecurringNotice, Content: b.notice}, nil
}

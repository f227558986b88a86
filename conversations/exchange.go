package conversations

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/ids"
	"github.com/asmogo/portal/router"
)

// requestResponse is the shared shape behind every façade in this
// package that sends one request and waits for one typed reply from
// the same peer: payments, invoices, and NIP-46 signing requests all
// differ only in the request/response types and event kinds.
type requestResponse[Req any, Resp any] struct {
	peer         string
	requestKind  int
	responseKind int
	request      Req
	accept       func(Resp) bool // nil accepts the first reply
}

func (c *requestResponse[Req, Resp]) Init() (router.Response, error) {
	filter := nostr.Filter{Kinds: []int{c.responseKind}, Authors: []string{c.peer}}
	return router.NewResponse().Filter(filter).ReplyTo(c.peer, c.requestKind, nil, c.request), nil
}

func (c *requestResponse[Req, Resp]) OnMessage(msg router.ConversationMessage) (router.Response, error) {
	if msg.Kind != router.MessageCleartext {
		return router.NewResponse(), nil
	}
	var resp Resp
	if err := json.Unmarshal(msg.Cleartext.Content, &resp); err != nil {
		return router.NewResponse(), fmt.Errorf("conversations: decode response: %w", err)
	}
	if c.accept != nil && !c.accept(resp) {
		return router.NewResponse(), nil
	}
	return router.NewResponse().Notify(resp).Finish(), nil
}

func (c *requestResponse[Req, Resp]) IsExpired() bool { return false }

// decodeCleartext unmarshals a cleartext message's content into v,
// wrapping any error with the conversations package's own context.
func decodeCleartext(msg router.ConversationMessage, v any) error {
	if err := json.Unmarshal(msg.Cleartext.Content, v); err != nil {
		return fmt.Errorf("conversations: decode request: %w", err)
	}
	return nil
}

// sendRequest registers a requestResponse conversation and returns a
// stream the caller reads the single typed reply from.
func sendRequest[Req any, Resp any](ctx context.Context, r *router.Router, peer string, requestKind, responseKind int, req Req, accept func(Resp) bool) (ids.ConversationID, *router.NotificationStream[Resp], error) {
	conv := &requestResponse[Req, Resp]{peer: peer, requestKind: requestKind, responseKind: responseKind, request: req, accept: accept}
	return router.AddAndSubscribe[Resp](ctx, r, conv)
}

package conversations

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/ids"
	"github.com/asmogo/portal/router"
)

// InvoiceRequest asks a peer to produce a Lightning invoice for
// amountMsat.
type InvoiceRequest struct {
	AmountMsat  uint64 `json:"amount_msat"`
	Description string `json:"description"`
}

// InvoiceResponse carries the requested invoice, or a reason it could
// not be produced.
type InvoiceResponse struct {
	Invoice string `json:"invoice,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RequestInvoice sends peerPubkey an invoice request and returns a
// stream that yields the single reply.
func RequestInvoice(ctx context.Context, r *router.Router, peerPubkey string, req InvoiceRequest) (ids.ConversationID, *router.NotificationStream[InvoiceResponse], error) {
	return sendRequest[InvoiceRequest, InvoiceResponse](ctx, r, peerPubkey, KindInvoiceRequest, KindInvoiceResponse, req, nil)
}

// RunInvoiceResponder registers a long-lived conversation that answers
// every inbound invoice request with issue's result.
func RunInvoiceResponder(ctx context.Context, r *router.Router, issue func(InvoiceRequest, string) InvoiceResponse) (ids.ConversationID, error) {
	return r.AddConversation(ctx, &invoiceResponder{issue: issue})
}

type invoiceResponder struct {
	issue func(InvoiceRequest, string) InvoiceResponse
}

func (v *invoiceResponder) Init() (router.Response, error) {
	return router.NewResponse().Filter(nostr.Filter{Kinds: []int{KindInvoiceRequest}}), nil
}

func (v *invoiceResponder) OnMessage(msg router.ConversationMessage) (router.Response, error) {
	if msg.Kind != router.MessageCleartext {
		return router.NewResponse(), nil
	}
	var req InvoiceRequest
	if err := decodeCleartext(msg, &req); err != nil {
		return router.NewResponse(), err
	}
	resp := v.issue(req, msg.Cleartext.Author)
	return router.NewResponse().ReplyTo(msg.Cleartext.Author, KindInvoiceResponse, nil, resp), nil
}

func (v *invoiceResponder) IsExpired() bool { return false }

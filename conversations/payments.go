package conversations

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/ids"
	"github.com/asmogo/portal/router"
)

func paymentRequestFilter() nostr.Filter {
	return nostr.Filter{Kinds: []int{KindPaymentRequest}}
}

// PaymentRequest asks a peer to pay amountMsat for a reason.
type PaymentRequest struct {
	AmountMsat uint64 `json:"amount_msat"`
	Reason     string `json:"reason"`
}

// PaymentResponse is the peer's reply to a PaymentRequest: either a
// Lightning invoice to pay, or a rejection.
type PaymentResponse struct {
	Invoice string `json:"invoice,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RequestPayment sends peerPubkey a payment request and returns a
// stream that yields the single reply.
func RequestPayment(ctx context.Context, r *router.Router, peerPubkey string, req PaymentRequest) (ids.ConversationID, *router.NotificationStream[PaymentResponse], error) {
	return sendRequest[PaymentRequest, PaymentResponse](ctx, r, peerPubkey, KindPaymentRequest, KindPaymentResponse, req, nil)
}

// RunPaymentResponder registers a long-lived conversation that answers
// every inbound payment request with quote's verdict.
func RunPaymentResponder(ctx context.Context, r *router.Router, quote func(PaymentRequest, string) PaymentResponse) (ids.ConversationID, error) {
	return r.AddConversation(ctx, &paymentResponder{quote: quote})
}

type paymentResponder struct {
	quote func(PaymentRequest, string) PaymentResponse
}

func (p *paymentResponder) Init() (router.Response, error) {
	return router.NewResponse().Filter(paymentRequestFilter()), nil
}

func (p *paymentResponder) OnMessage(msg router.ConversationMessage) (router.Response, error) {
	if msg.Kind != router.MessageCleartext {
		return router.NewResponse(), nil
	}
	var req PaymentRequest
	if err := decodeCleartext(msg, &req); err != nil {
		return router.NewResponse(), err
	}
	resp := p.quote(req, msg.Cleartext.Author)
	return router.NewResponse().ReplyTo(msg.Cleartext.Author, KindPaymentResponse, nil, resp), nil
}

func (p *paymentResponder) IsExpired() bool { return false }

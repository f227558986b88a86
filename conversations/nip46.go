package conversations

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/ids"
	"github.com/asmogo/portal/router"
)

// SigningRequest asks a remote signer to sign an unsigned event on
// the caller's behalf, NIP-46 style.
type SigningRequest struct {
	EventJSON string `json:"event"`
}

// SigningResponse carries the signature, or a rejection reason.
type SigningResponse struct {
	SignatureHex string `json:"sig,omitempty"`
	Error        string `json:"error,omitempty"`
}

// RequestSignature sends a remote signer a SigningRequest and returns
// a stream yielding the single reply.
func RequestSignature(ctx context.Context, r *router.Router, signerPubkey string, req SigningRequest) (ids.ConversationID, *router.NotificationStream[SigningResponse], error) {
	return sendRequest[SigningRequest, SigningResponse](ctx, r, signerPubkey, KindNIP46Request, KindNIP46Response, req, nil)
}

// RunRemoteSigner registers a long-lived conversation that signs every
// inbound SigningRequest with sign's verdict. sign is expected to
// apply whatever authorization policy the signer wants before
// producing (or refusing) a signature.
func RunRemoteSigner(ctx context.Context, r *router.Router, sign func(SigningRequest, fromPubkey string) SigningResponse) (ids.ConversationID, error) {
	return r.AddConversation(ctx, &remoteSigner{sign: sign})
}

type remoteSigner struct {
	sign func(SigningRequest, string) SigningResponse
}

func (s *remoteSigner) Init() (router.Response, error) {
	return router.NewResponse().Filter(nostr.Filter{Kinds: []int{KindNIP46Request}}), nil
}

func (s *remoteSigner) OnMessage(msg router.ConversationMessage) (router.Response, error) {
	if msg.Kind != router.MessageCleartext {
		return router.NewResponse(), nil
	}
	var req SigningRequest
	if err := decodeCleartext(msg, &req); err != nil {
		return router.NewResponse(), err
	}
	resp := s.sign(req, msg.Cleartext.Author)
	return router.NewResponse().ReplyTo(msg.Cleartext.Author, KindNIP46Response, nil, resp), nil
}

func (s *remoteSigner) IsExpired() bool { return false }

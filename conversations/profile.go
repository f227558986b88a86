package conversations

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/ids"
	"github.com/asmogo/portal/keys"
	"github.com/asmogo/portal/router"
)

// Profile is the subset of NIP-01 metadata the façade cares about.
type Profile struct {
	Name    string `json:"name,omitempty"`
	About   string `json:"about,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// SetProfile broadcasts a Metadata event carrying profile, signed by
// r's own keypair; kp is used only for the RequireMaster check.
// kp.RequireMaster rejects the call when kp only holds a
// subkey proof: a delegated subkey is never allowed to overwrite the
// identity it was delegated from.
func SetProfile(ctx context.Context, r *router.Router, kp *keys.Keypair, profile Profile) (ids.ConversationID, error) {
	if kp == nil {
		return ids.ConversationID{}, router.ErrUserNotSet
	}
	if err := kp.RequireMaster(); err != nil {
		return ids.ConversationID{}, err
	}
	return r.AddConversation(ctx, &profileBroadcaster{profile: profile})
}

type profileBroadcaster struct {
	profile Profile
}

func (p *profileBroadcaster) Init() (router.Response, error) {
	return router.NewResponse().BroadcastUnencrypted(KindSetProfile, nil, p.profile).Finish(), nil
}

func (p *profileBroadcaster) OnMessage(router.ConversationMessage) (router.Response, error) {
	return router.NewResponse(), nil
}

func (p *profileBroadcaster) IsExpired() bool { return true }

// FetchProfile asks peerPubkey to report its current profile and
// returns a stream yielding the single reply.
func FetchProfile(ctx context.Context, r *router.Router, peerPubkey string) (ids.ConversationID, *router.NotificationStream[Profile], error) {
	return sendRequest[struct{}, Profile](ctx, r, peerPubkey, KindFetchProfile, KindProfileResponse, struct{}{}, nil)
}

// RunProfileResponder registers a long-lived conversation that answers
// every inbound profile fetch with current's result, read at the time
// of each request.
func RunProfileResponder(ctx context.Context, r *router.Router, current func() Profile) (ids.ConversationID, error) {
	return r.AddConversation(ctx, &profileResponder{current: current})
}

type profileResponder struct {
	current func() Profile
}

func (p *profileResponder) Init() (router.Response, error) {
	return router.NewResponse().Filter(nostr.Filter{Kinds: []int{KindFetchProfile}}), nil
}

func (p *profileResponder) OnMessage(msg router.ConversationMessage) (router.Response, error) {
	if msg.Kind != router.MessageCleartext {
		return router.NewResponse(), nil
	}
	return router.NewResponse().ReplyTo(msg.Cleartext.Author, KindProfileResponse, nil, p.current()), nil
}

func (p *profileResponder) IsExpired() bool { return false }

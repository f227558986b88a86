package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asmogo/portal/ids"
	"github.com/asmogo/portal/keys"
)

// spyConversation records every message it receives and lets tests
// script its responses.
type spyConversation struct {
	mu        sync.Mutex
	initResp  Response
	onMessage func(msg ConversationMessage) (Response, error)
	received  []ConversationMessage
	expired   bool
}

func (s *spyConversation) Init() (Response, error) { return s.initResp, nil }

func (s *spyConversation) OnMessage(msg ConversationMessage) (Response, error) {
	s.mu.Lock()
	s.received = append(s.received, msg)
	s.mu.Unlock()
	if s.onMessage != nil {
		return s.onMessage(msg)
	}
	return NewResponse(), nil
}

func (s *spyConversation) IsExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

func (s *spyConversation) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func newTestRouter(t *testing.T) (*Router, *fakeChannel, *keys.Keypair) {
	t.Helper()
	kp, err := keys.Generate()
	require.NoError(t, err)
	ch := newFakeChannel()
	r := New(Options{Keypair: kp, Channel: ch, CommandQueueSize: 32})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = r.Run(ctx) }()
	return r, ch, kp
}

func signedEventTo(t *testing.T, peer, local *keys.Keypair, kind int, plaintext string) nostr.Event {
	t.Helper()
	signer := keys.NewSigner(peer)
	ciphertext, err := signer.EncryptFor(local.PublicKey, plaintext)
	require.NoError(t, err)
	ev, err := signer.Sign(kind, nostr.Tags{{"p", local.PublicKey}}, ciphertext)
	require.NoError(t, err)
	return ev
}

func TestAddConversationInstallsFilterAndDispatches(t *testing.T) {
	t.Parallel()
	r, ch, local := newTestRouter(t)
	ctx := context.Background()

	spy := &spyConversation{initResp: NewResponse().Filter(nostr.Filter{Kinds: []int{1}})}
	id, err := r.AddConversation(ctx, spy)
	require.NoError(t, err)
	require.NoError(t, r.Ping(ctx))
	assert.Equal(t, 1, ch.subCount())

	peer, err := keys.Generate()
	require.NoError(t, err)
	ev := signedEventTo(t, peer, local, 1, `{"hello":"world"}`)
	ch.deliver(ch.onlySubID(), &ev)
	require.NoError(t, r.Ping(ctx))

	assert.Equal(t, 1, spy.count())
	require.NotEmpty(t, spy.received)
	msg := spy.received[0]
	assert.Equal(t, MessageCleartext, msg.Kind)
	assert.Equal(t, peer.PublicKey, msg.Cleartext.Author)
	assert.JSONEq(t, `{"hello":"world"}`, string(msg.Cleartext.Content))
	assert.True(t, id.IsStandard())
}

func TestSelfLoopRejectedExceptMetadata(t *testing.T) {
	t.Parallel()
	r, ch, local := newTestRouter(t)
	ctx := context.Background()

	spy := &spyConversation{initResp: NewResponse().Filter(nostr.Filter{Kinds: []int{1, KindMetadata}})}
	_, err := r.AddConversation(ctx, spy)
	require.NoError(t, err)
	require.NoError(t, r.Ping(ctx))

	selfEvent := signedEventTo(t, local, local, 1, `{"x":1}`)
	ch.deliver(ch.onlySubID(), &selfEvent)
	require.NoError(t, r.Ping(ctx))
	assert.Equal(t, 0, spy.count(), "non-metadata self-authored events must be dropped")

	metaEvent := signedEventTo(t, local, local, KindMetadata, `{"name":"me"}`)
	ch.deliver(ch.onlySubID(), &metaEvent)
	require.NoError(t, r.Ping(ctx))
	assert.Equal(t, 1, spy.count(), "self-authored Metadata events are the documented exception")
}

func TestCrossMatchDispatch(t *testing.T) {
	t.Parallel()
	r, ch, local := newTestRouter(t)
	ctx := context.Background()

	owner := &spyConversation{initResp: NewResponse().Filter(nostr.Filter{Kinds: []int{1}})}
	_, err := r.AddConversation(ctx, owner)
	require.NoError(t, err)

	// a Limit keeps the bystander's filter from merging, so it gets a
	// subscription of its own.
	bystander := &spyConversation{initResp: NewResponse().Filter(nostr.Filter{Kinds: []int{1}, Limit: 10})}
	_, err = r.AddConversation(ctx, bystander)
	require.NoError(t, err)
	require.NoError(t, r.Ping(ctx))
	require.Equal(t, 2, ch.subCount())

	// the event arrives only on the owner's subscription.
	ownerSubID, err := ch.subIDFor(nostr.Filter{Kinds: []int{1}})
	require.NoError(t, err)
	peer, err := keys.Generate()
	require.NoError(t, err)
	ev := signedEventTo(t, peer, local, 1, `{"v":1}`)
	ch.deliver(ownerSubID, &ev)
	require.NoError(t, r.Ping(ctx))

	assert.Equal(t, 1, owner.count())
	assert.Equal(t, 1, bystander.count(), "a filter-matching conversation not bound to the event's subscription still gets it via cross-match dispatch")
}

func TestSubscriptionMergingSharesOneSubscription(t *testing.T) {
	t.Parallel()
	r, ch, _ := newTestRouter(t)
	ctx := context.Background()

	a := &spyConversation{initResp: NewResponse().Filter(nostr.Filter{Kinds: []int{4}, Authors: []string{"alice"}})}
	b := &spyConversation{initResp: NewResponse().Filter(nostr.Filter{Kinds: []int{4}, Authors: []string{"bob"}})}
	_, err := r.AddConversation(ctx, a)
	require.NoError(t, err)
	_, err = r.AddConversation(ctx, b)
	require.NoError(t, err)
	require.NoError(t, r.Ping(ctx))

	assert.Equal(t, 1, ch.subCount(), "compatible global filters must merge onto one relay subscription")
}

func TestEndOfStoredEventsDeliveredOnce(t *testing.T) {
	t.Parallel()
	r, ch, _ := newTestRouter(t)
	ctx := context.Background()

	spy := &spyConversation{initResp: NewResponse().Filter(nostr.Filter{Kinds: []int{1}})}
	_, err := r.AddConversation(ctx, spy)
	require.NoError(t, err)
	require.NoError(t, r.Ping(ctx))

	ch.deliverEOSE(ch.onlySubID())
	require.NoError(t, r.Ping(ctx))

	require.Equal(t, 1, spy.count())
	assert.Equal(t, MessageEndOfStoredEvents, spy.received[0].Kind)
}

func TestFinishCleansUpConversationAndSubscription(t *testing.T) {
	t.Parallel()
	r, ch, _ := newTestRouter(t)
	ctx := context.Background()

	var finishNext bool
	spy := &spyConversation{
		initResp: NewResponse().Filter(nostr.Filter{Kinds: []int{1}}),
		onMessage: func(ConversationMessage) (Response, error) {
			if finishNext {
				return NewResponse().Finish(), nil
			}
			return NewResponse(), nil
		},
	}
	_, err := r.AddConversation(ctx, spy)
	require.NoError(t, err)
	require.NoError(t, r.Ping(ctx))
	assert.Equal(t, 1, ch.subCount())

	finishNext = true
	ch.deliverEOSE(ch.onlySubID())
	require.NoError(t, r.Ping(ctx))

	assert.Equal(t, 0, ch.subCount(), "cleanup must release the conversation's subscription")
}

func TestSubkeyProofAliasCleanedUpWithParent(t *testing.T) {
	t.Parallel()
	r, ch, _ := newTestRouter(t)
	ctx := context.Background()

	const subkeyProofKind = 30100
	inner := builderFunc(func() (Built, error) {
		return Built{Kind: 1, Content: map[string]string{"hi": "there"}}, nil
	})
	peer, err := keys.Generate()
	require.NoError(t, err)
	sender := NewMultiKeySender(peer.PublicKey, nil, inner, subkeyProofKind)

	id, err := r.AddConversation(ctx, sender)
	require.NoError(t, err)
	require.NoError(t, r.Ping(ctx))
	// one subscription for the subkey-proof alias, no reply-filter subscription.
	assert.Equal(t, 1, ch.subCount())

	parsedID, err := ids.ParseConversationID(id.String())
	require.NoError(t, err)
	assert.True(t, parsedID.IsStandard())

	ch.deliverEOSE(ch.onlySubID())
	require.NoError(t, r.Ping(ctx))

	assert.Equal(t, 0, ch.subCount(), "finishing the sender must also release its subkey-proof alias subscription")
}

func TestNotificationStreamDeliversAndReaps(t *testing.T) {
	t.Parallel()
	r, ch, local := newTestRouter(t)
	ctx := context.Background()

	spy := &spyConversation{
		initResp: NewResponse().Filter(nostr.Filter{Kinds: []int{1}}),
		onMessage: func(ConversationMessage) (Response, error) {
			return NewResponse().Notify(map[string]string{"ok": "yes"}), nil
		},
	}
	id, stream, err := AddAndSubscribe[map[string]string](ctx, r, spy)
	require.NoError(t, err)
	require.True(t, id.IsStandard())

	peer, err := keys.Generate()
	require.NoError(t, err)
	ev := signedEventTo(t, peer, local, 1, `{"a":1}`)
	ch.deliver(ch.onlySubID(), &ev)

	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	value, err := stream.Recv(recvCtx)
	require.NoError(t, err)
	assert.Equal(t, "yes", value["ok"])

	stream.Close()
	ev2 := signedEventTo(t, peer, local, 1, `{"a":2}`)
	ch.deliver(ch.onlySubID(), &ev2)
	require.NoError(t, r.Ping(ctx))
	// no assertion beyond not hanging: delivery to a closed sink must not block the actor.
}

func TestAddConversationScopedRejectsUnknownRelay(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)
	ctx := context.Background()

	spy := &spyConversation{initResp: NewResponse().Filter(nostr.Filter{Kinds: []int{1}})}
	_, err := r.AddConversationScoped(ctx, spy, []string{"relay://never-heard-of-you"})
	require.ErrorIs(t, err, ErrRelayNotConnected)
}

func TestRemoveRelayCleansUpScopedConversationLeftWithoutRelays(t *testing.T) {
	t.Parallel()
	r, ch, _ := newTestRouter(t)
	ctx := context.Background()

	spy := &spyConversation{initResp: NewResponse().Filter(nostr.Filter{Kinds: []int{1}})}
	_, err := r.AddConversationScoped(ctx, spy, []string{"relay://fake"})
	require.NoError(t, err)
	require.NoError(t, r.Ping(ctx))
	assert.Equal(t, 1, ch.subCount())

	require.NoError(t, r.RemoveRelay(ctx, "relay://fake"))
	assert.Equal(t, 0, ch.subCount(), "removing a scoped conversation's only relay must clean it up")
}

func TestRemoveRelayResolvesPendingEoseForGlobalConversations(t *testing.T) {
	t.Parallel()
	r, ch, _ := newTestRouter(t)
	ctx := context.Background()

	spy := &spyConversation{initResp: NewResponse().Filter(nostr.Filter{Kinds: []int{1}})}
	_, err := r.AddConversation(ctx, spy)
	require.NoError(t, err)
	require.NoError(t, r.Ping(ctx))

	require.NoError(t, r.RemoveRelay(ctx, "relay://fake"))
	require.NoError(t, r.Ping(ctx))
	require.Equal(t, 1, spy.count(), "losing the only relay a global filter was installed on must resolve its pending end-of-stored-events")
	assert.Equal(t, MessageEndOfStoredEvents, spy.received[0].Kind)

	ch.deliverEOSE(ch.onlySubID())
	require.NoError(t, r.Ping(ctx))
	assert.Equal(t, 1, spy.count(), "end-of-stored-events must be delivered exactly once")
}

func TestCommandsAfterShutdownReturnErrShutdown(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, r.Shutdown(ctx))

	_, err := r.AddConversation(ctx, &spyConversation{})
	require.ErrorIs(t, err, ErrShutdown)
	require.ErrorIs(t, r.Ping(ctx), ErrShutdown)
	require.ErrorIs(t, r.Shutdown(ctx), ErrShutdown)
}

type builderFunc func() (Built, error)

func (f builderFunc) Build() (Built, error) { return f() }

package conversations

import (
	"context"
	"fmt"

	"github.com/asmogo/gonuts/wallet"
	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/ids"
	"github.com/asmogo/portal/router"
)

func cashuTokenFilter() nostr.Filter {
	return nostr.Filter{Kinds: []int{KindCashuToken}}
}

// CashuToken is a serialized ecash token sent from one peer to
// another, used both as a standalone gift and as the settlement leg
// of a payment exchange.
type CashuToken struct {
	Token string `json:"token"`
	Memo  string `json:"memo,omitempty"`
}

type cashuTokenBuilder struct {
	token CashuToken
}

func (b cashuTokenBuilder) Build() (router.Built, error) {
	return router.Built{Kind: KindCashuToken, Content: b.token}, nil
}

// SendCashuToken delivers an already-minted token to peerPubkey.
func SendCashuToken(ctx context.Context, r *router.Router, peerPubkey string, token CashuToken) (ids.ConversationID, error) {
	sender := router.NewOneShotSender(peerPubkey, nil, cashuTokenBuilder{token: token})
	return r.AddConversation(ctx, sender)
}

// CashuWallet is the narrow surface the façades in this file need from
// a Cashu wallet: mint amountSat worth of proofs into a token for
// mintURL, or redeem a token a peer sent us.
type CashuWallet interface {
	Send(amountSat uint64, mintURL string) (string, error)
	Receive(token string) (uint64, error)
}

// GonutsWallet adapts a *wallet.Wallet from github.com/asmogo/gonuts to
// the CashuWallet interface.
type GonutsWallet struct {
	w *wallet.Wallet
}

// NewGonutsWallet opens or creates a wallet rooted at walletPath,
// trusting mintURL as its default mint.
func NewGonutsWallet(walletPath, mintURL string) (*GonutsWallet, error) {
	w, err := wallet.LoadWallet(wallet.Config{WalletPath: walletPath, CurrentMintURL: mintURL})
	if err != nil {
		return nil, fmt.Errorf("conversations: load cashu wallet: %w", err)
	}
	return &GonutsWallet{w: w}, nil
}

// Send spends amountSat worth of stored proofs against mintURL and
// returns a serialized, peer-sendable token.
func (g *GonutsWallet) Send(amountSat uint64, mintURL string) (string, error) {
	proofs, err := g.w.Send(amountSat, mintURL, true)
	if err != nil {
		return "", fmt.Errorf("conversations: cashu send: %w", err)
	}
	token, err := wallet.SerializeProofs(mintURL, proofs)
	if err != nil {
		return "", fmt.Errorf("conversations: serialize cashu token: %w", err)
	}
	return token, nil
}

// Receive redeems a token a peer sent us and returns the amount, in
// sats, that was credited to the wallet.
func (g *GonutsWallet) Receive(token string) (uint64, error) {
	amount, err := g.w.Receive(token, true)
	if err != nil {
		return 0, fmt.Errorf("conversations: cashu receive: %w", err)
	}
	return amount, nil
}

// MintAndSendCashuToken mints amountSat worth of ecash from wallet and
// delivers it to peerPubkey as a CashuToken.
func MintAndSendCashuToken(ctx context.Context, r *router.Router, wallet CashuWallet, mintURL string, peerPubkey string, amountSat uint64, memo string) (ids.ConversationID, error) {
	token, err := wallet.Send(amountSat, mintURL)
	if err != nil {
		return ids.ConversationID{}, err
	}
	return SendCashuToken(ctx, r, peerPubkey, CashuToken{Token: token, Memo: memo})
}

// CashuReceived is delivered once per redeemed token.
type CashuReceived struct {
	FromPubkey string `json:"from_pubkey"`
	AmountSat  uint64 `json:"amount_sat"`
	Memo       string `json:"memo,omitempty"`
}

// cashuReceiver redeems every Cashu token addressed to the local
// identity as it arrives and notifies the amount credited.
type cashuReceiver struct {
	wallet CashuWallet
}

// RunCashuReceiver registers a long-lived conversation that redeems
// every inbound CashuToken with wallet and streams a CashuReceived
// notification for each one.
func RunCashuReceiver(ctx context.Context, r *router.Router, wallet CashuWallet) (ids.ConversationID, *router.NotificationStream[CashuReceived], error) {
	return router.AddAndSubscribe[CashuReceived](ctx, r, &cashuReceiver{wallet: wallet})
}

func (c *cashuReceiver) Init() (router.Response, error) {
	return router.NewResponse().Filter(cashuTokenFilter()), nil
}

func (c *cashuReceiver) OnMessage(msg router.ConversationMessage) (router.Response, error) {
	if msg.Kind != router.MessageCleartext {
		return router.NewResponse(), nil
	}
	var token CashuToken
	if err := decodeCleartext(msg, &token); err != nil {
		return router.NewResponse(), err
	}
	amount, err := c.wallet.Receive(token.Token)
	if err != nil {
		return router.NewResponse(), fmt.Errorf("conversations: redeem cashu token: %w", err)
	}
	received := CashuReceived{FromPubkey: msg.Cleartext.Author, AmountSat: amount, Memo: token.Memo}
	return router.NewResponse().Notify(received), nil
}

func (c *cashuReceiver) IsExpired() bool { return false }

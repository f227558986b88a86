package keys

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Signer creates and signs Nostr events on behalf of the router's
// local keypair, for arbitrary kinds rather than one hardcoded
// ephemeral-event kind.
type Signer struct {
	keypair *Keypair
}

// NewSigner wraps a keypair for event construction.
func NewSigner(kp *Keypair) *Signer {
	return &Signer{keypair: kp}
}

// PublicKey returns the signer's public key.
func (s *Signer) PublicKey() string { return s.keypair.PublicKey }

// Build constructs an unsigned event of the given kind, tags and
// content, stamped with the current time and local public key.
func (s *Signer) Build(kind int, tags nostr.Tags, content string) nostr.Event {
	return nostr.Event{
		PubKey:    s.keypair.PublicKey,
		CreatedAt: nostr.Now(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
}

// Sign builds and signs an event in one step.
func (s *Signer) Sign(kind int, tags nostr.Tags, content string) (nostr.Event, error) {
	ev := s.Build(kind, tags, content)
	if err := ev.Sign(s.keypair.PrivateKey); err != nil {
		return nostr.Event{}, fmt.Errorf("keys: sign event: %w", err)
	}
	return ev, nil
}

// EncryptFor NIP-44-encrypts plaintext for a recipient public key
// using a conversation key derived from the signer's secret key.
func (s *Signer) EncryptFor(recipientPubKey, plaintext string) (string, error) {
	key, err := ConversationKey(s.keypair.PrivateKey, recipientPubKey)
	if err != nil {
		return "", err
	}
	return Encrypt(key, plaintext)
}

// DecryptFrom NIP-44-decrypts ciphertext purportedly from senderPubKey.
func (s *Signer) DecryptFrom(senderPubKey, ciphertext string) (string, error) {
	key, err := ConversationKey(s.keypair.PrivateKey, senderPubKey)
	if err != nil {
		return "", err
	}
	return Decrypt(key, ciphertext)
}

// VerifySignature checks an event's signature and rejects it if the
// signature does not verify.
func VerifySignature(ev *nostr.Event) (bool, error) {
	ok, err := ev.CheckSignature()
	if err != nil {
		return false, fmt.Errorf("keys: check signature: %w", err)
	}
	return ok, nil
}

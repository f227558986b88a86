// Package keys implements the local signing identity: key generation,
// NIP-44 conversation key derivation and payload encryption, and
// subkey-proof delegation signing/verification.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/ekzyis/nip44"
	"github.com/nbd-wtf/go-nostr"
)

// hexPadding is prepended to a 32-byte x-only nostr pubkey to recover
// the compressed secp256k1 encoding nip44/btcec expect.
const hexPadding = "02"

// ErrMasterRequired is returned by operations that are forbidden once
// a subkey proof is in effect.
var ErrMasterRequired = errors.New("keys: operation requires the master identity, local key carries a subkey proof")

// SubkeyProof is a signed delegation from a master key to a subkey
//.
type SubkeyProof struct {
	Master    string
	Subkey    string
	Expiry    time.Time
	Signature string // hex-encoded schnorr signature
}

func subkeyProofMessage(subkeyPubHex string, expiry time.Time) [32]byte {
	payload := subkeyPubHex + ":" + strconv.FormatInt(expiry.Unix(), 10)
	return sha256.Sum256([]byte(payload))
}

// SignSubkeyProof has the master key at masterPrivHex delegate to
// subkeyPubHex until expiry.
func SignSubkeyProof(masterPrivHex, subkeyPubHex string, expiry time.Time) (SubkeyProof, error) {
	privBytes, err := hex.DecodeString(masterPrivHex)
	if err != nil {
		return SubkeyProof{}, fmt.Errorf("keys: decode master private key: %w", err)
	}
	priv, _ := btcec.PrivKeyFromBytes(privBytes)
	msg := subkeyProofMessage(subkeyPubHex, expiry)
	sig, err := schnorr.Sign(priv, msg[:])
	if err != nil {
		return SubkeyProof{}, fmt.Errorf("keys: sign subkey proof: %w", err)
	}
	masterPub, err := nostr.GetPublicKey(masterPrivHex)
	if err != nil {
		return SubkeyProof{}, fmt.Errorf("keys: derive master public key: %w", err)
	}
	return SubkeyProof{
		Master:    masterPub,
		Subkey:    subkeyPubHex,
		Expiry:    expiry,
		Signature: hex.EncodeToString(sig.Serialize()),
	}, nil
}

// VerifySubkeyProof checks that proof was validly signed by its master
// key over (subkey, expiry) and has not expired. Spec.md §4.4 requires
// this validation against the event author before a multi-key listener
// accepts a message signed by a subkey.
func VerifySubkeyProof(proof SubkeyProof, now time.Time) error {
	if now.After(proof.Expiry) {
		return fmt.Errorf("keys: subkey proof for %s expired at %s", proof.Subkey, proof.Expiry)
	}
	masterPubBytes, err := hex.DecodeString(hexPadding + proof.Master)
	if err != nil {
		return fmt.Errorf("keys: decode master public key: %w", err)
	}
	masterPub, err := btcec.ParsePubKey(masterPubBytes)
	if err != nil {
		return fmt.Errorf("keys: parse master public key: %w", err)
	}
	sigBytes, err := hex.DecodeString(proof.Signature)
	if err != nil {
		return fmt.Errorf("keys: decode subkey proof signature: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("keys: parse subkey proof signature: %w", err)
	}
	msg := subkeyProofMessage(proof.Subkey, proof.Expiry)
	if !sig.Verify(msg[:], masterPub) {
		return fmt.Errorf("keys: subkey proof signature invalid for subkey %s", proof.Subkey)
	}
	return nil
}

// Keypair is the router's local signing identity: a secret/public key
// pair, optionally carrying a subkey proof delegated from a master.
type Keypair struct {
	PublicKey   string
	PrivateKey  string
	SubkeyProof *SubkeyProof
}

// Generate creates a fresh random keypair.
func Generate() (*Keypair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("keys: generate private key: %w", err)
	}
	privHex := hex.EncodeToString(priv.Serialize())
	return NewKeypair(privHex)
}

// NewKeypair derives the public key for a hex-encoded secret key.
func NewKeypair(privateKeyHex string) (*Keypair, error) {
	pub, err := nostr.GetPublicKey(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("keys: derive public key: %w", err)
	}
	return &Keypair{PublicKey: pub, PrivateKey: privateKeyHex}, nil
}

// WithSubkeyProof attaches a delegation, after which RequireMaster
// starts failing.
func (k *Keypair) WithSubkeyProof(proof SubkeyProof) *Keypair {
	k.SubkeyProof = &proof
	return k
}

// RequireMaster rejects operations that need the master identity
// (e.g. setting the profile) when a subkey proof is in effect.
func (k *Keypair) RequireMaster() error {
	if k.SubkeyProof != nil {
		return ErrMasterRequired
	}
	return nil
}

// ConversationKey derives the NIP-44 v2 shared conversation key between
// the local secret key and a remote public key.
func ConversationKey(privateKeyHex, remotePublicKeyHex string) ([]byte, error) {
	privBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("keys: decode private key: %w", err)
	}
	pubBytes, err := hex.DecodeString(hexPadding + remotePublicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("keys: decode public key: %w", err)
	}
	key, err := nip44.GenerateConversationKey(privBytes, pubBytes)
	if err != nil {
		return nil, fmt.Errorf("keys: derive conversation key: %w", err)
	}
	return key, nil
}

// Encrypt NIP-44-encrypts plaintext under the given conversation key.
func Encrypt(conversationKey []byte, plaintext string) (string, error) {
	ciphertext, err := nip44.Encrypt(conversationKey, plaintext, &nip44.EncryptOptions{})
	if err != nil {
		return "", fmt.Errorf("keys: encrypt: %w", err)
	}
	return ciphertext, nil
}

// Decrypt NIP-44-decrypts ciphertext under the given conversation key.
func Decrypt(conversationKey []byte, ciphertext string) (string, error) {
	plaintext, err := nip44.Decrypt(conversationKey, ciphertext)
	if err != nil {
		return "", fmt.Errorf("keys: decrypt: %w", err)
	}
	return plaintext, nil
}

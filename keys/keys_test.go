package keys

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubkeyProofRoundTrip(t *testing.T) {
	t.Parallel()
	master, err := Generate()
	require.NoError(t, err)
	subkey, err := Generate()
	require.NoError(t, err)

	expiry := time.Now().Add(time.Hour)
	proof, err := SignSubkeyProof(master.PrivateKey, subkey.PublicKey, expiry)
	require.NoError(t, err)
	assert.Equal(t, master.PublicKey, proof.Master)
	assert.Equal(t, subkey.PublicKey, proof.Subkey)

	err = VerifySubkeyProof(proof, time.Now())
	assert.NoError(t, err)
}

func TestSubkeyProofExpired(t *testing.T) {
	t.Parallel()
	master, err := Generate()
	require.NoError(t, err)
	subkey, err := Generate()
	require.NoError(t, err)

	expiry := time.Now().Add(-time.Hour)
	proof, err := SignSubkeyProof(master.PrivateKey, subkey.PublicKey, expiry)
	require.NoError(t, err)

	err = VerifySubkeyProof(proof, time.Now())
	assert.Error(t, err)
}

func TestSubkeyProofWrongMaster(t *testing.T) {
	t.Parallel()
	master, err := Generate()
	require.NoError(t, err)
	imposter, err := Generate()
	require.NoError(t, err)
	subkey, err := Generate()
	require.NoError(t, err)

	expiry := time.Now().Add(time.Hour)
	proof, err := SignSubkeyProof(master.PrivateKey, subkey.PublicKey, expiry)
	require.NoError(t, err)

	proof.Master = imposter.PublicKey
	err = VerifySubkeyProof(proof, time.Now())
	assert.Error(t, err)
}

func TestRequireMaster(t *testing.T) {
	t.Parallel()
	kp, err := Generate()
	require.NoError(t, err)
	assert.NoError(t, kp.RequireMaster())

	sub, err := Generate()
	require.NoError(t, err)
	expiry := time.Now().Add(time.Hour)
	proof, err := SignSubkeyProof(kp.PrivateKey, sub.PublicKey, expiry)
	require.NoError(t, err)

	sub.WithSubkeyProof(proof)
	assert.ErrorIs(t, sub.RequireMaster(), ErrMasterRequired)
}

func TestNIP44EncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()
	alice, err := Generate()
	require.NoError(t, err)
	bob, err := Generate()
	require.NoError(t, err)

	aliceSigner := NewSigner(alice)
	ciphertext, err := aliceSigner.EncryptFor(bob.PublicKey, "hello bob")
	require.NoError(t, err)

	bobSigner := NewSigner(bob)
	plaintext, err := bobSigner.DecryptFrom(alice.PublicKey, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", plaintext)
}

func TestSignAndVerify(t *testing.T) {
	t.Parallel()
	kp, err := Generate()
	require.NoError(t, err)
	signer := NewSigner(kp)
	ev, err := signer.Sign(1, nil, "hello")
	require.NoError(t, err)
	ok, err := VerifySignature(&ev)
	require.NoError(t, err)
	assert.True(t, ok)
}

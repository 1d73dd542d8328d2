package scrypto_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solid-engine/solid/scrypto"
	"github.com/solid-engine/solid/scrypto/scryptotest"
)

func TestEd25519Signer_SignAndVerify(t *testing.T) {
	t.Parallel()

	signers := scryptotest.DeterministicEd25519Signers(2)

	msg := []byte("accept height 3 skip 1")
	sig, err := signers[0].Sign(msg)
	require.NoError(t, err)

	require.True(t, signers[0].PubKey().Verify(msg, sig))

	// Wrong key, wrong message, and tampered signature all fail.
	require.False(t, signers[1].PubKey().Verify(msg, sig))
	require.False(t, signers[0].PubKey().Verify([]byte("other message"), sig))

	sig[0] ^= 1
	require.False(t, signers[0].PubKey().Verify(msg, sig))
}

func TestEd25519PubKey_Equal(t *testing.T) {
	t.Parallel()

	signers := scryptotest.DeterministicEd25519Signers(2)

	require.True(t, signers[0].PubKey().Equal(signers[0].PubKey()))
	require.False(t, signers[0].PubKey().Equal(signers[1].PubKey()))

	// Same bytes reconstructed through NewEd25519PubKey are still equal.
	pk, err := scrypto.NewEd25519PubKey(signers[0].PubKey().PubKeyBytes())
	require.NoError(t, err)
	require.True(t, pk.Equal(signers[0].PubKey()))
}

func TestNewEd25519PubKey_RejectsBadLength(t *testing.T) {
	t.Parallel()

	_, err := scrypto.NewEd25519PubKey(make([]byte, 16))
	require.Error(t, err)
}

func TestDeterministicSigners_Stable(t *testing.T) {
	t.Parallel()

	a := scryptotest.DeterministicEd25519Signers(3)
	b := scryptotest.DeterministicEd25519Signers(3)

	for i := range a {
		require.True(t, a[i].PubKey().Equal(b[i].PubKey()))
	}
	require.False(t, a[0].PubKey().Equal(a[1].PubKey()))
}

package scrypto

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
)

// Ed25519PubKey wraps a standard library ed25519 public key,
// satisfying the [PubKey] interface.
type Ed25519PubKey ed25519.PublicKey

// NewEd25519PubKey validates the length of b and returns it as a PubKey.
func NewEd25519PubKey(b []byte) (PubKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid ed25519 public key length: want %d, got %d", ed25519.PublicKeySize, len(b))
	}
	return Ed25519PubKey(b), nil
}

func (e Ed25519PubKey) PubKeyBytes() []byte {
	return []byte(e)
}

func (e Ed25519PubKey) Equal(other PubKey) bool {
	o, ok := other.(Ed25519PubKey)
	if !ok {
		return false
	}
	return bytes.Equal(e, o)
}

func (e Ed25519PubKey) Verify(msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(e), msg, sig)
}

// Ed25519Signer signs with an in-memory ed25519 private key.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  Ed25519PubKey
}

func NewEd25519Signer(priv ed25519.PrivateKey) Ed25519Signer {
	return Ed25519Signer{
		priv: priv,
		pub:  Ed25519PubKey(priv.Public().(ed25519.PublicKey)),
	}
}

func (s Ed25519Signer) PubKey() PubKey {
	return s.pub
}

func (s Ed25519Signer) Sign(input []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, input), nil
}

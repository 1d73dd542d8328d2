package scrypto

import "encoding/hex"

// PubKey is the public identity of a validator peer.
//
// Key bytes are the canonical identity: two PubKey values are the same peer
// if and only if their PubKeyBytes are equal.
type PubKey interface {
	// PubKeyBytes returns the raw bytes of the public key.
	PubKeyBytes() []byte

	// Equal reports whether other is the same public key.
	Equal(other PubKey) bool

	// Verify reports whether sig is a valid signature of msg by this key.
	Verify(msg, sig []byte) bool
}

// ShortKey returns an abbreviated hex form of the key,
// intended only for log output.
func ShortKey(pk PubKey) string {
	b := pk.PubKeyBytes()
	if len(b) > 4 {
		b = b[:4]
	}
	return hex.EncodeToString(b)
}

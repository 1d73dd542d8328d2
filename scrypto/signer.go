package scrypto

// Signer signs consensus messages on behalf of the local peer.
//
// Signing happens synchronously inside the consensus core's critical section,
// so implementations must be fast and local; a remote signer should
// pre-negotiate or cache whatever it needs before handing a Signer to the core.
type Signer interface {
	// PubKey returns the public key of the local peer.
	PubKey() PubKey

	// Sign returns a signature over input.
	Sign(input []byte) ([]byte, error)
}

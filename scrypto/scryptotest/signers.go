// Package scryptotest provides deterministic signers for tests and demos.
package scryptotest

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/solid-engine/solid/scrypto"
)

// DeterministicEd25519Signers returns n ed25519 signers
// derived from fixed seeds, so repeated calls with the same n
// return the same signers in the same order.
func DeterministicEd25519Signers(n int) []scrypto.Ed25519Signer {
	signers := make([]scrypto.Ed25519Signer, n)
	for i := range signers {
		seed := sha256.Sum256([]byte(fmt.Sprintf("solid-deterministic-signer-%d", i)))
		priv := ed25519.NewKeyFromSeed(seed[:])
		signers[i] = scrypto.NewEd25519Signer(priv)
	}
	return signers
}

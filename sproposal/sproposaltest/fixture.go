package sproposaltest

import (
	"fmt"

	"github.com/solid-engine/solid/scrypto"
	"github.com/solid-engine/solid/scrypto/scryptotest"
	"github.com/solid-engine/solid/sproposal"
)

// Fixture is a deterministic validator network for tests: n ed25519
// signers, their public keys as the validator set, and a test App.
//
// Helper methods panic on signing errors,
// which cannot happen with ed25519 keys.
type Fixture struct {
	App App

	Signers []scrypto.Signer

	// Validators[i] is Signers[i].PubKey().
	Validators []scrypto.PubKey
}

func NewFixture(n int) *Fixture {
	signers := make([]scrypto.Signer, n)
	validators := make([]scrypto.PubKey, n)
	for i, s := range scryptotest.DeterministicEd25519Signers(n) {
		signers[i] = s
		validators[i] = s.PubKey()
	}

	return &Fixture{
		Signers:    signers,
		Validators: validators,
	}
}

// Genesis returns the genesis manifest for the fixture's validator set.
func (f *Fixture) Genesis() sproposal.Manifest {
	return sproposal.GenesisManifest(f.Validators)
}

// Hash returns the app hash of the manifest.
func (f *Fixture) Hash(m sproposal.Manifest) sproposal.ProposalHash {
	return f.App.Hash(m.Content)
}

// Header returns the manifest's proposal header.
func (f *Fixture) Header(m sproposal.Manifest) sproposal.ProposalHeader {
	return sproposal.ProposalHeader{
		Hash:   f.Hash(m),
		Height: m.Content.Height,
		Skips:  m.Content.Skips,
	}
}

// SignerFor returns the fixture signer for the given public key.
func (f *Fixture) SignerFor(pk scrypto.PubKey) scrypto.Signer {
	for _, s := range f.Signers {
		if s.PubKey().Equal(pk) {
			return s
		}
	}
	panic(fmt.Errorf("no fixture signer for key %s", scrypto.ShortKey(pk)))
}

// Accept returns a signed vote from the given signer for m at the given
// skips, addressed to the rotation leader for that skip.
func (f *Fixture) Accept(m sproposal.Manifest, skips uint64, from scrypto.Signer) sproposal.ProposalAccept {
	header := f.Header(m)

	sig, err := from.Sign(sproposal.AcceptSignBytes(header, skips))
	if err != nil {
		panic(err)
	}

	return sproposal.ProposalAccept{
		LeaderID:  m.Content.LeaderForSkip(skips),
		Proposal:  header,
		Skips:     skips,
		From:      from.PubKey(),
		Signature: sig,
	}
}

// ChildManifest builds a correctly signed manifest at the given height
// and skips on top of parent: the leader is the one the parent's
// rotation designates, and every fixture validator's accept is embedded.
func (f *Fixture) ChildManifest(parent sproposal.Manifest, height, skips uint64) sproposal.Manifest {
	leader := parent.Content.LeaderForSkip(skips)

	// Each embedded accept is addressed to the leader it elected,
	// which is exactly the leader of this manifest.
	accepts := make([]sproposal.ProposalAccept, 0, len(f.Signers))
	for _, s := range f.Signers {
		accepts = append(accepts, f.Accept(parent, skips, s))
	}

	content := sproposal.ManifestContent{
		LastProposalHash: f.Hash(parent),
		Skips:            skips,
		Height:           height,
		LeaderID:         leader,
		State:            nil,
		Validators:       f.Validators,
		Accepts:          accepts,
	}

	sig, err := f.SignerFor(leader).Sign(content.SignBytes(f.App))
	if err != nil {
		panic(err)
	}

	return sproposal.NewManifest(content, sig)
}

// ManifestAt builds a chain of correctly signed manifests from genesis
// and returns the one at the given height, with zero skips throughout.
func (f *Fixture) ManifestAt(height uint64) sproposal.Manifest {
	m := f.Genesis()
	for h := uint64(1); h <= height; h++ {
		m = f.ChildManifest(m, h, 0)
	}
	return m
}

package sproposal

import (
	"github.com/solid-engine/solid/scrypto"
)

// ManifestContent is the body of a proposal that travels across the network.
// It is immutable once built.
type ManifestContent struct {
	// Hash of the previous proposal; receiving this manifest
	// is the proof that confirms the previous proposal.
	LastProposalHash ProposalHash

	// Number of leader skips since the last confirmed proposal.
	// Matches the skips carried by the accepts that elected this leader.
	Skips uint64

	// Height of the proposal.
	Height uint64

	// The proposing leader.
	LeaderID scrypto.PubKey

	// Opaque application payload carried by the proposal.
	State []byte

	// The validator set for the network at this proposal.
	Validators []scrypto.PubKey

	// Accepts collected for LastProposalHash, justifying this proposal.
	Accepts []ProposalAccept
}

// OrderedValidators returns the validator set in leader-rotation order
// for this manifest's height and skips. This is moderately expensive;
// [Proposal] caches it.
func (c ManifestContent) OrderedValidators() []scrypto.PubKey {
	return OrderValidators(c.Validators, c.Height, c.Skips)
}

// LeaderForSkip returns the leader the rotation designates for skip,
// over this manifest's validator set.
func (c ManifestContent) LeaderForSkip(skip uint64) scrypto.PubKey {
	return leaderForSkip(skip, c.OrderedValidators())
}

// SignBytes returns the bytes a manifest signature covers:
// the app hash of the content.
func (c ManifestContent) SignBytes(app App) []byte {
	return app.Hash(c).Bytes()
}

// Manifest is a signed ManifestContent. Self-verifiable given the app hash.
type Manifest struct {
	Content   ManifestContent
	Signature []byte
}

func NewManifest(content ManifestContent, signature []byte) Manifest {
	return Manifest{Content: content, Signature: signature}
}

// GenesisManifest returns the unsigned trust-root manifest
// for the given validator set. It is never validated,
// so the empty signature is acceptable.
func GenesisManifest(validators []scrypto.PubKey) Manifest {
	return Manifest{
		Content: ManifestContent{
			LastProposalHash: GenesisHash,
			Skips:            0,
			Height:           0,
			LeaderID:         validators[0],
			State:            nil,
			Validators:       validators,
			Accepts:          nil,
		},
	}
}

// Verify reports whether the manifest signature is valid for signer.
func (m Manifest) Verify(app App, signer scrypto.PubKey) bool {
	return signer.Verify(m.Content.SignBytes(app), m.Signature)
}

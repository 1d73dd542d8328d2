// Package sproposaltest provides deterministic fixtures for tests
// exercising proposals and the consensus engine.
package sproposaltest

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"

	"github.com/solid-engine/solid/sproposal"
)

// App is a deterministic application for tests.
// It hashes manifests over a fixed encoding and accepts every payload.
type App struct{}

func (App) Hash(c sproposal.ManifestContent) sproposal.ProposalHash {
	h := sha256.New()

	h.Write(c.LastProposalHash.Bytes())
	writeUint64(h, c.Height)
	writeUint64(h, c.Skips)
	if c.LeaderID != nil {
		writeBytes(h, c.LeaderID.PubKeyBytes())
	}
	writeBytes(h, c.State)

	writeUint64(h, uint64(len(c.Validators)))
	for _, v := range c.Validators {
		writeBytes(h, v.PubKeyBytes())
	}

	writeUint64(h, uint64(len(c.Accepts)))
	for _, a := range c.Accepts {
		h.Write(a.Proposal.Hash.Bytes())
		writeUint64(h, a.Proposal.Height)
		writeUint64(h, a.Proposal.Skips)
		writeUint64(h, a.Skips)
		writeBytes(h, a.LeaderID.PubKeyBytes())
		writeBytes(h, a.From.PubKeyBytes())
		writeBytes(h, a.Signature)
	}

	var out sproposal.ProposalHash
	h.Sum(out[:0])
	return out
}

func (App) ValidateStructure(sproposal.ManifestContent) bool {
	return true
}

func (App) ValidateContents(_, _ sproposal.ManifestContent) bool {
	return true
}

func writeUint64(h hash.Hash, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	h.Write(b[:])
}

func writeBytes(h hash.Hash, b []byte) {
	writeUint64(h, uint64(len(b)))
	h.Write(b)
}

package sproposal

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"github.com/solid-engine/solid/scrypto"
)

// ProposalAccept is a validator's signed vote for a (proposal, skip) pair,
// sent to the leader designated for the next round. The same message doubles
// as a skip vote: Skips > 0 means earlier leaders for the next height were
// skipped because they did not produce a proposal in time.
type ProposalAccept struct {
	// The leader this accept is addressed to; with enough accepts
	// that leader may propose.
	LeaderID scrypto.PubKey

	// Header of the proposal being accepted.
	Proposal ProposalHeader

	// The round being voted for, counted from the last confirmed proposal.
	Skips uint64

	// The voting peer.
	From scrypto.PubKey

	// Signature by From over AcceptSignBytes(Proposal, Skips).
	Signature []byte
}

// AcceptSignBytes returns the 32-byte digest an accept signature covers:
// Keccak-256 over the proposal hash followed by the skips as big-endian u64.
//
// This is part of the cross-implementation wire contract;
// note it intentionally does not cover LeaderID or From.
func AcceptSignBytes(p ProposalHeader, skips uint64) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(p.Hash[:])

	var b [8]byte
	binary.BigEndian.PutUint64(b[:], skips)
	h.Write(b[:])

	return h.Sum(nil)
}

// VerifySignature reports whether the accept's signature
// is valid for its From peer.
func (a ProposalAccept) VerifySignature() error {
	if !a.From.Verify(AcceptSignBytes(a.Proposal, a.Skips), a.Signature) {
		return ErrInvalidAcceptSignature
	}
	return nil
}

package sproposal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ProposalHash is the 32-byte content hash of a proposal manifest,
// computed by the application. It is the universal key for proposals.
//
// The zero value is the genesis hash.
type ProposalHash [32]byte

// GenesisHash is the hash referenced by the first real proposal.
var GenesisHash ProposalHash

// NewProposalHash copies b into a ProposalHash,
// returning an error when b is not exactly 32 bytes.
func NewProposalHash(b []byte) (ProposalHash, error) {
	var h ProposalHash
	if len(b) != len(h) {
		return h, fmt.Errorf("invalid proposal hash length: want %d, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashBytes returns the SHA-256 digest of b as a ProposalHash.
func HashBytes(b []byte) ProposalHash {
	return sha256.Sum256(b)
}

func (h ProposalHash) Bytes() []byte {
	return h[:]
}

func (h ProposalHash) String() string {
	return hex.EncodeToString(h[:])
}

package sproposal

import (
	"crypto/sha256"
	"encoding/binary"
	"slices"

	"github.com/solid-engine/solid/scrypto"
)

// Validator ordering for leader rotation.
//
// Validators are sorted by the XOR distance between their public key bytes
// and a hash derived from the (height, skips) being built on. Peers cannot
// influence the ordering hash (height and skips are fixed by the previous
// proposal), so the rotation is a fixed pseudo-random permutation per round.
// The exact construction is part of the cross-implementation wire contract:
//
//   - orderingHash = SHA-256(height_be_u64 || skips_be_u64)
//   - distance(v) = orderingHash XOR v.PubKeyBytes(), both interpreted as
//     little-endian 256-bit integers (key bytes zero-padded to 32)
//   - sort ascending by distance

// OrderValidators returns validators sorted into the leader-rotation order
// for a proposal at the given height and skips. The input is not modified.
func OrderValidators(validators []scrypto.PubKey, height, skips uint64) []scrypto.PubKey {
	oh := orderingHash(height, skips)

	out := slices.Clone(validators)
	slices.SortStableFunc(out, func(a, b scrypto.PubKey) int {
		da := keyDistance(oh, a.PubKeyBytes())
		db := keyDistance(oh, b.PubKeyBytes())
		return compareLittleEndian(da, db)
	})
	return out
}

func leaderForSkip(skip uint64, orderedValidators []scrypto.PubKey) scrypto.PubKey {
	return orderedValidators[int(skip%uint64(len(orderedValidators)))]
}

func orderingHash(height, skips uint64) [32]byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], height)
	binary.BigEndian.PutUint64(buf[8:], skips)
	return sha256.Sum256(buf[:])
}

// keyDistance XORs the ordering hash with the key bytes
// laid out little-endian. Keys longer than 32 bytes are truncated.
func keyDistance(oh [32]byte, key []byte) [32]byte {
	var d [32]byte
	copy(d[:], key)
	for i := range d {
		d[i] ^= oh[i]
	}
	return d
}

// compareLittleEndian compares two little-endian 256-bit integers,
// i.e. the byte at index 31 is most significant.
func compareLittleEndian(a, b [32]byte) int {
	for i := 31; i >= 0; i-- {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

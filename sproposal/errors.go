package sproposal

import (
	"errors"
	"fmt"

	"github.com/solid-engine/solid/scrypto"
)

// Validation errors returned while checking proposals and accepts.
// All of these indicate malformed or adversarial input;
// the caller drops the offending message and carries on.
var (
	ErrInvalidAcceptSignature    = errors.New("invalid signature for accept")
	ErrInvalidAcceptProposalHash = errors.New("accept does not reference the proposal's parent hash")
	ErrInvalidAcceptValidator    = errors.New("accept is not from a known validator")
	ErrInvalidProposalLeader     = errors.New("proposal leader does not match rotation for its skip")
	ErrInsufficientAccepts       = errors.New("insufficient accepts for proposal")
	ErrInvalidProposalSignature  = errors.New("invalid signature for proposal")
	ErrInvalidDescendant         = errors.New("proposal does not descend from the confirmed proposal")
	ErrInvalidAppStructure       = errors.New("app rejected proposal structure")
	ErrInvalidAppContent         = errors.New("app rejected proposal content")
)

// InvalidAcceptLeaderError indicates an accept addressed to a peer
// other than the leader the rotation designates for its skip.
type InvalidAcceptLeaderError struct {
	Expected, Got scrypto.PubKey
}

func (e InvalidAcceptLeaderError) Error() string {
	return fmt.Sprintf(
		"invalid accept leader, expected: %s, got: %s",
		scrypto.ShortKey(e.Expected), scrypto.ShortKey(e.Got),
	)
}

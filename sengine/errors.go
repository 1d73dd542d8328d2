package sengine

import (
	"errors"
	"fmt"

	"github.com/solid-engine/solid/sproposal"
)

// ErrProposalHeightTooLow indicates a received proposal at or below the
// confirmed height, which can never be confirmed.
var ErrProposalHeightTooLow = errors.New("proposal height at or below confirmed height")

// ProposalExistsError indicates a proposal that is already cached.
type ProposalExistsError struct {
	Hash sproposal.ProposalHash
}

func (e ProposalExistsError) Error() string {
	return fmt.Sprintf("proposal %s already exists", e.Hash)
}

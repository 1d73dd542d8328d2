package sengine

import (
	"time"

	"github.com/solid-engine/solid/sproposal"
)

// Config holds the tunables for a consensus engine.
// The zero value is not usable; start from DefaultConfig.
type Config struct {
	// Minimum delay between proposals.
	MinProposalDuration time.Duration

	// Maximum number of confirmed proposals to keep in history,
	// bounding memory under a flood of proposals.
	MaxProposalHistory uint64

	// How long to wait for the next leader's proposal before
	// voting to skip them.
	SkipTimeout time.Duration

	// Minimum interval between out-of-sync reports to the network.
	OutOfSyncTimeout time.Duration

	// Vote threshold for confirming a proposal.
	AcceptThreshold sproposal.AcceptThreshold

	// How long to hold accepts for a proposal we have not received
	// before treating the missing proposal as a sign we are behind.
	// Short gaps are a normal race: an accept can outrun its proposal.
	MissingProposalTimeout time.Duration
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		MinProposalDuration:    time.Second,
		MaxProposalHistory:     1024,
		SkipTimeout:            5 * time.Second,
		OutOfSyncTimeout:       time.Minute,
		AcceptThreshold:        sproposal.MoreThanTwoThirds,
		MissingProposalTimeout: 5 * time.Second,
	}
}

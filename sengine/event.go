package sengine

import (
	"github.com/solid-engine/solid/sproposal"
)

// Event is the output of the consensus core: an instruction the caller
// must act on, either locally or by sending to the network.
//
// The concrete types are ProposeEvent, CommitEvent, AcceptEvent,
// and OutOfSyncEvent.
type Event interface {
	isEvent()
}

// ProposeEvent instructs the caller to build and broadcast the next
// proposal, because this node is the designated leader and the vote
// threshold for its round has been reached.
type ProposeEvent struct {
	// Hash of the proposal to build on.
	LastProposalHash sproposal.ProposalHash

	// Height and round of the proposal to build.
	Height uint64
	Skips  uint64

	// The accepts that justify leadership, to embed in the manifest.
	Accepts []sproposal.ProposalAccept
}

func (ProposeEvent) isEvent() {}

// CommitEvent reports a proposal that is now confirmed and should be
// applied to the caller's data store.
type CommitEvent struct {
	// The confirmed proposal.
	Manifest sproposal.Manifest

	// The still-unconfirmed successor whose existence confirms Manifest.
	ConfirmedBy sproposal.Manifest
}

func (CommitEvent) isEvent() {}

// AcceptEvent instructs the caller to send a vote to the designated
// next leader, either endorsing the current proposal or skipping an
// unresponsive leader.
type AcceptEvent struct {
	Accept sproposal.ProposalAccept
}

func (AcceptEvent) isEvent() {}

// OutOfSyncEvent reports that the node is missing proposals and should
// request them from the network.
type OutOfSyncEvent struct {
	// Confirmed height of this node.
	Height uint64

	// Highest height observed from the network.
	MaxSeenHeight uint64
}

func (OutOfSyncEvent) isEvent() {}

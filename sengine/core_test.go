package sengine_test

import (
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/solid-engine/solid/sengine"
	"github.com/solid-engine/solid/sproposal"
	"github.com/solid-engine/solid/sproposal/sproposaltest"
)

// Proposal numbering in these tests follows height.skip:
// 1.0 is height 1 skip 0, 1.1 is height 1 skip 1, and so on.

func newGenesisCore(t *testing.T, fx *sproposaltest.Fixture) *sengine.Core {
	t.Helper()
	return sengine.NewCore(slogt.New(t), fx.Signers[0], fx.Genesis(), fx.App, sengine.DefaultConfig())
}

func requireAcceptEvent(
	t *testing.T,
	ev sengine.Event,
	fx *sproposaltest.Fixture,
	m sproposal.Manifest,
	skips uint64,
) {
	t.Helper()

	ae, ok := ev.(sengine.AcceptEvent)
	require.True(t, ok, "expected AcceptEvent, got %T", ev)

	require.Equal(t, fx.Header(m), ae.Accept.Proposal)
	require.Equal(t, skips, ae.Accept.Skips)
	require.True(t, ae.Accept.LeaderID.Equal(m.Content.LeaderForSkip(skips)),
		"accept not addressed to the rotation leader for skip %d", skips)
	require.True(t, ae.Accept.From.Equal(fx.Signers[0].PubKey()))
	require.NoError(t, ae.Accept.VerifySignature())
}

func requireCommitEvent(
	t *testing.T,
	ev sengine.Event,
	manifest, confirmedBy sproposal.Manifest,
) {
	t.Helper()

	ce, ok := ev.(sengine.CommitEvent)
	require.True(t, ok, "expected CommitEvent, got %T", ev)
	require.Equal(t, manifest, ce.Manifest)
	require.Equal(t, confirmedBy, ce.ConfirmedBy)
}

func requireNoAcceptReceived(t *testing.T, core *sengine.Core, a sproposal.ProposalAccept) {
	t.Helper()

	ev, err := core.ReceiveAccept(a)
	require.NoError(t, err)
	require.Nil(t, ev)
}

// localSkipOn returns the skip for which the local node (signer 0)
// is the rotation leader over m's validator ordering.
func localSkipOn(fx *sproposaltest.Fixture, m sproposal.Manifest) uint64 {
	for s := uint64(0); ; s++ {
		if m.Content.LeaderForSkip(s).Equal(fx.Signers[0].PubKey()) {
			return s
		}
	}
}

// Nominal confirmation path from genesis: 0.0 -> 1.0 -> 2.0.
func TestCore_GenesisChain(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	core := newGenesisCore(t, fx)
	g := fx.Genesis()

	// Vote for the confirmed genesis head.
	requireAcceptEvent(t, core.NextEvent(), fx, g, 0)
	require.Nil(t, core.NextEvent())

	p10 := fx.ChildManifest(g, 1, 0)
	require.NoError(t, core.ReceiveProposal(p10))

	requireAcceptEvent(t, core.NextEvent(), fx, p10, 0)
	require.Nil(t, core.NextEvent())

	p20 := fx.ChildManifest(p10, 2, 0)
	require.NoError(t, core.ReceiveProposal(p20))

	// 2.0 existing confirms 1.0.
	requireCommitEvent(t, core.NextEvent(), p10, p20)
	requireAcceptEvent(t, core.NextEvent(), fx, p20, 0)
	require.Nil(t, core.NextEvent())
}

// Nominal confirmation path from a resumed head: 10.0 -> 11.0 -> 12.0.
func TestCore_WithLastConfirmed(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	p100 := fx.ManifestAt(10)
	core := sengine.NewCore(slogt.New(t), fx.Signers[0], p100, fx.App, sengine.DefaultConfig())

	requireAcceptEvent(t, core.NextEvent(), fx, p100, 0)

	p110 := fx.ChildManifest(p100, 11, 0)
	require.NoError(t, core.ReceiveProposal(p110))
	requireAcceptEvent(t, core.NextEvent(), fx, p110, 0)
	require.Nil(t, core.NextEvent())

	p120 := fx.ChildManifest(p110, 12, 0)
	require.NoError(t, core.ReceiveProposal(p120))

	requireCommitEvent(t, core.NextEvent(), p110, p120)
	requireAcceptEvent(t, core.NextEvent(), fx, p120, 0)
	require.Nil(t, core.NextEvent())
}

// Node and network both skip leader 1.0: 0.0 -> 1.1 -> 2.0.
func TestCore_NodeSkipsNetworkSkips(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	core := newGenesisCore(t, fx)
	g := fx.Genesis()

	requireAcceptEvent(t, core.NextEvent(), fx, g, 0)

	// Timeout expired waiting for 1.0: vote to skip.
	requireAcceptEvent(t, core.Skip(), fx, g, 1)

	p11 := fx.ChildManifest(g, 1, 1)
	require.NoError(t, core.ReceiveProposal(p11))
	requireAcceptEvent(t, core.NextEvent(), fx, p11, 0)

	p20 := fx.ChildManifest(p11, 2, 0)
	require.NoError(t, core.ReceiveProposal(p20))

	requireCommitEvent(t, core.NextEvent(), p11, p20)
	requireAcceptEvent(t, core.NextEvent(), fx, p20, 0)
	require.Nil(t, core.NextEvent())
}

// Node accepts 1.0 but the network skips to 1.1;
// the node conforms when 1.1 arrives: 0.0 -> 1.1 -> 2.0.
func TestCore_NodeAcceptsNetworkSkips(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	core := newGenesisCore(t, fx)
	g := fx.Genesis()

	requireAcceptEvent(t, core.NextEvent(), fx, g, 0)
	require.Nil(t, core.NextEvent())

	p10 := fx.ChildManifest(g, 1, 0)
	require.NoError(t, core.ReceiveProposal(p10))
	requireAcceptEvent(t, core.NextEvent(), fx, p10, 0)
	require.Nil(t, core.NextEvent())

	// 1.1 arriving means more than two thirds voted to skip 1.0.
	p11 := fx.ChildManifest(g, 1, 1)
	require.NoError(t, core.ReceiveProposal(p11))
	requireAcceptEvent(t, core.NextEvent(), fx, p11, 0)
	require.Nil(t, core.NextEvent())

	p20 := fx.ChildManifest(p11, 2, 0)
	require.NoError(t, core.ReceiveProposal(p20))

	requireCommitEvent(t, core.NextEvent(), p11, p20)
	requireAcceptEvent(t, core.NextEvent(), fx, p20, 0)
	require.Nil(t, core.NextEvent())
}

// Node skips 1.0 but the network accepts it; the node must not vote
// for a proposal it already skipped: 0.0 -> 1.0 -> 2.0.
func TestCore_NodeSkipsNetworkAccepts(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	core := newGenesisCore(t, fx)
	g := fx.Genesis()

	requireAcceptEvent(t, core.NextEvent(), fx, g, 0)
	requireAcceptEvent(t, core.Skip(), fx, g, 1)

	p10 := fx.ChildManifest(g, 1, 0)
	require.NoError(t, core.ReceiveProposal(p10))

	// Ignored: we already voted past it.
	require.Nil(t, core.NextEvent())

	p20 := fx.ChildManifest(p10, 2, 0)
	require.NoError(t, core.ReceiveProposal(p20))

	// The network confirmed 1.0 anyway.
	requireCommitEvent(t, core.NextEvent(), p10, p20)
	requireAcceptEvent(t, core.NextEvent(), fx, p20, 0)
	require.Nil(t, core.NextEvent())
}

// Node accepts 1.0, then at least a third of the network is seen
// skipping it; the node reverts to the skip so the network converges.
func TestCore_SkipRevertOnInverseThreshold(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	core := newGenesisCore(t, fx)
	g := fx.Genesis()

	requireAcceptEvent(t, core.NextEvent(), fx, g, 0)
	require.Nil(t, core.NextEvent())

	p10 := fx.ChildManifest(g, 1, 0)
	require.NoError(t, core.ReceiveProposal(p10))
	requireAcceptEvent(t, core.NextEvent(), fx, p10, 0)
	require.Nil(t, core.NextEvent())

	// One skip vote for 1.1 is not yet a third of four validators.
	requireNoAcceptReceived(t, core, fx.Accept(g, 1, fx.Signers[1]))

	// A second one is: 1.0 can never confirm now, so vote for 1.1 too.
	ev, err := core.ReceiveAccept(fx.Accept(g, 1, fx.Signers[2]))
	require.NoError(t, err)
	requireAcceptEvent(t, ev, fx, g, 1)

	p11 := fx.ChildManifest(g, 1, 1)
	require.NoError(t, core.ReceiveProposal(p11))
	requireAcceptEvent(t, core.NextEvent(), fx, p11, 0)
	require.Nil(t, core.NextEvent())

	p20 := fx.ChildManifest(p11, 2, 0)
	require.NoError(t, core.ReceiveProposal(p20))

	requireCommitEvent(t, core.NextEvent(), p11, p20)
	requireAcceptEvent(t, core.NextEvent(), fx, p20, 0)
	require.Nil(t, core.NextEvent())
}

// Each skip rotates to a different leader and produces no further
// events on its own.
func TestCore_MultipleSkips(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	core := newGenesisCore(t, fx)
	g := fx.Genesis()

	requireAcceptEvent(t, core.NextEvent(), fx, g, 0)
	require.Nil(t, core.NextEvent())

	seen := map[string]bool{}
	for s := uint64(1); s <= 4; s++ {
		ev := core.Skip()
		requireAcceptEvent(t, ev, fx, g, s)
		require.Nil(t, core.NextEvent())

		leader := ev.(sengine.AcceptEvent).Accept.LeaderID
		seen[string(leader.PubKeyBytes())] = true
	}

	// Four consecutive skips cycle through all four validators.
	require.Len(t, seen, 4)
}

// The designated leader proposes once the vote threshold is reached,
// counting its own vote.
func TestCore_ProposeWhenThresholdMet(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	core := newGenesisCore(t, fx)
	g := fx.Genesis()

	requireAcceptEvent(t, core.NextEvent(), fx, g, 0)

	// Skip until the local node is the designated leader, so its own
	// vote participates in the tally.
	s := localSkipOn(fx, g)
	for i := uint64(1); i <= s; i++ {
		requireAcceptEvent(t, core.Skip(), fx, g, i)
	}

	// First outside vote: two of four, below threshold.
	requireNoAcceptReceived(t, core, fx.Accept(g, s, fx.Signers[1]))

	// A duplicate does not advance the tally.
	requireNoAcceptReceived(t, core, fx.Accept(g, s, fx.Signers[1]))

	// Third unique vote crosses the threshold: propose.
	ev, err := core.ReceiveAccept(fx.Accept(g, s, fx.Signers[2]))
	require.NoError(t, err)

	pe, ok := ev.(sengine.ProposeEvent)
	require.True(t, ok, "expected ProposeEvent, got %T", ev)
	require.Equal(t, fx.Hash(g), pe.LastProposalHash)
	require.Equal(t, uint64(1), pe.Height)
	require.Equal(t, s, pe.Skips)
	require.Len(t, pe.Accepts, 3)

	require.Nil(t, core.NextEvent())

	// A late vote for an earlier round needs no action.
	requireNoAcceptReceived(t, core, fx.Accept(g, 0, fx.Signers[3]))
	require.Nil(t, core.NextEvent())
}

// A much higher skip vote addressed to us is adopted immediately,
// and proposing still works at that round.
func TestCore_ProposeWithHigherSkip(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	core := newGenesisCore(t, fx)
	g := fx.Genesis()

	requireAcceptEvent(t, core.NextEvent(), fx, g, 0)

	// A future round where the local node leads again.
	s := localSkipOn(fx, g) + uint64(len(fx.Validators))*2

	// Adopting the higher skip produces our supporting vote right away.
	ev, err := core.ReceiveAccept(fx.Accept(g, s, fx.Signers[1]))
	require.NoError(t, err)
	requireAcceptEvent(t, ev, fx, g, s)

	// Third vote at that round: threshold met, propose.
	ev, err = core.ReceiveAccept(fx.Accept(g, s, fx.Signers[2]))
	require.NoError(t, err)

	pe, ok := ev.(sengine.ProposeEvent)
	require.True(t, ok, "expected ProposeEvent, got %T", ev)
	require.Equal(t, uint64(1), pe.Height)
	require.Equal(t, s, pe.Skips)
	require.Len(t, pe.Accepts, 3)

	require.Nil(t, core.NextEvent())
}

// A higher skip vote moves the node's own voting position forward.
func TestCore_HigherSkipAcceptReceived(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	core := newGenesisCore(t, fx)
	g := fx.Genesis()

	ev, err := core.ReceiveAccept(fx.Accept(g, 10, fx.Signers[1]))
	require.NoError(t, err)
	requireAcceptEvent(t, ev, fx, g, 10)

	// The next skip continues from the adopted position.
	requireAcceptEvent(t, core.Skip(), fx, g, 11)
}

// A proposal two heights ahead at startup means we are behind.
func TestCore_OutOfSyncFromProposalAtStartup(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	core := newGenesisCore(t, fx)
	g := fx.Genesis()

	requireAcceptEvent(t, core.NextEvent(), fx, g, 0)
	require.Nil(t, core.NextEvent())
	require.False(t, core.IsOutOfSync())

	// 1.0 exists on the network but was never received.
	p10 := fx.ChildManifest(g, 1, 0)

	p20 := fx.ChildManifest(p10, 2, 0)
	require.NoError(t, core.ReceiveProposal(p20))

	require.Equal(t, sengine.OutOfSyncEvent{Height: 0, MaxSeenHeight: 2}, core.NextEvent())
	require.True(t, core.IsOutOfSync())

	// The gap arrives; the chain confirms and we are in sync again.
	require.NoError(t, core.ReceiveProposal(p10))
	requireCommitEvent(t, core.NextEvent(), p10, p20)
	require.False(t, core.IsOutOfSync())
}

// Same detection when there is already a pending proposal.
func TestCore_OutOfSyncFromProposalWithPending(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	core := newGenesisCore(t, fx)
	g := fx.Genesis()

	p10 := fx.ChildManifest(g, 1, 0)
	require.NoError(t, core.ReceiveProposal(p10))
	requireAcceptEvent(t, core.NextEvent(), fx, p10, 0)
	require.Nil(t, core.NextEvent())
	require.False(t, core.IsOutOfSync())

	// 2.0 never received.
	p20 := fx.ChildManifest(p10, 2, 0)

	p30 := fx.ChildManifest(p20, 3, 0)
	require.NoError(t, core.ReceiveProposal(p30))

	require.Equal(t, sengine.OutOfSyncEvent{Height: 0, MaxSeenHeight: 3}, core.NextEvent())
	require.True(t, core.IsOutOfSync())

	require.NoError(t, core.ReceiveProposal(p20))
	requireCommitEvent(t, core.NextEvent(), p10, p20)
	requireCommitEvent(t, core.NextEvent(), p20, p30)
	require.False(t, core.IsOutOfSync())
}

// Accepts for missing proposals also reveal that we are behind.
func TestCore_OutOfSyncFromAcceptAtStartup(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	core := newGenesisCore(t, fx)
	g := fx.Genesis()

	require.False(t, core.IsOutOfSync())

	// Neither 1.0 nor 2.0 was received.
	p10 := fx.ChildManifest(g, 1, 0)
	p20 := fx.ChildManifest(p10, 2, 0)

	// One height ahead could be a delivery race; not yet a problem.
	requireNoAcceptReceived(t, core, fx.Accept(p10, 0, fx.Signers[1]))
	require.False(t, core.IsOutOfSync())

	// Two heights ahead is not.
	ev, err := core.ReceiveAccept(fx.Accept(p20, 0, fx.Signers[1]))
	require.NoError(t, err)
	require.Equal(t, sengine.OutOfSyncEvent{Height: 0, MaxSeenHeight: 2}, ev)

	// Votes for the head remain unremarkable.
	requireNoAcceptReceived(t, core, fx.Accept(g, 0, fx.Signers[2]))
}

// An accept whose proposal stays missing past the timeout
// triggers the out-of-sync report.
func TestCore_OutOfSyncFromAcceptAfterTimeout(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)

	cfg := sengine.DefaultConfig()
	cfg.MissingProposalTimeout = 50 * time.Millisecond
	core := sengine.NewCore(slogt.New(t), fx.Signers[0], fx.Genesis(), fx.App, cfg)

	p10 := fx.ChildManifest(fx.Genesis(), 1, 0)

	requireNoAcceptReceived(t, core, fx.Accept(p10, 0, fx.Signers[1]))
	require.False(t, core.IsOutOfSync())

	time.Sleep(cfg.MissingProposalTimeout + 50*time.Millisecond)

	ev, err := core.ReceiveAccept(fx.Accept(p10, 0, fx.Signers[1]))
	require.NoError(t, err)
	require.Equal(t, sengine.OutOfSyncEvent{Height: 0, MaxSeenHeight: 1}, ev)
}

func TestCore_DuplicateProposal(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	core := newGenesisCore(t, fx)

	m := fx.ManifestAt(3)
	require.NoError(t, core.ReceiveProposal(m))

	err := core.ReceiveProposal(m)
	var exists sengine.ProposalExistsError
	require.ErrorAs(t, err, &exists)
	require.Equal(t, fx.Hash(m), exists.Hash)
}

func TestCore_ProposalHeightTooLow(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	head := fx.ManifestAt(10)
	core := sengine.NewCore(slogt.New(t), fx.Signers[0], head, fx.App, sengine.DefaultConfig())

	// Structurally valid, but at a height at or below the confirmed head.
	stale := fx.ChildManifest(fx.Genesis(), 1, 0)
	require.ErrorIs(t, core.ReceiveProposal(stale), sengine.ErrProposalHeightTooLow)
}

func TestCore_RejectsInvalidProposalStructure(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	core := newGenesisCore(t, fx)
	g := fx.Genesis()

	bad := fx.ChildManifest(g, 1, 0)
	bad.Content.Accepts = bad.Content.Accepts[:2]
	require.Error(t, core.ReceiveProposal(bad))
	require.False(t, core.Contains(fx.Hash(bad)))
}

func TestCore_RejectsForgedAccept(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	core := newGenesisCore(t, fx)
	g := fx.Genesis()

	forged := fx.Accept(g, 0, fx.Signers[1])
	forged.Signature[0] ^= 1

	_, err := core.ReceiveAccept(forged)
	require.ErrorIs(t, err, sproposal.ErrInvalidAcceptSignature)
}

// The local signer never changes mid-test, so the accept addressed to
// a peer other than the rotation leader is rejected up front.
func TestCore_RejectsMisaddressedAccept(t *testing.T) {
	t.Parallel()

	fx := sproposaltest.NewFixture(4)
	core := newGenesisCore(t, fx)
	g := fx.Genesis()

	a := fx.Accept(g, 0, fx.Signers[1])
	wrong := g.Content.LeaderForSkip(1)
	a.LeaderID = wrong

	_, err := core.ReceiveAccept(a)
	var leaderErr sproposal.InvalidAcceptLeaderError
	require.ErrorAs(t, err, &leaderErr)
	require.True(t, leaderErr.Got.Equal(wrong))
}

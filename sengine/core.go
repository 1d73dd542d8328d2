package sengine

import (
	"log/slog"
	"time"

	"github.com/solid-engine/solid/scrypto"
	"github.com/solid-engine/solid/sproposal"
)

// Core is the single-threaded consensus state machine. It ingests
// proposals and accepts, and emits the events that drive the node:
// commits, votes, proposals, and out-of-sync reports.
//
// Core is not safe for concurrent use; Engine wraps it with locking,
// timers, and an event stream.
type Core struct {
	log *slog.Logger

	signer scrypto.Signer

	app sproposal.App

	cfg Config

	// Confirmed chain suffix plus pending proposals.
	cache *sproposal.Cache

	// Accepts received for proposals not yet in the cache,
	// applied as soon as the proposal arrives.
	orphans map[sproposal.ProposalHash]*orphanAccepts

	// Highest proposal height observed from the network.
	maxHeight uint64
}

type orphanAccepts struct {
	accepts   []sproposal.ProposalAccept
	firstSeen time.Time
}

// NewCore returns a core whose confirmed head is lastConfirmed.
// To start a fresh network, pass sproposal.GenesisManifest.
func NewCore(
	log *slog.Logger,
	signer scrypto.Signer,
	lastConfirmed sproposal.Manifest,
	app sproposal.App,
	cfg Config,
) *Core {
	head := sproposal.NewProposal(app, lastConfirmed)
	return &Core{
		log:       log,
		signer:    signer,
		app:       app,
		cfg:       cfg,
		cache:     sproposal.NewCache(head, cfg.MaxProposalHistory),
		orphans:   make(map[sproposal.ProposalHash]*orphanAccepts),
		maxHeight: lastConfirmed.Content.Height,
	}
}

// Height returns the confirmed height.
func (c *Core) Height() uint64 {
	return c.cache.Height()
}

// Hash returns the hash of the confirmed head.
func (c *Core) Hash() sproposal.ProposalHash {
	return c.cache.LastConfirmed().Hash()
}

// Contains reports whether the proposal hash is cached.
// Confirmed proposals outside the retention window are not.
func (c *Core) Contains(hash sproposal.ProposalHash) bool {
	return c.cache.Contains(hash)
}

// MaxHeight returns the highest proposal height observed from the
// network, whether or not the proposal itself has been received.
func (c *Core) MaxHeight() uint64 {
	return c.maxHeight
}

// Cache exposes the proposal cache for read access.
func (c *Core) Cache() *sproposal.Cache {
	return c.cache
}

// IsOutOfSync reports whether the network is further ahead than the
// node can account for: more than one height beyond the confirmed head.
func (c *Core) IsOutOfSync() bool {
	return c.maxHeight > c.Height()+1
}

// ReceiveProposal validates and caches a proposal manifest received
// from the network. Any accepts buffered for it are tallied in.
func (c *Core) ReceiveProposal(manifest sproposal.Manifest) error {
	p := sproposal.NewProposal(c.app, manifest)
	hash := p.Hash()

	if err := p.ValidateStructure(c.app, c.cfg.AcceptThreshold); err != nil {
		return err
	}

	if c.Contains(hash) {
		return ProposalExistsError{Hash: hash}
	}

	if c.Height() >= p.Height() {
		return ErrProposalHeightTooLow
	}

	if p.Height() > c.maxHeight {
		c.maxHeight = p.Height()
	}

	if o, ok := c.orphans[hash]; ok {
		delete(c.orphans, hash)
		for _, a := range o.accepts {
			p.AddAccept(a, c.cfg.AcceptThreshold)
		}
	}

	c.cache.Insert(p)
	return nil
}

// NextEvent returns the next ready event, or nil when the core cannot
// progress until another proposal or accept arrives. Callers should
// invoke it repeatedly after each input until it returns nil.
func (c *Core) NextEvent() Event {
	// A pending proposal is confirmed as soon as a valid successor
	// exists on top of it.
	if p := c.cache.NextPendingProposal(0); p != nil {
		if confirmedBy := c.cache.NextPendingProposal(1); confirmedBy != nil {
			ev := CommitEvent{
				Manifest:    p.Manifest(),
				ConfirmedBy: confirmedBy.Manifest(),
			}
			c.cache.Confirm(p.Hash())
			return ev
		}
	}

	if c.IsOutOfSync() {
		return OutOfSyncEvent{
			Height:        c.Height(),
			MaxSeenHeight: c.maxHeight,
		}
	}

	if !c.validatedCurrentProposal().InitialAcceptSent() {
		return c.nextAcceptEvent(false)
	}

	return nil
}

// Skip votes to pass over the current leader, after no proposal arrived
// from them within the timeout. No-op while catching up.
func (c *Core) Skip() Event {
	if c.IsOutOfSync() {
		return nil
	}
	return c.nextAcceptEvent(true)
}

// nextAcceptEvent signs and tallies this node's vote for the current
// proposal (or the confirmed head when nothing is pending), addressed
// to the rotation leader for the chosen round.
func (c *Core) nextAcceptEvent(skip bool) Event {
	cur := c.validatedCurrentProposal()

	skips := cur.NextAcceptSkip(c.cfg.AcceptThreshold, skip)

	header := sproposal.ProposalHeader{
		Hash:   cur.Hash(),
		Height: cur.Height(),
		Skips:  cur.Skips(),
	}

	sig, err := c.signer.Sign(sproposal.AcceptSignBytes(header, skips))
	if err != nil {
		c.log.Error("Failed to sign accept", "err", err)
		return nil
	}

	accept := sproposal.ProposalAccept{
		Proposal:  header,
		LeaderID:  cur.LeaderForSkip(skips),
		Skips:     skips,
		From:      c.signer.PubKey(),
		Signature: sig,
	}

	cur.MarkAcceptSent(skips)

	// Our own vote counts toward the tally; if it crosses the threshold
	// and we are the leader, the resulting event replaces the vote.
	if ev := c.AddAccept(accept); ev != nil {
		return ev
	}
	return AcceptEvent{Accept: accept}
}

// ReceiveAccept processes a vote received from the network. The
// returned event, if any, must be acted on: a proposal to build if the
// vote crossed the threshold on our leadership, a vote of our own if it
// moved us to a later round, or an out-of-sync report.
func (c *Core) ReceiveAccept(accept sproposal.ProposalAccept) (Event, error) {
	if err := accept.VerifySignature(); err != nil {
		return nil, err
	}

	curHash := c.validatedCurrentProposal().Hash()

	if accept.Proposal.Height > c.Height() {
		c.maxHeight = accept.Proposal.Height
	}

	// If the proposal is already cached, reject invalid accepts up
	// front rather than buffering them.
	if p, ok := c.cache.Get(accept.Proposal.Hash); ok {
		if err := p.ValidateAccept(accept); err != nil {
			return nil, err
		}
	}

	if ev := c.AddAccept(accept); ev != nil {
		return ev, nil
	}

	// Tallying the accept may have changed which proposal is current
	// (an invalid candidate can be evicted); re-vote if so.
	if curHash != c.validatedCurrentProposal().Hash() {
		return c.nextAcceptEvent(false), nil
	}

	return nil, nil
}

// AddAccept tallies a validated accept, buffering it if the proposal it
// votes on has not arrived yet. Returns a ProposeEvent when the vote
// crosses the threshold and this node is the leader for its round, an
// AcceptEvent when the vote moves this node to a later round, an
// OutOfSyncEvent when missing proposals indicate the node is behind,
// and nil otherwise.
func (c *Core) AddAccept(accept sproposal.ProposalAccept) Event {
	// Stale vote for an already-confirmed height. Votes at exactly the
	// confirmed height stay valid: at start-up there are no pending
	// proposals and the head itself is being voted on.
	if c.Height() > accept.Proposal.Height {
		return nil
	}

	isOutOfSync := c.IsOutOfSync()
	local := c.signer.PubKey()
	curHash := c.validatedCurrentProposal().Hash()

	p, ok := c.cache.Get(accept.Proposal.Hash)
	if !ok {
		return c.addOrphanAccept(accept)
	}

	if p.AddAccept(accept, c.cfg.AcceptThreshold) &&
		p.LeaderForSkip(accept.Skips).Equal(local) &&
		!isOutOfSync {
		return ProposeEvent{
			LastProposalHash: accept.Proposal.Hash,
			Height:           p.Height() + 1,
			Skips:            accept.Skips,
			Accepts:          p.AcceptsForSkip(accept.Skips),
		}
	}

	// A vote for the current proposal at a later round than our own:
	// adopt it and vote there too, so the network converges faster.
	// TODO: unsafe against a Byzantine validator claiming an arbitrary
	// high skip to seize leadership; needs a VDF or similar proof that
	// the skip height was actually reached.
	if curHash == accept.Proposal.Hash && accept.Skips > p.SkipsSent() {
		p.AdoptSkip(accept.Skips)
		return c.nextAcceptEvent(false)
	}

	return nil
}

// addOrphanAccept buffers a vote for a proposal we have not received,
// and decides whether the gap means we are behind the network.
func (c *Core) addOrphanAccept(accept sproposal.ProposalAccept) Event {
	hash := accept.Proposal.Hash

	o, ok := c.orphans[hash]
	if ok {
		o.accepts = append(o.accepts, accept)
	} else {
		o = &orphanAccepts{
			accepts:   []sproposal.ProposalAccept{accept},
			firstSeen: time.Now(),
		}
		c.orphans[hash] = o
		c.log.Debug(
			"Buffering accept for unknown proposal",
			"proposal", hash,
			"height", accept.Proposal.Height,
		)
	}

	cur := c.validatedCurrentProposal()

	// One height ahead is a normal race: the proposal being voted on
	// may simply not have reached us yet. More than one means we are
	// missing proposals.
	missingMoreThanOne := accept.Proposal.Height > cur.Height()+1

	// The proposal has been missing too long, and the vote is for
	// something beyond our current position.
	expired := time.Since(o.firstSeen) > c.cfg.MissingProposalTimeout
	acceptIsGreater := accept.Proposal.Height > cur.Height() ||
		accept.Proposal.Skips > cur.Skips()

	if missingMoreThanOne || (expired && acceptIsGreater) {
		return OutOfSyncEvent{
			Height:        c.Height(),
			MaxSeenHeight: accept.Proposal.Height,
		}
	}
	return nil
}

// highestNextPending returns the next pending proposal unless the
// network (or this node) has already skipped past its round, in which
// case it can never be confirmed and is not a candidate.
func (c *Core) highestNextPending() *sproposal.Proposal {
	lastConfirmed := c.cache.LastConfirmed()

	highestSkip, _ := lastConfirmed.HighestSkipWithInverse(c.cfg.AcceptThreshold)

	p := c.cache.NextPendingProposal(0)
	if p == nil {
		return nil
	}
	if highestSkip > p.Skips() || lastConfirmed.SkipsSent() > p.Skips() {
		return nil
	}
	return p
}

// CurrentProposal returns the proposal this node is currently voting
// on: the next pending proposal if one exists and validates, otherwise
// the confirmed head.
func (c *Core) CurrentProposal() *sproposal.Proposal {
	return c.validatedCurrentProposal()
}

// validatedCurrentProposal selects the current proposal, evicting
// pending candidates that fail content validation until a valid one
// (or the confirmed head) remains. Validation results are memoized on
// the proposal.
func (c *Core) validatedCurrentProposal() *sproposal.Proposal {
	for {
		lastConfirmed := c.cache.LastConfirmed()

		p := c.highestNextPending()
		if p == nil {
			return lastConfirmed
		}

		if p.IsValidated() {
			return p
		}
		if err := p.ValidateContents(c.app, lastConfirmed); err == nil {
			p.MarkValidated()
			return p
		}

		c.log.Debug("Evicting invalid pending proposal", "proposal", p.Hash())
		c.cache.Remove(p.Hash())
	}
}

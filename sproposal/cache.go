package sproposal

import (
	"maps"
	"slices"
)

// Cache holds the confirmed chain suffix and every pending proposal
// above it, indexed by hash. It tracks which pending proposal extends
// the longest unbroken path from the confirmed head, and purges
// branches that can no longer be confirmed.
type Cache struct {
	// Hash of the last confirmed proposal.
	confirmed ProposalHash

	proposals map[ProposalHash]*Proposal

	// Number of confirmed proposals retained below the head,
	// for serving catch-up requests.
	maxHistory uint64
}

// NewCache returns a cache seeded with a confirmed genesis proposal,
// retaining up to maxHistory confirmed proposals.
func NewCache(genesis *Proposal, maxHistory uint64) *Cache {
	return &Cache{
		confirmed:  genesis.Hash(),
		proposals:  map[ProposalHash]*Proposal{genesis.Hash(): genesis},
		maxHistory: maxHistory,
	}
}

// Height returns the height of the last confirmed proposal.
func (c *Cache) Height() uint64 {
	return c.proposals[c.confirmed].Height()
}

// Len returns the number of cached proposals, confirmed and pending.
func (c *Cache) Len() int {
	return len(c.proposals)
}

func (c *Cache) Contains(hash ProposalHash) bool {
	_, ok := c.proposals[hash]
	return ok
}

func (c *Cache) Get(hash ProposalHash) (*Proposal, bool) {
	p, ok := c.proposals[hash]
	return p, ok
}

// LastConfirmed returns the confirmed head.
func (c *Cache) LastConfirmed() *Proposal {
	return c.proposals[c.confirmed]
}

// Insert adds a pending proposal. The caller is responsible for
// rejecting duplicates and stale heights first.
func (c *Cache) Insert(p *Proposal) {
	c.proposals[p.Hash()] = p
}

// Remove drops a proposal from the cache. Used to evict pending
// proposals that fail content validation.
func (c *Cache) Remove(hash ProposalHash) {
	delete(c.proposals, hash)
}

// NextPendingProposal returns the pending proposal at the confirmed
// height plus 1 plus offset, on the highest unbroken path above the
// confirmed head. Returns nil when no pending proposal reaches that
// height.
//
// Offset 0 selects the next proposal to accept; offset 1 selects the
// proposal after it, whose existence confirms the one below.
func (c *Cache) NextPendingProposal(offset uint64) *Proposal {
	tip := c.maxContinuousProposal()
	if tip == nil {
		return nil
	}

	target := c.Height() + 1 + offset
	if tip.Height() < target {
		return nil
	}

	for tip.Height() > target {
		parent, ok := c.proposals[tip.LastHash()]
		if !ok {
			return nil
		}
		tip = parent
	}
	return tip
}

// maxContinuousProposal returns the pending proposal with the greatest
// (height, skips) among those descending from the confirmed head, or
// nil when nothing extends the head. Ties break toward the lower hash
// so the selection is deterministic across map iteration order.
func (c *Cache) maxContinuousProposal() *Proposal {
	fromHeight := c.Height()

	var best *Proposal
	for hash, p := range c.proposals {
		if p.Height() <= fromHeight || !c.DescendsFrom(hash, c.confirmed) {
			continue
		}
		if best == nil || moreContinuous(p, best) {
			best = p
		}
	}
	return best
}

func moreContinuous(a, b *Proposal) bool {
	if a.Height() != b.Height() {
		return a.Height() > b.Height()
	}
	if a.Skips() != b.Skips() {
		return a.Skips() > b.Skips()
	}
	ah, bh := a.Hash(), b.Hash()
	return slices.Compare(ah[:], bh[:]) < 0
}

// Confirm promotes a pending proposal to the confirmed head and purges
// the cache of everything that can no longer be confirmed under it.
// The proposal must already be cached.
func (c *Cache) Confirm(hash ProposalHash) {
	c.confirmed = hash
	c.purge()
}

// purge removes proposals that serve no further purpose:
// confirmed history past the retention window, pending proposals at the
// confirmed height with a different hash, and pending branches above
// the head that do not descend from it.
func (c *Cache) purge() {
	head := c.LastConfirmed()

	for hash, p := range maps.All(c.proposals) {
		switch {
		case p.Height() < head.Height():
			if p.Height()+c.maxHistory < head.Height() {
				delete(c.proposals, hash)
			}
		case p.Height() == head.Height():
			if hash != c.confirmed {
				delete(c.proposals, hash)
			}
		default:
			if !c.DescendsFrom(hash, c.confirmed) {
				delete(c.proposals, hash)
			}
		}
	}
}

// DescendsFrom reports whether tip reaches ancestor by walking parent
// links through the cache, with every step decreasing the height by
// exactly one.
func (c *Cache) DescendsFrom(tip, ancestor ProposalHash) bool {
	tp, ok := c.proposals[tip]
	if !ok {
		return false
	}
	ap, ok := c.proposals[ancestor]
	if !ok {
		return false
	}
	if tp.Height() <= ap.Height() {
		return false
	}

	cur := tp
	for cur.Height() > ap.Height() {
		parent, ok := c.proposals[cur.LastHash()]
		if !ok || parent.Height() != cur.Height()-1 {
			return false
		}
		cur = parent
	}
	return cur.Hash() == ancestor
}

// Descendants returns the proposals from tip down to, but excluding,
// ancestor, newest first. Returns nil unless tip actually descends
// from ancestor through the cache.
func (c *Cache) Descendants(ancestor, tip ProposalHash) []*Proposal {
	if !c.DescendsFrom(tip, ancestor) {
		return nil
	}

	var out []*Proposal
	cur := c.proposals[tip]
	for cur.Hash() != ancestor {
		out = append(out, cur)
		cur = c.proposals[cur.LastHash()]
	}
	return out
}

// ProposalsFrom returns every cached proposal at or above fromHeight,
// ordered by height then hash.
func (c *Cache) ProposalsFrom(fromHeight uint64) []*Proposal {
	var out []*Proposal
	for _, p := range c.proposals {
		if p.Height() >= fromHeight {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b *Proposal) int {
		if a.Height() != b.Height() {
			if a.Height() < b.Height() {
				return -1
			}
			return 1
		}
		ah, bh := a.Hash(), b.Hash()
		return slices.Compare(ah[:], bh[:])
	})
	return out
}

// ConfirmedProposalsFrom walks the confirmed chain from the head down
// and returns the proposals at or above fromHeight plus one below it,
// newest first, so the receiver always gets the parent of the oldest
// requested proposal.
func (c *Cache) ConfirmedProposalsFrom(fromHeight uint64) []*Proposal {
	cur := c.LastConfirmed()
	out := []*Proposal{cur}
	for cur.Height() >= fromHeight {
		parent, ok := c.proposals[cur.LastHash()]
		if !ok {
			return out
		}
		out = append(out, parent)
		cur = parent
	}
	return out
}

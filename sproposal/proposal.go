package sproposal

import (
	"maps"
	"slices"

	"github.com/bits-and-blooms/bitset"

	"github.com/solid-engine/solid/scrypto"
)

// Proposal is a manifest plus the local bookkeeping for it:
// the per-skip vote tally, the cached leader-rotation order,
// and the flags tracking what this node has already sent or validated.
type Proposal struct {
	manifest Manifest

	// App hash of the manifest; a pure function of the content.
	hash ProposalHash

	// Validator set in rotation order for this manifest's (height, skips).
	orderedValidators []scrypto.PubKey

	// string(pub key bytes) -> index into orderedValidators.
	validatorIndex map[string]int

	// Vote tally per skip; only meaningfully populated on the leader,
	// but every node counts its own votes and observed skips here.
	incomingAccepts map[uint64]*skipVotes

	// Whether this node has sent its initial accept for this proposal;
	// once sent, further accepts for it are skips.
	initialAcceptSent bool

	// Highest skip this node has voted for while this proposal was current.
	// Never decreases while the proposal is current.
	skipsSent uint64

	// Whether ValidateContents has already passed, so the check
	// is not repeated each time the proposal is re-selected as current.
	isValidated bool
}

// skipVotes is the tally bucket for one skip:
// the accepts keyed by voter, and the voted-validator index set
// used for threshold counting.
type skipVotes struct {
	// string(voter pub key bytes) -> accept. Re-votes overwrite.
	accepts map[string]ProposalAccept

	voted *bitset.BitSet
}

// NewProposal computes the hash and rotation order for manifest
// and returns a Proposal with an empty tally.
func NewProposal(app App, manifest Manifest) *Proposal {
	ordered := manifest.Content.OrderedValidators()

	idx := make(map[string]int, len(ordered))
	for i, v := range ordered {
		idx[string(v.PubKeyBytes())] = i
	}

	return &Proposal{
		manifest:          manifest,
		hash:              app.Hash(manifest.Content),
		orderedValidators: ordered,
		validatorIndex:    idx,
		incomingAccepts:   make(map[uint64]*skipVotes),
	}
}

// GenesisProposal returns the proposal for the genesis manifest
// of the given validator set.
func GenesisProposal(app App, validators []scrypto.PubKey) *Proposal {
	return NewProposal(app, GenesisManifest(validators))
}

func (p *Proposal) Manifest() Manifest {
	return p.manifest
}

func (p *Proposal) Hash() ProposalHash {
	return p.hash
}

// LastHash returns the hash of the proposal this one builds on.
func (p *Proposal) LastHash() ProposalHash {
	return p.manifest.Content.LastProposalHash
}

func (p *Proposal) Height() uint64 {
	return p.manifest.Content.Height
}

func (p *Proposal) Skips() uint64 {
	return p.manifest.Content.Skips
}

// LeaderForSkip returns the rotation leader for skip,
// using the cached validator order.
func (p *Proposal) LeaderForSkip(skip uint64) scrypto.PubKey {
	return leaderForSkip(skip, p.orderedValidators)
}

func (p *Proposal) InitialAcceptSent() bool {
	return p.initialAcceptSent
}

func (p *Proposal) SkipsSent() uint64 {
	return p.skipsSent
}

// MarkAcceptSent records that this node has voted for the given skip
// on this proposal.
func (p *Proposal) MarkAcceptSent(skips uint64) {
	p.skipsSent = skips
	p.initialAcceptSent = true
}

// AdoptSkip fast-forwards skipsSent to a skip observed from another
// validator's accept, so this node's next vote targets that round.
func (p *Proposal) AdoptSkip(skips uint64) {
	p.skipsSent = skips
}

func (p *Proposal) IsValidated() bool {
	return p.isValidated
}

// MarkValidated memoizes a successful ValidateContents.
func (p *Proposal) MarkValidated() {
	p.isValidated = true
}

// AddAccept validates and tallies an accept for this proposal.
// Invalid accepts are dropped; re-votes by the same (voter, skip)
// overwrite and never double-count.
//
// It returns true only on the edge transition where this insertion makes
// the tally for the accept's skip exactly reach threshold, so callers
// react once per skip even if further votes arrive.
func (p *Proposal) AddAccept(accept ProposalAccept, threshold AcceptThreshold) bool {
	if err := p.ValidateAccept(accept); err != nil {
		return false
	}

	sv := p.incomingAccepts[accept.Skips]
	if sv == nil {
		sv = &skipVotes{
			accepts: make(map[string]ProposalAccept),
			voted:   bitset.New(uint(len(p.orderedValidators))),
		}
		p.incomingAccepts[accept.Skips] = sv
	}

	key := string(accept.From.PubKeyBytes())
	_, existed := sv.accepts[key]
	sv.accepts[key] = accept
	if i, ok := p.validatorIndex[key]; ok {
		sv.voted.Set(uint(i))
	}

	return !existed && p.AcceptThresholdBreached(accept.Skips, threshold)
}

// AcceptsForSkip returns the tallied accepts for a skip,
// ordered by voter key bytes so the result is deterministic.
func (p *Proposal) AcceptsForSkip(skips uint64) []ProposalAccept {
	sv := p.incomingAccepts[skips]
	if sv == nil {
		return nil
	}

	keys := slices.Sorted(maps.Keys(sv.accepts))
	out := make([]ProposalAccept, 0, len(keys))
	for _, k := range keys {
		out = append(out, sv.accepts[k])
	}
	return out
}

// AcceptThresholdBreached reports whether the tally for skips
// is exactly at threshold right now.
func (p *Proposal) AcceptThresholdBreached(skips uint64, threshold AcceptThreshold) bool {
	var n int
	if sv := p.incomingAccepts[skips]; sv != nil {
		n = int(sv.voted.Count())
	}
	return threshold.IsExactBreach(n, len(p.orderedValidators))
}

// HighestSkipWithInverse scans skips high to low and returns the highest
// one where the inverse threshold is met: enough validators have moved on
// that no lower round can succeed any more.
func (p *Proposal) HighestSkipWithInverse(threshold AcceptThreshold) (uint64, bool) {
	skips := slices.Sorted(maps.Keys(p.incomingAccepts))
	slices.Reverse(skips)

	peers := max(len(p.orderedValidators), 1)
	for _, s := range skips {
		if threshold.InverseExceeded(int(p.incomingAccepts[s].voted.Count()), peers) {
			return s, true
		}
	}
	return 0, false
}

// NextAcceptSkip returns the skip this node's next accept should vote for:
// 0 before anything has been sent; otherwise the last skip sent
// (plus one when skip is set), or the highest inverse-threshold skip
// observed from the network if that is greater.
func (p *Proposal) NextAcceptSkip(threshold AcceptThreshold, skip bool) uint64 {
	if !p.initialAcceptSent && p.skipsSent == 0 {
		return 0
	}

	s := p.skipsSent
	if skip {
		s++
	}

	if hs, ok := p.HighestSkipWithInverse(threshold); ok && hs > s {
		return hs
	}
	return s
}

// ValidateStructure performs the self-contained checks on the manifest:
// enough embedded accepts, a valid leader signature, every embedded accept
// internally consistent, and the app's structural validation.
// Ancestry-dependent checks happen later, in ValidateContents.
func (p *Proposal) ValidateStructure(app App, threshold AcceptThreshold) error {
	c := p.manifest.Content

	if !threshold.IsExceeded(len(c.Accepts), len(p.orderedValidators)) {
		return ErrInsufficientAccepts
	}

	if !p.manifest.Verify(app, c.LeaderID) {
		return ErrInvalidProposalSignature
	}

	for _, a := range c.Accepts {
		if err := a.VerifySignature(); err != nil {
			return err
		}

		// The accept leader must match the manifest leader; whether that
		// leader is the correct one for the rotation cannot be known
		// until ValidateContents.
		if !a.LeaderID.Equal(c.LeaderID) {
			return InvalidAcceptLeaderError{Expected: c.LeaderID, Got: a.LeaderID}
		}

		if a.Proposal.Hash != c.LastProposalHash {
			return ErrInvalidAcceptProposalHash
		}
	}

	if !app.ValidateStructure(c) {
		return ErrInvalidAppStructure
	}

	return nil
}

// ValidateContents performs the ancestry-dependent checks against the
// last confirmed proposal: correct parent hash, correct rotation leader,
// every embedded voter in the confirmed validator set,
// and the app's content validation.
func (p *Proposal) ValidateContents(app App, lastConfirmed *Proposal) error {
	c := p.manifest.Content

	// The pending-proposal selection never offers a candidate with the
	// wrong parent, but this check is cheap and guards direct callers.
	if lastConfirmed.Hash() != c.LastProposalHash {
		return ErrInvalidDescendant
	}

	// The leader is derived from the confirmed proposal's validator set,
	// which may differ from this manifest's own set.
	if !lastConfirmed.manifest.Content.LeaderForSkip(c.Skips).Equal(c.LeaderID) {
		return ErrInvalidProposalLeader
	}

	if !app.ValidateContents(c, lastConfirmed.manifest.Content) {
		return ErrInvalidAppContent
	}

	for _, a := range c.Accepts {
		if !containsPeer(lastConfirmed.manifest.Content.Validators, a.From) {
			return ErrInvalidAcceptValidator
		}
	}

	return nil
}

// ValidateAccept checks an accept sent for this proposal
// (not the accepts embedded in a manifest): valid signature,
// addressed to the rotation leader for its skip, and from a validator.
func (p *Proposal) ValidateAccept(accept ProposalAccept) error {
	if err := accept.VerifySignature(); err != nil {
		return err
	}

	if want := p.LeaderForSkip(accept.Skips); !want.Equal(accept.LeaderID) {
		return InvalidAcceptLeaderError{Expected: want, Got: accept.LeaderID}
	}

	if !containsPeer(p.manifest.Content.Validators, accept.From) {
		return ErrInvalidAcceptValidator
	}

	return nil
}

func containsPeer(peers []scrypto.PubKey, pk scrypto.PubKey) bool {
	for _, p := range peers {
		if p.Equal(pk) {
			return true
		}
	}
	return false
}

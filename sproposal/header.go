package sproposal

// ProposalHeader is a lightweight reference to a proposal:
// its hash plus its position in the chain.
// It is embedded in accepts so stale votes can be discarded cheaply.
type ProposalHeader struct {
	Hash   ProposalHash
	Height uint64
	Skips  uint64
}

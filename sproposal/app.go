package sproposal

// App is the application collaborating with the consensus core.
// The core treats proposal state as opaque bytes;
// hashing and payload validation belong to the application.
type App interface {
	// Hash returns the content hash of a manifest.
	// It must be a pure function of the content.
	Hash(c ManifestContent) ProposalHash

	// ValidateStructure reports whether the manifest COULD be valid,
	// using only the manifest itself. It is called as soon as a proposal
	// is received, before any chain context is available.
	ValidateStructure(c ManifestContent) bool

	// ValidateContents reports whether the manifest IS valid given the
	// last confirmed manifest it builds on. It is called lazily, when the
	// proposal is next in line to be accepted.
	ValidateContents(c, lastConfirmed ManifestContent) bool
}

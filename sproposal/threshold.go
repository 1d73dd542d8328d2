package sproposal

// AcceptThreshold selects the validator fraction required
// before a round is decided. The zero value is [MoreThanTwoThirds],
// the Byzantine-safe default.
type AcceptThreshold uint8

const (
	// Accepts are required from more than two thirds of peers.
	MoreThanTwoThirds AcceptThreshold = iota

	// Accepts are required from a majority of peers.
	// Only appropriate when no Byzantine behavior is expected.
	Majority
)

// Threshold returns the number of accepts required among peers total peers.
func (t AcceptThreshold) Threshold(peers int) int {
	if t == Majority {
		return peers/2 + 1
	}
	return peers*2/3 + 1
}

// IsExactBreach reports whether accepts is exactly the threshold,
// true at the crossing point only and not when further exceeded.
// Callers use this to react once per round.
func (t AcceptThreshold) IsExactBreach(accepts, peers int) bool {
	return t.Threshold(peers) == accepts
}

// InverseExceeded reports whether accepts meets the inverse of the threshold:
// for >2/3, the inverse is >=1/3. Once the inverse is met for a higher skip,
// the current round can no longer reach threshold.
func (t AcceptThreshold) InverseExceeded(accepts, peers int) bool {
	return accepts > peers-t.Threshold(peers)
}

// IsExceeded reports whether accepts meets or exceeds the threshold.
func (t AcceptThreshold) IsExceeded(accepts, peers int) bool {
	return accepts >= t.Threshold(peers)
}

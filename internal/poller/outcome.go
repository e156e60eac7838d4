package poller

import "github.com/apmlabs/memscan-core/internal/codec"

// OutcomeKind tags a PollOutcome (spec §4.5.1 poll()).
type OutcomeKind int

const (
	NoChange OutcomeKind = iota
	Grew
	NewHand
	Lost
)

func (k OutcomeKind) String() string {
	switch k {
	case NoChange:
		return "NoChange"
	case Grew:
		return "Grew"
	case NewHand:
		return "NewHand"
	case Lost:
		return "Lost"
	default:
		return "Unknown"
	}
}

// PollOutcome is what one poll cycle produces. Data is populated only for
// Grew and NewHand.
type PollOutcome struct {
	Kind OutcomeKind
	Data codec.HandData
}

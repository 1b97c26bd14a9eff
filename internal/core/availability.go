package core

// AssessmentOutcome classifies how a requested quantity can be fulfilled from a
// stock snapshot. Escalation is ordinary control flow, not an error path.
type AssessmentOutcome int

const (
	// Tier1OK: the request fits within ordinary availability (current − locked).
	Tier1OK AssessmentOutcome = iota
	// Tier2Needed: fulfillable only by consuming part of the safety buffer.
	Tier2Needed
	// Tier3Needed: fulfillable only by borrowing from the reserved warehouse.
	// A tier-3 commit also clears any tier-2 gap as part of the same transfer,
	// so the two confirmations are never requested together for one line.
	Tier3Needed
	// HardInsufficient: unfulfillable even with every pool drained. Terminal.
	HardInsufficient
)

func (o AssessmentOutcome) String() string {
	switch o {
	case Tier1OK:
		return "tier1_ok"
	case Tier2Needed:
		return "tier2_needed"
	case Tier3Needed:
		return "tier3_needed"
	case HardInsufficient:
		return "hard_insufficient"
	default:
		return "unknown"
	}
}

// Source maps the outcome to the AllocationSource recorded on a committed line.
// Not meaningful for HardInsufficient.
func (o AssessmentOutcome) Source() AllocationSource {
	switch o {
	case Tier2Needed:
		return SourceTier2
	case Tier3Needed:
		return SourceTier3
	default:
		return SourceTier1
	}
}

// Assessment is the result of checking one requested quantity against one
// snapshot. Exactly one of NeededFromLock / NeededFromReserved is non-zero for
// tier 2 / tier 3; both are zero for tier 1 and hard insufficiency.
type Assessment struct {
	Outcome            AssessmentOutcome
	NeededFromLock     int // tier 2: units that must come out of the safety buffer
	NeededFromReserved int // tier 3: units that must be borrowed from the reserved pool
}

// Assess is a pure function over a stock snapshot. No side effects.
//
//	Tier1OK           requested ≤ available
//	Tier2Needed       available < requested ≤ current
//	Tier3Needed       current < requested ≤ current + reserved
//	HardInsufficient  requested > current + reserved
func Assess(snap Snapshot, requested int) Assessment {
	switch {
	case requested <= snap.Available():
		return Assessment{Outcome: Tier1OK}
	case requested <= snap.Current:
		return Assessment{
			Outcome:        Tier2Needed,
			NeededFromLock: requested - snap.Available(),
		}
	case requested <= snap.Current+snap.Reserved:
		return Assessment{
			Outcome:            Tier3Needed,
			NeededFromReserved: requested - snap.Current,
		}
	default:
		return Assessment{Outcome: HardInsufficient}
	}
}

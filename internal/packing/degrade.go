package packing

// DegradeLevel follows internal/errors/circuit.go's State enum idiom
// for a small, ordered state machine: the
// packing engine raises its level whenever in-progress actual usage
// projects past budget after a tier is processed, and never lowers it
// mid-pack.
type DegradeLevel int

const (
	DegradeNone          DegradeLevel = iota // level 0: no degrade
	DegradeMildOptional                      // level 1: mild capsules on optional
	DegradeSupplementary                     // level 2: capsule supplementary
	DegradeImportant                         // level 3: capsule important
	DegradeDropLowTiers                      // level 4: drop optional and supplementary
	DegradeEmergency                         // Emergency: only must-have signatures
)

func (l DegradeLevel) String() string {
	switch l {
	case DegradeNone:
		return "none"
	case DegradeMildOptional:
		return "mild_optional"
	case DegradeSupplementary:
		return "supplementary"
	case DegradeImportant:
		return "important"
	case DegradeDropLowTiers:
		return "drop_low_tiers"
	case DegradeEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// maxReductionFraction is the maximum fraction of a tier's tokens a
// level may cut before the engine must escalate further.
var maxReductionFraction = map[DegradeLevel]float64{
	DegradeMildOptional:  0.30,
	DegradeSupplementary: 0.50,
	DegradeImportant:     0.70,
	DegradeDropLowTiers:  0.90,
	DegradeEmergency:     0.98,
}

// TierAt reports which tier a degrade level capsule-compresses at this
// level: level 1 touches only optional, level 2 adds supplementary,
// level 3 adds important, level 4 drops optional/supplementary outright.
func (l DegradeLevel) AffectsTier(t Tier) bool {
	switch l {
	case DegradeMildOptional:
		return t == TierOptional
	case DegradeSupplementary:
		return t == TierOptional || t == TierSupplementary
	case DegradeImportant:
		return t == TierOptional || t == TierSupplementary || t == TierImportant
	case DegradeDropLowTiers:
		return t == TierOptional || t == TierSupplementary
	case DegradeEmergency:
		return t != TierMustHave
	default:
		return false
	}
}

// Raise moves to the next level, capping at Emergency, and reports
// whether the new level's reduction target can plausibly be met (always
// true short of Emergency, which the caller must treat as a stopping
// condition if it still fails).
func (l DegradeLevel) Raise() (DegradeLevel, bool) {
	if l >= DegradeEmergency {
		return DegradeEmergency, false
	}
	return l + 1, true
}

// MeetsSemanticPreservation reports whether a capsule retains at least
// 90% of a simple structural-token overlap measure against the
// original content. structuralTokens counts
// identifier/signature/keyword-like tokens (already split by the
// caller) present in both.
func MeetsSemanticPreservation(original, capsule []string) bool {
	if len(original) == 0 {
		return true
	}
	present := make(map[string]bool, len(capsule))
	for _, t := range capsule {
		present[t] = true
	}
	var kept int
	for _, t := range original {
		if present[t] {
			kept++
		}
	}
	return float64(kept)/float64(len(original)) >= 0.90
}

// raiseDegradation bumps the packing engine's level by one, returning a
// stopping reason describing the escalation. Declared here (not as a
// bare int) so Pack's call sites read as level transitions, not magic
// number bumps.
func raiseDegradation(level int) (int, string) {
	next, ok := DegradeLevel(level).Raise()
	if !ok {
		return int(next), "emergency degradation reached: only must-have signatures retained"
	}
	return int(next), "budget pressure forced a degrade level increase to " + next.String()
}

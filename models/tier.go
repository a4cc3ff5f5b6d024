package models

// Tier is the public classification revealed by a prove_tier transaction.
type Tier uint8

const (
	TierIneligible Tier = iota
	TierBasic
	TierPro
	TierWhale
)

// Score thresholds, inclusive.
const (
	MinScore = 0
	MaxScore = 1000

	whaleThreshold = 800
	proThreshold   = 700
	basicThreshold = 600
)

var tierNames = map[Tier]string{
	TierIneligible: "Ineligible",
	TierBasic:      "Tier C (Basic)",
	TierPro:        "Tier B (Pro)",
	TierWhale:      "Tier A (Whale)",
}

// TierFromScore derives the tier an issuer assigns to a private score.
func TierFromScore(score int) Tier {
	switch {
	case score >= whaleThreshold:
		return TierWhale
	case score >= proThreshold:
		return TierPro
	case score >= basicThreshold:
		return TierBasic
	default:
		return TierIneligible
	}
}

func (t Tier) Valid() bool {
	return t <= TierWhale
}

// Name is the label used for proofs and issued credentials.
func (t Tier) Name() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "Unknown"
}

// RegistrationName is the label used for trader registrations on the hook,
// where tier 0 means no registration exists.
func (t Tier) RegistrationName() string {
	if t == TierIneligible {
		return "Unregistered"
	}
	return t.Name()
}

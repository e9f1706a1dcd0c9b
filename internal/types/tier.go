package types

// Tier is a user's rate-limit tier.
type Tier string

const (
	TierStandard Tier = "standard"
	TierAdmin    Tier = "admin"
)

// ParseTier validates a tier string. Unknown values are not defaulted; the
// caller decides what an unrecognized tier means.
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierStandard, TierAdmin:
		return Tier(s), true
	default:
		return "", false
	}
}

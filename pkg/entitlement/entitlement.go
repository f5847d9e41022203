package entitlement

// Plan is the subscription tier carried on a user record.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
	PlanElite   Plan = "elite"
)

func ParsePlan(s string) Plan {
	switch s {
	case string(PlanPremium):
		return PlanPremium
	case string(PlanElite):
		return PlanElite
	default:
		return PlanFree
	}
}

func (p Plan) PremiumOrBetter() bool {
	return p == PlanPremium || p == PlanElite
}

// Snapshot is the entitlement state resolved once at connection time and
// frozen for the connection's lifetime. Mid-session plan changes take effect
// on the next reconnect; that staleness is a deliberate cost tradeoff.
type Snapshot struct {
	Plan         Plan
	VideoOptIn   bool
	CanVideoChat bool
}

// NewSnapshot applies the video-chat policy: Elite always may, Premium only
// with the per-user opt-in flag.
func NewSnapshot(plan Plan, videoOptIn bool) Snapshot {
	return Snapshot{
		Plan:         plan,
		VideoOptIn:   videoOptIn,
		CanVideoChat: plan == PlanElite || (plan.PremiumOrBetter() && videoOptIn),
	}
}

// Package compliance computes the penalty-adjusted obligation. It is the
// single source of truth for both settlement and the leaderboard view, so the
// displayed grade can never diverge from the actual obligation.
package compliance

// Obligation is the result of an audit calculation.
type Obligation struct {
	RequiredBurn   int64 `json:"required_burn"`
	PenaltyApplied bool  `json:"penalty_applied"`
	PenaltyAmount  int64 `json:"penalty_amount"`
	NetSurplus     int64 `json:"net_surplus"`
}

// ComputeObligation applies the penalty rule. Within the allowance the
// obligation is the consumption itself. Over the allowance, the overage is
// penalized at half again its size: requiredBurn = consumption + overage/2,
// a 1.5x multiplier on the overage portion only. All units are integer tons;
// the penalty truncates toward zero.
func ComputeObligation(allowance, consumption int64) Obligation {
	if consumption <= allowance {
		return Obligation{
			RequiredBurn: consumption,
			NetSurplus:   allowance - consumption,
		}
	}
	overage := consumption - allowance
	penalty := overage / 2
	required := consumption + penalty
	return Obligation{
		RequiredBurn:   required,
		PenaltyApplied: true,
		PenaltyAmount:  penalty,
		NetSurplus:     allowance - required,
	}
}

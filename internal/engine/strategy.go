package engine

import (
	"github.com/uma-engine/go-core/pkg/types"
)

// Fold combines child policy decisions according to a decision strategy.
// All three folds are commutative, so child iteration order never changes
// the outcome.
//
// UNANIMOUS over an empty child set folds to PERMIT by convention; policy
// authors must attach at least one child for meaningful gating.
func Fold(strategy types.DecisionStrategy, children []*types.PolicyResult) types.Effect {
	permits, denies := 0, 0
	for _, c := range children {
		if c.Effect == types.EffectPermit {
			permits++
		} else {
			denies++
		}
	}

	switch strategy {
	case types.StrategyAffirmative:
		return types.EffectFromBool(permits > 0)
	case types.StrategyConsensus:
		// Ties deny
		return types.EffectFromBool(permits > denies)
	default: // UNANIMOUS
		return types.EffectFromBool(denies == 0)
	}
}

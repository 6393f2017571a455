package types

import "fmt"

// DecisionStrategy is the fold rule used to combine child policy decisions
// of an aggregated policy.
type DecisionStrategy string

const (
	// StrategyUnanimous permits iff every child permits
	StrategyUnanimous DecisionStrategy = "UNANIMOUS"
	// StrategyAffirmative permits iff at least one child permits
	StrategyAffirmative DecisionStrategy = "AFFIRMATIVE"
	// StrategyConsensus permits iff permits outnumber denies; ties deny
	StrategyConsensus DecisionStrategy = "CONSENSUS"
)

// Logic controls whether the raw decision of a policy is inverted.
type Logic string

const (
	LogicPositive Logic = "POSITIVE"
	LogicNegative Logic = "NEGATIVE"
)

// Apply inverts the effect when the logic is negative
func (l Logic) Apply(e Effect) Effect {
	if l == LogicNegative {
		return e.Invert()
	}
	return e
}

// Policy type tags understood by the evaluator registry.
const (
	PolicyTypeRole      = "role"
	PolicyTypeGroup     = "group"
	PolicyTypeTime      = "time"
	PolicyTypeRule      = "rule"
	PolicyTypeRegex     = "regex"
	PolicyTypeAggregate = "aggregate"
)

// Policy is a single decision unit. Leaf policies compute a raw boolean from
// Config against the evaluation context; aggregated policies fold their
// associated policies' decisions according to DecisionStrategy. NEGATIVE
// logic flips the raw decision in both cases.
type Policy struct {
	ID               string           `json:"id" yaml:"id"`
	Name             string           `json:"name" yaml:"name"`
	Description      string           `json:"description,omitempty" yaml:"description,omitempty"`
	Type             string           `json:"type" yaml:"type"`
	DecisionStrategy DecisionStrategy `json:"decisionStrategy,omitempty" yaml:"decisionStrategy,omitempty"`
	Logic            Logic            `json:"logic,omitempty" yaml:"logic,omitempty"`

	// Config is an opaque key-value map interpreted per policy type.
	Config map[string]string `json:"config,omitempty" yaml:"config,omitempty"`

	// AssociatedPolicies lists child policy IDs; meaningful only for the
	// aggregate type. Order is preserved but must not affect the outcome.
	AssociatedPolicies []string `json:"policies,omitempty" yaml:"policies,omitempty"`

	// Targeting. A policy may apply to explicit resources, to a resource
	// type, or directly to scopes.
	ResourceIDs  []string `json:"resources,omitempty" yaml:"resources,omitempty"`
	ResourceType string   `json:"resourceType,omitempty" yaml:"resourceType,omitempty"`
	ScopeIDs     []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`

	ResourceServerID string `json:"resourceServer" yaml:"resourceServer"`
}

// EffectiveLogic returns the policy logic, defaulting to POSITIVE
func (p *Policy) EffectiveLogic() Logic {
	if p.Logic == "" {
		return LogicPositive
	}
	return p.Logic
}

// EffectiveStrategy returns the decision strategy, defaulting to UNANIMOUS
func (p *Policy) EffectiveStrategy() DecisionStrategy {
	if p.DecisionStrategy == "" {
		return StrategyUnanimous
	}
	return p.DecisionStrategy
}

// TargetsResource reports whether the policy explicitly targets a resource
func (p *Policy) TargetsResource(resourceID string) bool {
	for _, id := range p.ResourceIDs {
		if id == resourceID {
			return true
		}
	}
	return false
}

// TargetsScope reports whether the policy targets any of the given scopes
func (p *Policy) TargetsScope(scopeIDs []string) bool {
	for _, want := range scopeIDs {
		for _, id := range p.ScopeIDs {
			if id == want {
				return true
			}
		}
	}
	return false
}

// Validate performs structural validation of a policy definition
func (p *Policy) Validate() error {
	if p.ID == "" {
		return &ValidationError{Field: "id", Message: "policy id is required"}
	}
	if p.Type == "" {
		return &ValidationError{Field: "type", Message: "policy type is required"}
	}
	switch p.EffectiveStrategy() {
	case StrategyUnanimous, StrategyAffirmative, StrategyConsensus:
	default:
		return &ValidationError{
			Field:   "decisionStrategy",
			Message: fmt.Sprintf("unknown decision strategy %q", p.DecisionStrategy),
		}
	}
	switch p.EffectiveLogic() {
	case LogicPositive, LogicNegative:
	default:
		return &ValidationError{
			Field:   "logic",
			Message: fmt.Sprintf("unknown logic %q", p.Logic),
		}
	}
	if p.Type != PolicyTypeAggregate && len(p.AssociatedPolicies) > 0 {
		return &ValidationError{
			Field:   "policies",
			Message: "associated policies are only valid on aggregate policies",
		}
	}
	return nil
}

// Result is the transient evaluation record for one ResourcePermission:
// one PolicyResult per applicable top-level policy. Discarded after the
// response is built.
type Result struct {
	Permission    *ResourcePermission `json:"-"`
	PolicyResults []*PolicyResult     `json:"policyResults"`
	Effect        Effect              `json:"effect"`

	// PolicyScopes records the scope targeting of each applicable top-level
	// policy so the aggregator can narrow grants without a store lookup.
	PolicyScopes map[string][]string `json:"-"`
}

// AnyPermit reports whether at least one top-level policy permitted
func (r *Result) AnyPermit() bool {
	for _, pr := range r.PolicyResults {
		if pr.Effect == EffectPermit {
			return true
		}
	}
	return false
}

// PolicyResult holds the effective decision of a single policy. Aggregated
// policies carry one nested PolicyResult per child.
type PolicyResult struct {
	PolicyID   string          `json:"policyId"`
	PolicyName string          `json:"policyName,omitempty"`
	Effect     Effect          `json:"effect"`
	Children   []*PolicyResult `json:"children,omitempty"`
}

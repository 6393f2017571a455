// Package permission collapses policy evaluation results into final grants
package permission

import (
	"sort"

	"github.com/uma-engine/go-core/pkg/types"
)

// Collect converts evaluation results into one Permission per resource.
//
// A resource is granted iff at least one applicable top-level policy
// permitted it (zero policies means default deny). Granted scopes are the
// intersection of the requested scopes with the union of scopes referenced
// by the permitting policies; a permitting policy silent on scopes permits
// every requested scope. All operations are commutative, so the output is
// independent of policy iteration order.
func Collect(results []*types.Result) []*types.Permission {
	permissions := make([]*types.Permission, 0, len(results))

	for _, result := range results {
		perm := result.Permission

		p := &types.Permission{}
		if perm != nil && perm.Resource != nil {
			p.ResourceID = perm.Resource.ID
			p.ResourceName = perm.Resource.Name
		}

		if result.Effect != types.EffectPermit {
			permissions = append(permissions, p)
			continue
		}

		p.Granted = true
		p.ScopeIDs = grantedScopes(result)
		permissions = append(permissions, p)
	}

	return permissions
}

// grantedScopes narrows the requested scopes to those covered by the
// permitting policies
func grantedScopes(result *types.Result) []string {
	requested := result.Permission.ScopeIDs()

	permitAll := false
	union := make(map[string]bool)
	for _, pr := range result.PolicyResults {
		if pr.Effect != types.EffectPermit {
			continue
		}
		scopes := policyScopes(result, pr.PolicyID)
		if len(scopes) == 0 {
			// Policy silent on scopes permits all requested scopes
			permitAll = true
			continue
		}
		for _, s := range scopes {
			union[s] = true
		}
	}

	var granted []string
	for _, s := range requested {
		if permitAll || union[s] {
			granted = append(granted, s)
		}
	}
	sort.Strings(granted)
	return granted
}

// policyScopes finds the scope targeting of the policy that produced a
// result. The evaluator threads the policy's scope set through the Result
// so collection stays a pure function of its input.
func policyScopes(result *types.Result, policyID string) []string {
	if result.PolicyScopes == nil {
		return nil
	}
	return result.PolicyScopes[policyID]
}

// Package policy provides policy storage, loading, and hot-reload
package policy

import (
	"github.com/uma-engine/go-core/pkg/types"
)

// Store defines the policy storage interface
type Store interface {
	// Get retrieves a policy by ID
	Get(id string) (*types.Policy, error)

	// GetAll retrieves all policies
	GetAll() []*types.Policy

	// FindByResource finds policies explicitly targeting a resource ID
	FindByResource(resourceID string) []*types.Policy

	// FindByResourceType finds policies targeting a resource type
	FindByResourceType(resourceType string) []*types.Policy

	// FindByScope finds scope-only policies targeting any of the scope IDs
	FindByScope(scopeIDs []string) []*types.Policy

	// FindByResourceServer finds all policies owned by a resource server
	FindByResourceServer(serverID string) []*types.Policy

	// Add adds a policy to the store
	Add(policy *types.Policy) error

	// Remove removes a policy from the store
	Remove(id string) error

	// Clear removes all policies
	Clear()

	// Count returns the number of policies
	Count() int

	// Generation returns a counter incremented on every mutation. Decision
	// caches embed it in their keys so stale entries die on policy change.
	Generation() uint64
}

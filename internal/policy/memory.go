package policy

import (
	"sync"

	"github.com/uma-engine/go-core/pkg/types"
)

// MemoryStore implements an in-memory policy store with secondary indexes
// by resource ID, resource type, and scope ID.
type MemoryStore struct {
	policies   map[string]*types.Policy
	byResource map[string][]*types.Policy
	byType     map[string][]*types.Policy
	byScope    map[string][]*types.Policy
	byServer   map[string][]*types.Policy
	generation uint64
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory policy store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.reset()
	return s
}

func (s *MemoryStore) reset() {
	s.policies = make(map[string]*types.Policy)
	s.byResource = make(map[string][]*types.Policy)
	s.byType = make(map[string][]*types.Policy)
	s.byScope = make(map[string][]*types.Policy)
	s.byServer = make(map[string][]*types.Policy)
}

// Get retrieves a policy by ID
func (s *MemoryStore) Get(id string) (*types.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy, ok := s.policies[id]
	if !ok {
		return nil, &types.NotFoundError{Entity: "policy", ID: id}
	}
	return policy, nil
}

// GetAll retrieves all policies
func (s *MemoryStore) GetAll() []*types.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policies := make([]*types.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		policies = append(policies, p)
	}
	return policies
}

// FindByResource finds policies explicitly targeting a resource ID
func (s *MemoryStore) FindByResource(resourceID string) []*types.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyPolicies(s.byResource[resourceID])
}

// FindByResourceType finds policies targeting a resource type
func (s *MemoryStore) FindByResourceType(resourceType string) []*types.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyPolicies(s.byType[resourceType])
}

// FindByScope finds scope-only policies targeting any of the scope IDs.
// A policy indexed under several requested scopes is returned once.
func (s *MemoryStore) FindByScope(scopeIDs []string) []*types.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var result []*types.Policy
	for _, scopeID := range scopeIDs {
		for _, p := range s.byScope[scopeID] {
			if !seen[p.ID] {
				seen[p.ID] = true
				result = append(result, p)
			}
		}
	}
	return result
}

// FindByResourceServer finds all policies owned by a resource server
func (s *MemoryStore) FindByResourceServer(serverID string) []*types.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyPolicies(s.byServer[serverID])
}

// Add adds a policy to the store
func (s *MemoryStore) Add(policy *types.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.policies[policy.ID]; ok {
		s.unindex(old)
	}
	s.policies[policy.ID] = policy
	s.index(policy)
	s.generation++
	return nil
}

// Remove removes a policy from the store
func (s *MemoryStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, ok := s.policies[id]
	if !ok {
		return &types.NotFoundError{Entity: "policy", ID: id}
	}

	delete(s.policies, id)
	s.unindex(policy)
	s.generation++
	return nil
}

// Clear removes all policies
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	s.generation++
}

// Count returns the number of policies
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.policies)
}

// Generation returns the mutation counter
func (s *MemoryStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func (s *MemoryStore) index(policy *types.Policy) {
	for _, id := range policy.ResourceIDs {
		s.byResource[id] = append(s.byResource[id], policy)
	}
	if policy.ResourceType != "" {
		s.byType[policy.ResourceType] = append(s.byType[policy.ResourceType], policy)
	}
	// Scope-only policies: scope targeting with no resource targeting
	if len(policy.ResourceIDs) == 0 && policy.ResourceType == "" {
		for _, id := range policy.ScopeIDs {
			s.byScope[id] = append(s.byScope[id], policy)
		}
	}
	if policy.ResourceServerID != "" {
		s.byServer[policy.ResourceServerID] = append(s.byServer[policy.ResourceServerID], policy)
	}
}

func (s *MemoryStore) unindex(policy *types.Policy) {
	for _, id := range policy.ResourceIDs {
		s.byResource[id] = removePolicy(s.byResource[id], policy.ID)
		if len(s.byResource[id]) == 0 {
			delete(s.byResource, id)
		}
	}
	if policy.ResourceType != "" {
		s.byType[policy.ResourceType] = removePolicy(s.byType[policy.ResourceType], policy.ID)
		if len(s.byType[policy.ResourceType]) == 0 {
			delete(s.byType, policy.ResourceType)
		}
	}
	for _, id := range policy.ScopeIDs {
		s.byScope[id] = removePolicy(s.byScope[id], policy.ID)
		if len(s.byScope[id]) == 0 {
			delete(s.byScope, id)
		}
	}
	if policy.ResourceServerID != "" {
		s.byServer[policy.ResourceServerID] = removePolicy(s.byServer[policy.ResourceServerID], policy.ID)
		if len(s.byServer[policy.ResourceServerID]) == 0 {
			delete(s.byServer, policy.ResourceServerID)
		}
	}
}

func removePolicy(policies []*types.Policy, id string) []*types.Policy {
	for i, p := range policies {
		if p.ID == id {
			return append(policies[:i], policies[i+1:]...)
		}
	}
	return policies
}

func copyPolicies(policies []*types.Policy) []*types.Policy {
	if len(policies) == 0 {
		return nil
	}
	// Return a copy to avoid races with concurrent mutation
	result := make([]*types.Policy, len(policies))
	copy(result, policies)
	return result
}

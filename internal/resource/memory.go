package resource

import (
	"sync"

	"github.com/google/uuid"

	"github.com/uma-engine/go-core/pkg/types"
)

// MemoryStore implements an in-memory resource/scope store
type MemoryStore struct {
	resources map[string]map[string]*types.Resource // serverID -> resourceID
	scopes    map[string]map[string]*types.Scope    // serverID -> scopeID
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory resource store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]map[string]*types.Resource),
		scopes:    make(map[string]map[string]*types.Scope),
	}
}

// GetResource retrieves a resource by ID
func (s *MemoryStore) GetResource(serverID, id string) (*types.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.resources[serverID][id]; ok {
		return r, nil
	}
	return nil, &types.NotFoundError{Entity: "resource", ID: id}
}

// FindResourceByName retrieves a resource by name
func (s *MemoryStore) FindResourceByName(serverID, name string) (*types.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.resources[serverID] {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, &types.NotFoundError{Entity: "resource", ID: name}
}

// FindResourcesByOwner retrieves resources owned by a principal
func (s *MemoryStore) FindResourcesByOwner(serverID, owner string) []*types.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*types.Resource
	for _, r := range s.resources[serverID] {
		if r.Owner == owner {
			result = append(result, r)
		}
	}
	return result
}

// FindResourcesByType retrieves resources of a given type
func (s *MemoryStore) FindResourcesByType(serverID, resourceType string) []*types.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*types.Resource
	for _, r := range s.resources[serverID] {
		if r.Type == resourceType {
			result = append(result, r)
		}
	}
	return result
}

// FindResourcesByScope retrieves resources carrying a scope
func (s *MemoryStore) FindResourcesByScope(serverID, scopeID string) []*types.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*types.Resource
	for _, r := range s.resources[serverID] {
		if r.HasScope(scopeID) {
			result = append(result, r)
		}
	}
	return result
}

// AddResource adds a resource, assigning an ID when absent
func (s *MemoryStore) AddResource(resource *types.Resource) error {
	if resource.Name == "" {
		return &types.ValidationError{Field: "name", Message: "resource name is required"}
	}
	if resource.ResourceServerID == "" {
		return &types.ValidationError{Field: "resourceServer", Message: "resource server is required"}
	}
	if resource.ID == "" {
		resource.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resources[resource.ResourceServerID] == nil {
		s.resources[resource.ResourceServerID] = make(map[string]*types.Resource)
	}
	for _, r := range s.resources[resource.ResourceServerID] {
		if r.Name == resource.Name && r.ID != resource.ID {
			return &types.ConflictError{Entity: "resource", Detail: resource.Name}
		}
	}
	s.resources[resource.ResourceServerID][resource.ID] = resource
	return nil
}

// RemoveResource removes a resource
func (s *MemoryStore) RemoveResource(serverID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resources[serverID][id]; !ok {
		return &types.NotFoundError{Entity: "resource", ID: id}
	}
	delete(s.resources[serverID], id)
	return nil
}

// GetScope retrieves a scope by ID
func (s *MemoryStore) GetScope(serverID, id string) (*types.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sc, ok := s.scopes[serverID][id]; ok {
		return sc, nil
	}
	return nil, &types.NotFoundError{Entity: "scope", ID: id}
}

// FindScopeByName retrieves a scope by name
func (s *MemoryStore) FindScopeByName(serverID, name string) (*types.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sc := range s.scopes[serverID] {
		if sc.Name == name {
			return sc, nil
		}
	}
	return nil, &types.NotFoundError{Entity: "scope", ID: name}
}

// AddScope adds a scope, assigning an ID when absent
func (s *MemoryStore) AddScope(scope *types.Scope) error {
	if scope.Name == "" {
		return &types.ValidationError{Field: "name", Message: "scope name is required"}
	}
	if scope.ResourceServerID == "" {
		return &types.ValidationError{Field: "resourceServer", Message: "resource server is required"}
	}
	if scope.ID == "" {
		scope.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scopes[scope.ResourceServerID] == nil {
		s.scopes[scope.ResourceServerID] = make(map[string]*types.Scope)
	}
	for _, sc := range s.scopes[scope.ResourceServerID] {
		if sc.Name == scope.Name && sc.ID != scope.ID {
			return &types.ConflictError{Entity: "scope", Detail: scope.Name}
		}
	}
	s.scopes[scope.ResourceServerID][scope.ID] = scope
	return nil
}

// RenameScope renames a scope. Scopes are otherwise immutable after creation.
func (s *MemoryStore) RenameScope(serverID, id, name string) error {
	if name == "" {
		return &types.ValidationError{Field: "name", Message: "scope name is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	scope, ok := s.scopes[serverID][id]
	if !ok {
		return &types.NotFoundError{Entity: "scope", ID: id}
	}
	for _, sc := range s.scopes[serverID] {
		if sc.Name == name && sc.ID != id {
			return &types.ConflictError{Entity: "scope", Detail: name}
		}
	}
	scope.Name = name
	return nil
}

// Package resource provides resource and scope storage for resource servers
package resource

import (
	"github.com/uma-engine/go-core/pkg/types"
)

// Store defines resource and scope storage, all lookups scoped by
// resource-server ID.
type Store interface {
	// Resources
	GetResource(serverID, id string) (*types.Resource, error)
	FindResourceByName(serverID, name string) (*types.Resource, error)
	FindResourcesByOwner(serverID, owner string) []*types.Resource
	FindResourcesByType(serverID, resourceType string) []*types.Resource
	FindResourcesByScope(serverID, scopeID string) []*types.Resource
	AddResource(resource *types.Resource) error
	RemoveResource(serverID, id string) error

	// Scopes
	GetScope(serverID, id string) (*types.Scope, error)
	FindScopeByName(serverID, name string) (*types.Scope, error)
	AddScope(scope *types.Scope) error
	RenameScope(serverID, id, name string) error
}

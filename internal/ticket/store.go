// Package ticket provides the permission ticket lifecycle for UMA sharing
package ticket

import (
	"context"

	"github.com/uma-engine/go-core/pkg/types"
)

// DefaultMaxResults caps Find page sizes when the caller passes max <= 0
const DefaultMaxResults = 100

// Store defines permission ticket persistence. Create must treat the
// duplicate-check-then-insert as one logical unit: a race between two
// creates for the same (resource, scope, requester) triple yields exactly
// one stored ticket, the loser observing a ConflictError.
type Store interface {
	Create(ctx context.Context, ticket *types.PermissionTicket) error
	Update(ctx context.Context, ticket *types.PermissionTicket) error
	Delete(ctx context.Context, serverID, id string) error
	FindByID(ctx context.Context, serverID, id string) (*types.PermissionTicket, error)

	// Find filters on the canonical filter keys (types.FilterResource etc.)
	// with (first, max) pagination.
	Find(ctx context.Context, serverID string, filters map[string]string, first, max int) ([]*types.PermissionTicket, error)

	// DeleteByResource removes every ticket of a resource, returning the
	// number removed. Used by the resource deletion cascade.
	DeleteByResource(ctx context.Context, serverID, resourceID string) (int, error)
}

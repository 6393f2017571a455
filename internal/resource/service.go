package resource

import (
	"context"

	"go.uber.org/zap"

	"github.com/uma-engine/go-core/internal/policy"
	"github.com/uma-engine/go-core/pkg/types"
)

// TicketDeleter is the slice of the ticket store the cascade needs.
type TicketDeleter interface {
	DeleteByResource(ctx context.Context, serverID, resourceID string) (int, error)
}

// Service wraps a resource store with lifecycle behavior that spans
// stores: deleting a resource cascades its permission tickets and its
// policy associations.
type Service struct {
	store    Store
	policies policy.Store
	tickets  TicketDeleter
	logger   *zap.Logger
}

// NewService creates a resource service
func NewService(store Store, policies policy.Store, tickets TicketDeleter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		policies: policies,
		tickets:  tickets,
		logger:   logger,
	}
}

// Store exposes the underlying resource store
func (s *Service) Store() Store {
	return s.store
}

// DeleteResource removes a resource, its permission tickets, and any
// explicit policy associations pointing at it. The resource row goes last
// so a failed cascade leaves the resource visible and retriable.
func (s *Service) DeleteResource(ctx context.Context, serverID, resourceID string) error {
	if _, err := s.store.GetResource(serverID, resourceID); err != nil {
		return err
	}

	removed, err := s.tickets.DeleteByResource(ctx, serverID, resourceID)
	if err != nil {
		return err
	}
	if removed > 0 {
		s.logger.Info("Cascaded permission tickets",
			zap.String("resource", resourceID),
			zap.Int("removed", removed),
		)
	}

	for _, p := range s.policies.FindByResource(resourceID) {
		// Detach on a copy: the store unindexes the old policy by its
		// current targeting, so the stored object must stay untouched
		// until Add replaces it
		detached := *p
		detached.ResourceIDs = removeString(p.ResourceIDs, resourceID)
		if err := s.policies.Add(&detached); err != nil {
			s.logger.Warn("Failed to detach policy from resource",
				zap.String("policy", p.ID),
				zap.String("resource", resourceID),
				zap.Error(err),
			)
		}
	}

	return s.store.RemoveResource(serverID, resourceID)
}

// CreateResource validates and stores a resource along with unknown-scope
// rejection: every scope on the resource must exist on the server.
func (s *Service) CreateResource(resource *types.Resource) error {
	for _, scopeID := range resource.ScopeIDs {
		if _, err := s.store.GetScope(resource.ResourceServerID, scopeID); err != nil {
			return &types.ValidationError{
				Field:   "scopes",
				Message: "unknown scope " + scopeID,
			}
		}
	}
	return s.store.AddResource(resource)
}

// removeString returns a fresh slice so the original backing array is
// never mutated
func removeString(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

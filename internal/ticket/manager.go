package ticket

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/uma-engine/go-core/internal/audit"
	"github.com/uma-engine/go-core/internal/identity"
	"github.com/uma-engine/go-core/internal/metrics"
	"github.com/uma-engine/go-core/internal/resource"
	"github.com/uma-engine/go-core/pkg/types"
)

// Manager enforces the permission ticket lifecycle for one resource
// server: ownership checks, scope resolution, duplicate rejection, and
// filtered queries. All validation runs before any mutation; a failed
// operation leaves the store untouched.
type Manager struct {
	serverID  string
	store     Store
	resources resource.Store
	directory identity.Directory
	metrics   metrics.Metrics
	auditLog  audit.Logger
	logger    *zap.Logger
}

// NewManager creates a ticket manager for a resource server
func NewManager(serverID string, store Store, resources resource.Store, directory identity.Directory, m metrics.Metrics, auditLog audit.Logger, logger *zap.Logger) *Manager {
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	if auditLog == nil {
		auditLog = audit.NewNoOpLogger()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		serverID:  serverID,
		store:     store,
		resources: resources,
		directory: directory,
		metrics:   m,
		auditLog:  auditLog,
		logger:    logger,
	}
}

// CreateRequest is the inbound representation for ticket creation.
// Exactly one of ScopeID/ScopeName and one of Requester/RequesterName
// must be set.
type CreateRequest struct {
	ResourceID    string `json:"resource"`
	ScopeID       string `json:"scope,omitempty"`
	ScopeName     string `json:"scopeName,omitempty"`
	Requester     string `json:"requester,omitempty"`
	RequesterName string `json:"requesterName,omitempty"`
	Granted       bool   `json:"granted,omitempty"`
}

// Create validates and stores a new permission ticket. The caller must be
// the resource owner.
func (m *Manager) Create(ctx context.Context, caller *types.Identity, req *CreateRequest) (*types.PermissionTicket, error) {
	if caller == nil {
		return nil, &types.ValidationError{Field: "caller", Message: "a caller identity is required"}
	}
	if req.ResourceID == "" {
		return nil, &types.ValidationError{Field: "resource", Message: "resource is required"}
	}

	res, err := m.resources.GetResource(m.serverID, req.ResourceID)
	if err != nil {
		return nil, err
	}

	if caller.ID != res.Owner && caller.ID != m.serverID {
		m.metrics.RecordTicketOp("create", "forbidden")
		return nil, &types.AuthorizationError{Subject: caller.ID, Action: "create ticket for " + res.ID}
	}

	scope, err := m.resolveScope(req.ScopeID, req.ScopeName)
	if err != nil {
		return nil, err
	}
	if !res.HasScope(scope.ID) {
		return nil, &types.ValidationError{
			Field:   "scope",
			Message: "scope " + scope.Name + " is not defined on resource " + res.Name,
		}
	}

	requester, err := m.resolveRequester(ctx, req.Requester, req.RequesterName)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ticket := &types.PermissionTicket{
		ResourceID:       res.ID,
		ScopeID:          scope.ID,
		Owner:            res.Owner,
		Requester:        requester.ID,
		Granted:          req.Granted,
		CreatedTimestamp: now,
		ResourceServerID: m.serverID,
	}
	if req.Granted {
		ticket.GrantedTimestamp = &now
	}

	// The store makes duplicate-check-then-insert atomic
	if err := m.store.Create(ctx, ticket); err != nil {
		m.metrics.RecordTicketOp("create", "conflict")
		return nil, err
	}

	m.metrics.RecordTicketOp("create", "ok")
	m.auditLog.LogTicket(ctx, &audit.TicketEvent{
		Operation: "create",
		TicketID:  ticket.ID,
		Resource:  ticket.ResourceID,
		Scope:     ticket.ScopeID,
		Owner:     ticket.Owner,
		Requester: ticket.Requester,
		Actor:     caller.ID,
		Granted:   ticket.Granted,
	})
	m.logger.Info("Permission ticket created",
		zap.String("ticket", ticket.ID),
		zap.String("resource", res.ID),
		zap.String("scope", scope.ID),
		zap.String("requester", requester.ID),
	)
	return ticket, nil
}

// UpdateRequest carries the mutable ticket fields
type UpdateRequest struct {
	ID      string `json:"id"`
	Granted bool   `json:"granted"`
}

// Update applies the representation onto the stored ticket. The caller
// must be the ticket owner or the resource server itself.
func (m *Manager) Update(ctx context.Context, caller *types.Identity, req *UpdateRequest) (*types.PermissionTicket, error) {
	if caller == nil {
		return nil, &types.ValidationError{Field: "caller", Message: "a caller identity is required"}
	}
	if req.ID == "" {
		return nil, &types.ValidationError{Field: "id", Message: "ticket id is required"}
	}

	ticket, err := m.store.FindByID(ctx, m.serverID, req.ID)
	if err != nil {
		return nil, err
	}

	if caller.ID != ticket.Owner && caller.ID != m.serverID {
		m.metrics.RecordTicketOp("update", "forbidden")
		return nil, &types.AuthorizationError{Subject: caller.ID, Action: "update ticket " + ticket.ID}
	}

	// Granting stamps the grant time once; revocation is deletion, so a
	// granted ticket never returns to pending
	if req.Granted && !ticket.Granted {
		now := time.Now()
		ticket.Granted = true
		ticket.GrantedTimestamp = &now
	}

	if err := m.store.Update(ctx, ticket); err != nil {
		m.metrics.RecordTicketOp("update", "error")
		return nil, err
	}

	m.metrics.RecordTicketOp("update", "ok")
	m.auditLog.LogTicket(ctx, &audit.TicketEvent{
		Operation: "update",
		TicketID:  ticket.ID,
		Resource:  ticket.ResourceID,
		Scope:     ticket.ScopeID,
		Owner:     ticket.Owner,
		Requester: ticket.Requester,
		Actor:     caller.ID,
		Granted:   ticket.Granted,
	})
	return ticket, nil
}

// Delete removes a ticket. The caller must be the owner, the requester,
// or the resource server itself.
func (m *Manager) Delete(ctx context.Context, caller *types.Identity, id string) error {
	if caller == nil {
		return &types.ValidationError{Field: "caller", Message: "a caller identity is required"}
	}
	if id == "" {
		return &types.ValidationError{Field: "id", Message: "ticket id is required"}
	}

	ticket, err := m.store.FindByID(ctx, m.serverID, id)
	if err != nil {
		return err
	}

	if caller.ID != ticket.Owner && caller.ID != ticket.Requester && caller.ID != m.serverID {
		m.metrics.RecordTicketOp("delete", "forbidden")
		return &types.AuthorizationError{Subject: caller.ID, Action: "delete ticket " + ticket.ID}
	}

	if err := m.store.Delete(ctx, m.serverID, id); err != nil {
		m.metrics.RecordTicketOp("delete", "error")
		return err
	}

	m.metrics.RecordTicketOp("delete", "ok")
	m.auditLog.LogTicket(ctx, &audit.TicketEvent{
		Operation: "delete",
		TicketID:  ticket.ID,
		Resource:  ticket.ResourceID,
		Scope:     ticket.ScopeID,
		Owner:     ticket.Owner,
		Requester: ticket.Requester,
		Actor:     caller.ID,
	})
	m.logger.Info("Permission ticket deleted", zap.String("ticket", id))
	return nil
}

// Find queries tickets with the canonical filter keys. Owner and
// requester filters accept an ID or a username and are resolved
// transparently. Scope filters accept an ID or a scope name.
func (m *Manager) Find(ctx context.Context, filters map[string]string, first, max int) ([]*types.PermissionTicket, error) {
	resolved := make(map[string]string, len(filters))
	for key, value := range filters {
		switch key {
		case types.FilterOwner, types.FilterRequester:
			id, err := m.directory.Lookup(ctx, value)
			if err != nil {
				return nil, err
			}
			resolved[key] = id.ID
		case types.FilterScope:
			scope, err := m.resolveScope(value, value)
			if err != nil {
				return nil, err
			}
			resolved[key] = scope.ID
		default:
			resolved[key] = value
		}
	}

	return m.store.Find(ctx, m.serverID, resolved, first, max)
}

// resolveScope resolves a scope given exactly one of id or name
func (m *Manager) resolveScope(scopeID, scopeName string) (*types.Scope, error) {
	if scopeID != "" && scopeName != "" && scopeID != scopeName {
		return nil, &types.ValidationError{Field: "scope", Message: "give a scope id or a scope name, not both"}
	}
	if scopeID != "" {
		if scope, err := m.resources.GetScope(m.serverID, scopeID); err == nil {
			return scope, nil
		}
	}
	if scopeName != "" {
		if scope, err := m.resources.FindScopeByName(m.serverID, scopeName); err == nil {
			return scope, nil
		}
	}
	if scopeID == "" && scopeName == "" {
		return nil, &types.ValidationError{Field: "scope", Message: "a scope id or scope name is required"}
	}
	return nil, &types.NotFoundError{Entity: "scope", ID: scopeID + scopeName}
}

// resolveRequester resolves the requester by id or username
func (m *Manager) resolveRequester(ctx context.Context, id, username string) (*types.Identity, error) {
	if id == "" && username == "" {
		return nil, &types.ValidationError{Field: "requester", Message: "a requester id or username is required"}
	}
	lookup := id
	if lookup == "" {
		lookup = username
	}
	return m.directory.Lookup(ctx, lookup)
}

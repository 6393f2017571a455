package ticket

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uma-engine/go-core/internal/audit"
	"github.com/uma-engine/go-core/internal/identity"
	"github.com/uma-engine/go-core/internal/resource"
	"github.com/uma-engine/go-core/pkg/types"
)

// ticketAuditSink retains every ticket event handed to it
type ticketAuditSink struct {
	events []*audit.TicketEvent
}

func (s *ticketAuditSink) LogDecision(context.Context, *audit.DecisionEvent) {}
func (s *ticketAuditSink) LogTicket(_ context.Context, event *audit.TicketEvent) {
	s.events = append(s.events, event)
}
func (s *ticketAuditSink) LogSyncRun(context.Context, *audit.SyncEvent) {}
func (s *ticketAuditSink) Flush() error                                 { return nil }
func (s *ticketAuditSink) Close() error                                 { return nil }

const testServerID = "photoz"

func newTestManager(t *testing.T) (*Manager, resource.Store) {
	t.Helper()

	resources := resource.NewMemoryStore()
	require.NoError(t, resources.AddScope(&types.Scope{ID: "scope-read", Name: "read", ResourceServerID: testServerID}))
	require.NoError(t, resources.AddScope(&types.Scope{ID: "scope-write", Name: "write", ResourceServerID: testServerID}))
	require.NoError(t, resources.AddResource(&types.Resource{
		ID:               "res-1",
		Name:             "holiday-album",
		Owner:            "alice",
		ScopeIDs:         []string{"scope-read", "scope-write"},
		ResourceServerID: testServerID,
	}))

	directory := identity.NewMemoryDirectory()
	directory.Add(&types.Identity{ID: "alice", Username: "alice@example.com"})
	directory.Add(&types.Identity{ID: "bob", Username: "bob@example.com"})

	return NewManager(testServerID, NewMemoryStore(), resources, directory, nil, nil, zap.NewNop()), resources
}

func TestManagerCreate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := &types.Identity{ID: "alice"}

	ticket, err := m.Create(ctx, alice, &CreateRequest{
		ResourceID: "res-1",
		ScopeName:  "read",
		Requester:  "bob",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, "scope-read", ticket.ScopeID)
	assert.Equal(t, "alice", ticket.Owner)
	assert.Equal(t, "bob", ticket.Requester)
	assert.True(t, ticket.Pending())
	assert.Nil(t, ticket.GrantedTimestamp)
}

func TestManagerCreateResolvesRequesterByUsername(t *testing.T) {
	m, _ := newTestManager(t)

	ticket, err := m.Create(context.Background(), &types.Identity{ID: "alice"}, &CreateRequest{
		ResourceID:    "res-1",
		ScopeID:       "scope-read",
		RequesterName: "bob@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "bob", ticket.Requester)
}

func TestManagerCreateGrantedStampsTimestamp(t *testing.T) {
	m, _ := newTestManager(t)

	ticket, err := m.Create(context.Background(), &types.Identity{ID: "alice"}, &CreateRequest{
		ResourceID: "res-1",
		ScopeID:    "scope-read",
		Requester:  "bob",
		Granted:    true,
	})
	require.NoError(t, err)
	assert.True(t, ticket.Granted)
	require.NotNil(t, ticket.GrantedTimestamp)
	assert.Equal(t, ticket.CreatedTimestamp, *ticket.GrantedTimestamp)
}

func TestManagerCreateRejections(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := &types.Identity{ID: "alice"}

	cases := []struct {
		name   string
		caller *types.Identity
		req    *CreateRequest
		want   error
	}{
		{
			"non-owner caller",
			&types.Identity{ID: "bob"},
			&CreateRequest{ResourceID: "res-1", ScopeID: "scope-read", Requester: "bob"},
			types.ErrAuthorization,
		},
		{
			"unknown resource",
			alice,
			&CreateRequest{ResourceID: "res-404", ScopeID: "scope-read", Requester: "bob"},
			types.ErrNotFound,
		},
		{
			"missing scope",
			alice,
			&CreateRequest{ResourceID: "res-1", Requester: "bob"},
			types.ErrValidation,
		},
		{
			"unknown scope",
			alice,
			&CreateRequest{ResourceID: "res-1", ScopeName: "admin", Requester: "bob"},
			types.ErrNotFound,
		},
		{
			"unknown requester",
			alice,
			&CreateRequest{ResourceID: "res-1", ScopeID: "scope-read", Requester: "mallory"},
			types.ErrNotFound,
		},
		{
			"missing requester",
			alice,
			&CreateRequest{ResourceID: "res-1", ScopeID: "scope-read"},
			types.ErrValidation,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Create(ctx, tc.caller, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestManagerCreateRejectsScopeNotOnResource(t *testing.T) {
	m, resources := newTestManager(t)

	// A real scope of the server that res-1 does not carry
	require.NoError(t, resources.AddScope(&types.Scope{ID: "scope-admin", Name: "admin", ResourceServerID: testServerID}))

	_, err := m.Create(context.Background(), &types.Identity{ID: "alice"}, &CreateRequest{
		ResourceID: "res-1",
		ScopeID:    "scope-admin",
		Requester:  "bob",
	})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestManagerCreateDuplicate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := &types.Identity{ID: "alice"}
	req := &CreateRequest{ResourceID: "res-1", ScopeID: "scope-read", Requester: "bob"}

	_, err := m.Create(ctx, alice, req)
	require.NoError(t, err)

	_, err = m.Create(ctx, alice, req)
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestManagerServerPrincipalMayCreate(t *testing.T) {
	m, _ := newTestManager(t)

	// The resource server itself may file tickets on behalf of owners
	ticket, err := m.Create(context.Background(), &types.Identity{ID: testServerID}, &CreateRequest{
		ResourceID: "res-1",
		ScopeID:    "scope-read",
		Requester:  "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", ticket.Owner)
}

func TestManagerUpdateGrant(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := &types.Identity{ID: "alice"}

	ticket, err := m.Create(ctx, alice, &CreateRequest{ResourceID: "res-1", ScopeID: "scope-read", Requester: "bob"})
	require.NoError(t, err)

	// Requester cannot grant their own ticket
	_, err = m.Update(ctx, &types.Identity{ID: "bob"}, &UpdateRequest{ID: ticket.ID, Granted: true})
	assert.ErrorIs(t, err, types.ErrAuthorization)

	updated, err := m.Update(ctx, alice, &UpdateRequest{ID: ticket.ID, Granted: true})
	require.NoError(t, err)
	assert.True(t, updated.Granted)
	require.NotNil(t, updated.GrantedTimestamp)

	// A second grant keeps the original grant timestamp
	stamp := *updated.GrantedTimestamp
	again, err := m.Update(ctx, alice, &UpdateRequest{ID: ticket.ID, Granted: true})
	require.NoError(t, err)
	assert.Equal(t, stamp, *again.GrantedTimestamp)

	_, err = m.Update(ctx, alice, &UpdateRequest{ID: "missing"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = m.Update(ctx, alice, &UpdateRequest{})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestManagerDelete(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := &types.Identity{ID: "alice"}

	mk := func() *types.PermissionTicket {
		t.Helper()
		ticket, err := m.Create(ctx, alice, &CreateRequest{ResourceID: "res-1", ScopeID: "scope-read", Requester: "bob"})
		require.NoError(t, err)
		return ticket
	}

	ticket := mk()
	assert.ErrorIs(t, m.Delete(ctx, &types.Identity{ID: "mallory"}, ticket.ID), types.ErrAuthorization)

	// Owner may delete
	require.NoError(t, m.Delete(ctx, alice, ticket.ID))
	assert.ErrorIs(t, m.Delete(ctx, alice, ticket.ID), types.ErrNotFound)

	// Requester may withdraw their own request
	ticket = mk()
	require.NoError(t, m.Delete(ctx, &types.Identity{ID: "bob"}, ticket.ID))

	// The resource server principal may delete
	ticket = mk()
	require.NoError(t, m.Delete(ctx, &types.Identity{ID: testServerID}, ticket.ID))
}

func TestManagerRequiresCaller(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, nil, &CreateRequest{ResourceID: "res-1", ScopeID: "scope-read", Requester: "bob"})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = m.Update(ctx, nil, &UpdateRequest{ID: "t-1", Granted: true})
	assert.ErrorIs(t, err, types.ErrValidation)

	assert.ErrorIs(t, m.Delete(ctx, nil, "t-1"), types.ErrValidation)
}

func TestManagerEmitsTicketEvents(t *testing.T) {
	resources := resource.NewMemoryStore()
	require.NoError(t, resources.AddScope(&types.Scope{ID: "scope-read", Name: "read", ResourceServerID: testServerID}))
	require.NoError(t, resources.AddResource(&types.Resource{
		ID:               "res-1",
		Name:             "holiday-album",
		Owner:            "alice",
		ScopeIDs:         []string{"scope-read"},
		ResourceServerID: testServerID,
	}))
	directory := identity.NewMemoryDirectory()
	directory.Add(&types.Identity{ID: "alice", Username: "alice@example.com"})
	directory.Add(&types.Identity{ID: "bob", Username: "bob@example.com"})

	sink := &ticketAuditSink{}
	m := NewManager(testServerID, NewMemoryStore(), resources, directory, nil, sink, zap.NewNop())

	ctx := context.Background()
	alice := &types.Identity{ID: "alice"}

	ticket, err := m.Create(ctx, alice, &CreateRequest{ResourceID: "res-1", ScopeID: "scope-read", Requester: "bob"})
	require.NoError(t, err)

	_, err = m.Update(ctx, alice, &UpdateRequest{ID: ticket.ID, Granted: true})
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, &types.Identity{ID: "bob"}, ticket.ID))

	require.Len(t, sink.events, 3)

	created := sink.events[0]
	assert.Equal(t, "create", created.Operation)
	assert.Equal(t, ticket.ID, created.TicketID)
	assert.Equal(t, "res-1", created.Resource)
	assert.Equal(t, "scope-read", created.Scope)
	assert.Equal(t, "alice", created.Owner)
	assert.Equal(t, "bob", created.Requester)
	assert.Equal(t, "alice", created.Actor)
	assert.False(t, created.Granted)

	updated := sink.events[1]
	assert.Equal(t, "update", updated.Operation)
	assert.Equal(t, "alice", updated.Actor)
	assert.True(t, updated.Granted)

	deleted := sink.events[2]
	assert.Equal(t, "delete", deleted.Operation)
	assert.Equal(t, ticket.ID, deleted.TicketID)
	assert.Equal(t, "bob", deleted.Actor)
}

func TestManagerFindResolvesPrincipalsAndScopes(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := &types.Identity{ID: "alice"}

	_, err := m.Create(ctx, alice, &CreateRequest{ResourceID: "res-1", ScopeID: "scope-read", Requester: "bob"})
	require.NoError(t, err)
	_, err = m.Create(ctx, alice, &CreateRequest{ResourceID: "res-1", ScopeID: "scope-write", Requester: "bob", Granted: true})
	require.NoError(t, err)

	// Username in the requester filter resolves to the ID
	tickets, err := m.Find(ctx, map[string]string{types.FilterRequester: "bob@example.com"}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, tickets, 2)

	// Scope name resolves to the scope ID
	tickets, err = m.Find(ctx, map[string]string{types.FilterScope: "write"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.True(t, tickets[0].Granted)

	tickets, err = m.Find(ctx, map[string]string{
		types.FilterOwner:   "alice@example.com",
		types.FilterGranted: "false",
	}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, tickets, 1)

	_, err = m.Find(ctx, map[string]string{types.FilterOwner: "mallory"}, 0, 0)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

package ticket

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/uma-engine/go-core/pkg/types"
)

// MemoryStore implements an in-memory permission ticket store. The triple
// index and the ticket map mutate under one lock, making the duplicate
// check and the insert a single logical unit.
type MemoryStore struct {
	tickets  map[string]*types.PermissionTicket // id -> ticket
	byTriple map[string]string                  // triple key -> id
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory ticket store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:  make(map[string]*types.PermissionTicket),
		byTriple: make(map[string]string),
	}
}

// Create stores a new ticket, rejecting duplicate triples
func (s *MemoryStore) Create(ctx context.Context, ticket *types.PermissionTicket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := ticket.TripleKey()
	if _, exists := s.byTriple[key]; exists {
		return &types.ConflictError{
			Entity: "permission ticket",
			Detail: ticket.ResourceID + "/" + ticket.ScopeID + "/" + ticket.Requester,
		}
	}

	stored := *ticket
	s.tickets[ticket.ID] = &stored
	s.byTriple[key] = ticket.ID
	return nil
}

// Update replaces a stored ticket
func (s *MemoryStore) Update(ctx context.Context, ticket *types.PermissionTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.tickets[ticket.ID]
	if !ok {
		return &types.NotFoundError{Entity: "permission ticket", ID: ticket.ID}
	}

	if old.TripleKey() != ticket.TripleKey() {
		if _, exists := s.byTriple[ticket.TripleKey()]; exists {
			return &types.ConflictError{
				Entity: "permission ticket",
				Detail: ticket.ResourceID + "/" + ticket.ScopeID + "/" + ticket.Requester,
			}
		}
		delete(s.byTriple, old.TripleKey())
		s.byTriple[ticket.TripleKey()] = ticket.ID
	}

	stored := *ticket
	s.tickets[ticket.ID] = &stored
	return nil
}

// Delete removes a ticket
func (s *MemoryStore) Delete(ctx context.Context, serverID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[id]
	if !ok || ticket.ResourceServerID != serverID {
		return &types.NotFoundError{Entity: "permission ticket", ID: id}
	}

	delete(s.tickets, id)
	delete(s.byTriple, ticket.TripleKey())
	return nil
}

// FindByID retrieves a ticket by ID
func (s *MemoryStore) FindByID(ctx context.Context, serverID, id string) (*types.PermissionTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, ok := s.tickets[id]
	if !ok || ticket.ResourceServerID != serverID {
		return nil, &types.NotFoundError{Entity: "permission ticket", ID: id}
	}
	copied := *ticket
	return &copied, nil
}

// Find filters tickets with pagination, ordered by creation time
func (s *MemoryStore) Find(ctx context.Context, serverID string, filters map[string]string, first, max int) ([]*types.PermissionTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*types.PermissionTicket
	for _, t := range s.tickets {
		if t.ResourceServerID != serverID {
			continue
		}
		if matchesFilters(t, filters) {
			copied := *t
			matched = append(matched, &copied)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedTimestamp.Equal(matched[j].CreatedTimestamp) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedTimestamp.Before(matched[j].CreatedTimestamp)
	})

	if max <= 0 || max > DefaultMaxResults {
		max = DefaultMaxResults
	}
	if first < 0 {
		first = 0
	}
	if first >= len(matched) {
		return nil, nil
	}
	end := first + max
	if end > len(matched) {
		end = len(matched)
	}
	return matched[first:end], nil
}

// DeleteByResource removes all tickets of a resource
func (s *MemoryStore) DeleteByResource(ctx context.Context, serverID, resourceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.tickets {
		if t.ResourceServerID == serverID && t.ResourceID == resourceID {
			delete(s.tickets, id)
			delete(s.byTriple, t.TripleKey())
			removed++
		}
	}
	return removed, nil
}

func matchesFilters(t *types.PermissionTicket, filters map[string]string) bool {
	for key, value := range filters {
		switch key {
		case types.FilterResource:
			if t.ResourceID != value {
				return false
			}
		case types.FilterScope:
			if t.ScopeID != value {
				return false
			}
		case types.FilterScopeIsNull:
			isNull, _ := strconv.ParseBool(value)
			if (t.ScopeID == "") != isNull {
				return false
			}
		case types.FilterOwner:
			if t.Owner != value {
				return false
			}
		case types.FilterRequester:
			if t.Requester != value {
				return false
			}
		case types.FilterGranted:
			granted, _ := strconv.ParseBool(value)
			if t.Granted != granted {
				return false
			}
		}
	}
	return true
}

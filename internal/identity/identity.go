// Package identity resolves identities and evaluation attributes
package identity

import (
	"context"
	"sync"

	"github.com/uma-engine/go-core/pkg/types"
)

// AttributeSource resolves a runtime attribute to its values. Absent keys
// return an empty slice.
type AttributeSource interface {
	Get(key string) []string
}

// Directory resolves principals by ID or username.
type Directory interface {
	Lookup(ctx context.Context, idOrUsername string) (*types.Identity, error)
}

// MemoryDirectory is an in-memory principal directory
type MemoryDirectory struct {
	byID   map[string]*types.Identity
	byName map[string]*types.Identity
	mu     sync.RWMutex
}

// NewMemoryDirectory creates an empty directory
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:   make(map[string]*types.Identity),
		byName: make(map[string]*types.Identity),
	}
}

// Add registers an identity
func (d *MemoryDirectory) Add(identity *types.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.byID[identity.ID] = identity
	if identity.Username != "" {
		d.byName[identity.Username] = identity
	}
}

// Lookup resolves an identity by ID first, then by username
func (d *MemoryDirectory) Lookup(ctx context.Context, idOrUsername string) (*types.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if id, ok := d.byID[idOrUsername]; ok {
		return id, nil
	}
	if id, ok := d.byName[idOrUsername]; ok {
		return id, nil
	}
	return nil, &types.NotFoundError{Entity: "user", ID: idOrUsername}
}

// GroupLoader fetches the group paths of a user in a realm
type GroupLoader func(ctx context.Context, userID, realm string) ([]string, error)

// GroupCache memoizes group membership per (user, realm) for the lifetime
// of one request. Build one per request and drop it when the request ends;
// it is an explicit memoization map, not a long-lived cache.
type GroupCache struct {
	loader  GroupLoader
	entries map[groupKey][]string
	mu      sync.Mutex
}

type groupKey struct {
	userID string
	realm  string
}

// NewGroupCache creates a request-scoped group membership cache
func NewGroupCache(loader GroupLoader) *GroupCache {
	return &GroupCache{
		loader:  loader,
		entries: make(map[groupKey][]string),
	}
}

// Groups returns the user's group paths, loading them at most once
func (c *GroupCache) Groups(ctx context.Context, userID, realm string) ([]string, error) {
	key := groupKey{userID: userID, realm: realm}

	c.mu.Lock()
	if groups, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return groups, nil
	}
	c.mu.Unlock()

	groups, err := c.loader(ctx, userID, realm)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = groups
	c.mu.Unlock()
	return groups, nil
}

// ContextBuilder assembles evaluation contexts from the directory, the
// runtime attribute source, and the request-scoped group cache.
type ContextBuilder struct {
	directory  Directory
	attributes AttributeSource
	groups     *GroupCache
	realm      string
}

// NewContextBuilder creates a context builder for a realm
func NewContextBuilder(directory Directory, attributes AttributeSource, groups *GroupCache, realm string) *ContextBuilder {
	return &ContextBuilder{
		directory:  directory,
		attributes: attributes,
		groups:     groups,
		realm:      realm,
	}
}

// Build resolves the identity and produces an evaluation context
func (b *ContextBuilder) Build(ctx context.Context, idOrUsername string, extra map[string][]string) (*types.EvaluationContext, error) {
	id, err := b.directory.Lookup(ctx, idOrUsername)
	if err != nil {
		return nil, err
	}

	// Copy so group resolution does not mutate the directory's record
	resolved := *id

	if b.groups != nil && len(resolved.Groups) == 0 {
		groups, err := b.groups.Groups(ctx, resolved.ID, b.realm)
		if err != nil {
			return nil, err
		}
		resolved.Groups = groups
	}

	return &types.EvaluationContext{
		Identity:   &resolved,
		Realm:      b.realm,
		Attributes: extra,
	}, nil
}

// StaticAttributes is a fixed-map attribute source
type StaticAttributes map[string][]string

// Get returns the values for a key
func (s StaticAttributes) Get(key string) []string {
	return s[key]
}

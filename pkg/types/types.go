// Package types provides the shared data model for the UMA authorization engine
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Effect represents a policy decision
type Effect string

const (
	EffectPermit Effect = "PERMIT"
	EffectDeny   Effect = "DENY"
)

// Invert returns the opposite effect
func (e Effect) Invert() Effect {
	if e == EffectPermit {
		return EffectDeny
	}
	return EffectPermit
}

// EffectFromBool converts a raw boolean evaluation into an effect
func EffectFromBool(b bool) Effect {
	if b {
		return EffectPermit
	}
	return EffectDeny
}

// ResourceServer is the tenant boundary owning resources, scopes, policies
// and permission tickets. Identity is immutable once created.
type ResourceServer struct {
	ID       string `json:"id" yaml:"id"`
	ClientID string `json:"clientId" yaml:"clientId"`
}

// Resource is a named protected entity on a resource server.
type Resource struct {
	ID                 string   `json:"id" yaml:"id"`
	Name               string   `json:"name" yaml:"name"`
	DisplayName        string   `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Type               string   `json:"type,omitempty" yaml:"type,omitempty"`
	IconURI            string   `json:"iconUri,omitempty" yaml:"iconUri,omitempty"`
	Owner              string   `json:"owner" yaml:"owner"`
	OwnerManagedAccess bool     `json:"ownerManagedAccess" yaml:"ownerManagedAccess"`
	ScopeIDs           []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	ResourceServerID   string   `json:"resourceServer" yaml:"resourceServer"`
}

// HasScope reports whether the resource defines the given scope
func (r *Resource) HasScope(scopeID string) bool {
	for _, s := range r.ScopeIDs {
		if s == scopeID {
			return true
		}
	}
	return false
}

// ToMap converts the resource to a map for CEL evaluation
func (r *Resource) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"id":    r.ID,
		"name":  r.Name,
		"type":  r.Type,
		"owner": r.Owner,
	}
}

// Scope is a named capability defined on a resource server.
type Scope struct {
	ID               string `json:"id" yaml:"id"`
	Name             string `json:"name" yaml:"name"`
	ResourceServerID string `json:"resourceServer" yaml:"resourceServer"`
}

// Identity is the entity requesting access.
type Identity struct {
	ID         string              `json:"id"`
	Username   string              `json:"username,omitempty"`
	Roles      []string            `json:"roles,omitempty"`
	Groups     []string            `json:"groups,omitempty"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// HasRole checks if the identity carries a specific role
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// InGroup checks if the identity is a member of the given group path
func (i *Identity) InGroup(group string) bool {
	for _, g := range i.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// ToMap converts the identity to a map for CEL evaluation
func (i *Identity) ToMap() map[string]interface{} {
	attrs := make(map[string]interface{}, len(i.Attributes))
	for k, v := range i.Attributes {
		attrs[k] = v
	}
	return map[string]interface{}{
		"id":         i.ID,
		"username":   i.Username,
		"roles":      i.Roles,
		"groups":     i.Groups,
		"attributes": attrs,
		"attr":       attrs, // alias
	}
}

// EvaluationContext carries the identity and runtime attributes used as
// evaluation input. Now is pinned once per request so time policies see a
// single instant across the whole evaluation.
type EvaluationContext struct {
	Identity   *Identity           `json:"identity"`
	Realm      string              `json:"realm,omitempty"`
	Now        time.Time           `json:"-"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// Attribute resolves a runtime attribute, falling back to identity
// attributes. Returns nil when the key is absent.
func (c *EvaluationContext) Attribute(key string) []string {
	if v, ok := c.Attributes[key]; ok {
		return v
	}
	if c.Identity != nil {
		if v, ok := c.Identity.Attributes[key]; ok {
			return v
		}
	}
	return nil
}

// Time returns the pinned evaluation instant, defaulting to the wall clock
func (c *EvaluationContext) Time() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

// ToMap converts the runtime context to a map for CEL evaluation
func (c *EvaluationContext) ToMap() map[string]interface{} {
	attrs := make(map[string]interface{}, len(c.Attributes))
	for k, v := range c.Attributes {
		attrs[k] = v
	}
	return map[string]interface{}{
		"realm":      c.Realm,
		"attributes": attrs,
	}
}

// ResourcePermission is the transient evaluation unit: a resource (nil for a
// scope-only pseudo-resource) plus the set of requested scopes.
type ResourcePermission struct {
	Resource *Resource
	Scopes   []*Scope
}

// ScopeIDs returns the requested scope IDs
func (p *ResourcePermission) ScopeIDs() []string {
	ids := make([]string, 0, len(p.Scopes))
	for _, s := range p.Scopes {
		ids = append(ids, s.ID)
	}
	return ids
}

// CacheKey produces a stable key for the (context, permission) pair.
// Everything evaluation can read must feed the key: roles, groups, identity
// attributes and runtime attributes, each sorted so equivalent requests
// hash identically and requests differing in any input never collide.
func (p *ResourcePermission) CacheKey(ctx *EvaluationContext) string {
	roles := append([]string(nil), ctx.Identity.Roles...)
	sort.Strings(roles)
	groups := append([]string(nil), ctx.Identity.Groups...)
	sort.Strings(groups)
	scopes := p.ScopeIDs()
	sort.Strings(scopes)

	resourceID := ""
	if p.Resource != nil {
		resourceID = p.Resource.ID
	}

	key := strings.Join([]string{
		ctx.Identity.ID,
		ctx.Realm,
		strings.Join(roles, ","),
		strings.Join(groups, ","),
		flattenAttributes(ctx.Identity.Attributes),
		flattenAttributes(ctx.Attributes),
		resourceID,
		strings.Join(scopes, ","),
	}, ":")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

// flattenAttributes encodes a multi-value attribute map deterministically
func flattenAttributes(attrs map[string][]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		values := append([]string(nil), attrs[k]...)
		sort.Strings(values)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(values, "|"))
		b.WriteByte(';')
	}
	return b.String()
}

// Permission is a final grant: a resource and the scopes granted on it.
type Permission struct {
	ResourceID   string   `json:"resourceId,omitempty"`
	ResourceName string   `json:"resourceName,omitempty"`
	ScopeIDs     []string `json:"scopes,omitempty"`
	Granted      bool     `json:"granted"`
}

// HasScope reports whether the grant covers a scope
func (p *Permission) HasScope(scopeID string) bool {
	for _, s := range p.ScopeIDs {
		if s == scopeID {
			return true
		}
	}
	return false
}

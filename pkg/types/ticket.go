package types

import "time"

// Canonical filter keys for permission ticket queries. Outer layers must use
// these names; the stores treat them as opaque field selectors.
const (
	FilterResource    = "RESOURCE"
	FilterScope       = "SCOPE"
	FilterScopeIsNull = "SCOPE_IS_NULL"
	FilterOwner       = "OWNER"
	FilterRequester   = "REQUESTER"
	FilterGranted     = "GRANTED"
	FilterPolicyID    = "POLICY_ID"
)

// PermissionTicket represents one (resource, scope, requester) sharing
// grant or request. ScopeID is empty for an all-scopes ticket. At most one
// ticket may exist per (resource, scope, requester) triple.
type PermissionTicket struct {
	ID               string     `json:"id"`
	ResourceID       string     `json:"resource"`
	ScopeID          string     `json:"scope,omitempty"`
	Owner            string     `json:"owner"`
	Requester        string     `json:"requester"`
	Granted          bool       `json:"granted"`
	CreatedTimestamp time.Time  `json:"createdTimestamp"`
	GrantedTimestamp *time.Time `json:"grantedTimestamp,omitempty"`
	ResourceServerID string     `json:"resourceServer"`
}

// Pending reports whether the ticket is still awaiting a grant
func (t *PermissionTicket) Pending() bool {
	return !t.Granted
}

// TripleKey identifies the uniqueness triple of a ticket
func (t *PermissionTicket) TripleKey() string {
	return t.ResourceID + "\x00" + t.ScopeID + "\x00" + t.Requester
}

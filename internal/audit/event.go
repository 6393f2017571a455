// Package audit records authorization decisions and ticket lifecycle
// changes for after-the-fact review.
package audit

import (
	"time"
)

// EventType classifies audit events
type EventType string

const (
	EventTypeDecision       EventType = "authorization_decision"
	EventTypeTicket         EventType = "permission_ticket"
	EventTypeGroupSync      EventType = "group_sync"
	EventTypeSystemStartup  EventType = "system_startup"
	EventTypeSystemShutdown EventType = "system_shutdown"
)

// Event is the generic envelope for non-domain events
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	EventID   string                 `json:"event_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// DecisionEvent records one authorization decision
type DecisionEvent struct {
	Timestamp  time.Time   `json:"timestamp"`
	EventType  EventType   `json:"event_type"`
	EventID    string      `json:"event_id"`
	Identity   string      `json:"identity"`
	Realm      string      `json:"realm,omitempty"`
	Resource   string      `json:"resource"`
	Scopes     []string    `json:"scopes,omitempty"`
	Granted    bool        `json:"granted"`
	OwnerGrant bool        `json:"owner_grant,omitempty"`
	Policies   []string    `json:"policies,omitempty"`
	Duration   Performance `json:"performance"`
}

// TicketEvent records one permission ticket lifecycle operation
type TicketEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	EventID   string    `json:"event_id"`
	Operation string    `json:"operation"` // create, update, delete
	TicketID  string    `json:"ticket_id"`
	Resource  string    `json:"resource,omitempty"`
	Scope     string    `json:"scope,omitempty"`
	Owner     string    `json:"owner,omitempty"`
	Requester string    `json:"requester,omitempty"`
	Actor     string    `json:"actor"`
	Granted   bool      `json:"granted,omitempty"`
}

// SyncEvent records one group reconciliation run
type SyncEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	EventID   string    `json:"event_id"`
	Direction string    `json:"direction"` // import, export
	Added     int       `json:"added"`
	Updated   int       `json:"updated"`
	Removed   int       `json:"removed"`
	Failed    int       `json:"failed"`
}

// Performance carries decision timing
type Performance struct {
	DurationUs int64 `json:"duration_us"`
	CacheHit   bool  `json:"cache_hit"`
}

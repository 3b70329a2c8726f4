package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - campaign_id is required; every audited action is campaign scoped.
// - actor and ip capture are best-effort; do not block critical flows on audit failures.
//
// Storage (Postgres): table audit_events with an INSERT-only policy.
type Event struct {
	ID         string    `json:"id" db:"id"`
	CampaignID string    `json:"campaign_id" db:"campaign_id"`
	Type       EventType `json:"type" db:"type"`

	// ActorID is the authenticated user, or "system" for recovery actions.
	ActorID   string `json:"actor_id,omitempty" db:"actor_id"`
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	AgentID   string `json:"agent_id,omitempty" db:"agent_id"`
	SessionID string `json:"session_id,omitempty" db:"session_id"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeForcedDisposition EventType = "forced_disposition"
	EventTypeCampaignCommand   EventType = "campaign_command"
	EventTypeTargetChange      EventType = "target_drop_rate_change"
	EventTypeCallDropped       EventType = "call_dropped"
)

const ActorSystem = "system"

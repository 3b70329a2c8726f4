package events

import "time"

// Event is an outbound notification emitted by the dialer core.
//
// Events are facts about what already happened; they never carry commands.
// Transport (log stream, pub/sub, push channel) is chosen by the sinks attached to the Bus.
type Event struct {
	ID   string    `json:"id"`
	Type Type      `json:"type"`
	At   time.Time `json:"at"`

	CampaignID string `json:"campaign_id,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`

	// From/To carry state names for transition events.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	Capacity int `json:"capacity,omitempty"`
	Occupied int `json:"occupied,omitempty"`

	Observed float64 `json:"observed,omitempty"`
	Smoothed float64 `json:"smoothed,omitempty"`
	Target   float64 `json:"target,omitempty"`

	// Code is a disposition, pause or outcome code depending on Type.
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type Type string

const (
	TypeSessionState      Type = "session.state_changed"
	TypeSessionDialing    Type = "session.dialing"
	TypeSessionTransfer   Type = "session.transfer"
	TypeForcedDisposition Type = "session.forced_disposition"
	TypeSessionArchived   Type = "session.archived"
	TypeCallDialed        Type = "call.dialed"
	TypeCallDropped       Type = "call.dropped"
	TypeCapacityChanged   Type = "pacing.capacity_changed"
	TypeDropRateSample    Type = "pacing.drop_rate_sample"
	TypeSlotsExhausted    Type = "slots.exhausted"
	TypeSlotsOccupancy    Type = "slots.occupancy"
	TypeCampaignStatus    Type = "campaign.status_changed"
)

// Reasons of TypeCapacityChanged events that come from pause and resume rather
// than from a pacing adjustment.
const (
	ReasonSuspend = "suspend"
	ReasonResume  = "resume"
)

// Publisher accepts events. Implementations must not block the caller.
type Publisher interface {
	Publish(e Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(e Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})

// OrDiscard returns p, or Discard when p is nil.
func OrDiscard(p Publisher) Publisher {
	if p == nil {
		return Discard
	}
	return p
}

package session

import (
	"errors"
	"fmt"
	"time"

	"dialer-platform/internal/stats"

	"github.com/google/uuid"
)

// State is the position of an agent's call-session machine.
//
//	Ready -> Ringing -> InCall{talking|on hold} -> Wrapup -> Ready
//	InCall -> Transferring -> Wrapup
//	Ready <-> Paused
type State int

const (
	StateReady State = iota
	StatePaused
	StateRinging
	StateInCall
	StateTransferring
	StateWrapup
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StateRinging:
		return "ringing"
	case StateInCall:
		return "in_call"
	case StateTransferring:
		return "transferring"
	case StateWrapup:
		return "wrapup"
	default:
		return "unknown"
	}
}

// Active reports whether a call is bound to the agent in this state.
func (s State) Active() bool {
	switch s {
	case StateRinging, StateInCall, StateTransferring, StateWrapup:
		return true
	default:
		return false
	}
}

// TransferPolicy decides what happens to the origin agent after a successful transfer.
type TransferPolicy string

const (
	// TransferBlind disconnects the origin agent immediately (origin goes to Wrapup).
	TransferBlind TransferPolicy = "blind"
	// TransferConsult keeps the origin bridged as a third party until it hangs up.
	TransferConsult TransferPolicy = "consult"
)

func (p TransferPolicy) Valid() bool {
	return p == TransferBlind || p == TransferConsult
}

// Session is one outbound call attempt, bound to at most one agent.
type Session struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	AgentID    string `json:"agent_id,omitempty"`
	LeadRef    string `json:"lead_ref"`

	// AttemptID is the telephony attempt handle; SlotID the dial slot backing the call.
	AttemptID string `json:"attempt_id,omitempty"`
	SlotID    string `json:"slot_id,omitempty"`

	State State `json:"state"`

	StartedAt   time.Time  `json:"started_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`

	Muted  bool `json:"muted"`
	OnHold bool `json:"on_hold"`

	HoldDuration  time.Duration `json:"hold_duration"`
	holdStartedAt time.Time

	TransferTargetID string         `json:"transfer_target_id,omitempty"`
	TransferPolicy   TransferPolicy `json:"transfer_policy,omitempty"`
	// TransferredFrom is the origin session id when this session was created by a transfer.
	TransferredFrom string `json:"transferred_from,omitempty"`

	// CarrierOutcome is set when the signaling layer ended the call with a failure.
	CarrierOutcome stats.Outcome `json:"carrier_outcome,omitempty"`

	Disposition       string        `json:"disposition,omitempty"`
	ForcedDisposition bool          `json:"forced_disposition,omitempty"`
	Outcome           stats.Outcome `json:"outcome,omitempty"`
	EndReason         string        `json:"end_reason,omitempty"`
}

// New creates an unassigned session for a lead.
func New(campaignID, leadRef string, now time.Time) Session {
	return Session{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		LeadRef:    leadRef,
		State:      StateReady,
		StartedAt:  now,
	}
}

// TalkDuration is connected time until the call ended, excluding hold.
func (s Session) TalkDuration() time.Duration {
	if s.ConnectedAt == nil || s.EndedAt == nil {
		return 0
	}
	d := s.EndedAt.Sub(*s.ConnectedAt) - s.HoldDuration
	if d < 0 {
		return 0
	}
	return d
}

// WrapDuration is time spent in wrap-up before archival.
func (s Session) WrapDuration() time.Duration {
	if s.EndedAt == nil || s.ArchivedAt == nil {
		return 0
	}
	return s.ArchivedAt.Sub(*s.EndedAt)
}

var (
	ErrInvalidTransition  = errors.New("session: invalid transition")
	ErrNotRinging         = errors.New("session: not ringing")
	ErrNotInCall          = errors.New("session: not in call")
	ErrTargetUnavailable  = errors.New("session: transfer target unavailable")
	ErrMissingDisposition = errors.New("session: missing disposition")
	ErrUnknownPauseCode   = errors.New("session: unknown pause code")
)

// TransitionError reports a rejected command together with the state it was rejected in.
// The machine state is unchanged when one is returned.
type TransitionError struct {
	Op   string
	From State
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s from %s: %v", e.Op, e.From, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

func reject(op string, from State, err error) error {
	return &TransitionError{Op: op, From: from, Err: err}
}

package telephony

import (
	"context"
	"errors"
	"time"

	"dialer-platform/internal/stats"
)

// Dialer is the only boundary between the dialer core and a signaling layer.
//
// Rules:
// - Dial returns as soon as the attempt is placed; outcomes arrive later through an OutcomeHandler.
// - No provider SDK calls outside telephony adapters.
// - The core never interprets SIP/RTP; adapters translate provider events into Outcome values.
type Dialer interface {
	Name() string
	Dial(ctx context.Context, req DialRequest) (attemptID string, err error)
	// Hangup tears down whatever is left of the attempt. Must be idempotent.
	Hangup(ctx context.Context, attemptID string) error
}

// ErrTrunkBusy means the shared trunk cap is exhausted. It is backpressure like slot Busy.
var ErrTrunkBusy = errors.New("telephony: trunk busy")

type DialRequest struct {
	CampaignID string `json:"campaign_id"`
	SessionID  string `json:"session_id"`
	LeadRef    string `json:"lead_ref"`

	// To is the lead number, E.164 where possible.
	To string `json:"to"`
	// CallerID is the presented number.
	CallerID string `json:"caller_id,omitempty"`
}

// Outcome is what the signaling layer reports for an attempt.
type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	// OutcomeAbandoned is a customer hangup before an agent was bridged.
	OutcomeAbandoned Outcome = "abandoned"
	// OutcomeCompleted is a remote hangup after the call was bridged.
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeBusy      Outcome = "busy"
	OutcomeNoAnswer  Outcome = "no_answer"
	// OutcomeMachine is an answering machine detected by the carrier.
	OutcomeMachine Outcome = "machine"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeAnswered, OutcomeAbandoned, OutcomeCompleted, OutcomeFailed, OutcomeBusy, OutcomeNoAnswer, OutcomeMachine:
		return true
	default:
		return false
	}
}

// Carrier maps a failed-before-contact outcome to the stats outcome it counts as.
// ok is false for outcomes that involve a live party.
func (o Outcome) Carrier() (stats.Outcome, bool) {
	switch o {
	case OutcomeFailed, OutcomeMachine:
		return stats.OutcomeFailed, true
	case OutcomeBusy:
		return stats.OutcomeBusy, true
	case OutcomeNoAnswer:
		return stats.OutcomeNoAnswer, true
	default:
		return "", false
	}
}

// OutcomeEvent is one report from the signaling layer.
type OutcomeEvent struct {
	AttemptID  string    `json:"attempt_id"`
	Outcome    Outcome   `json:"outcome"`
	OccurredAt time.Time `json:"occurred_at"`
	// Raw is the provider payload, JSON encoded, for debugging.
	Raw string `json:"raw,omitempty"`
}

// Bridge tells the signaling layer what to do with an answered call.
type Bridge struct {
	Action BridgeAction `json:"action"`
	// ConnectTo is the agent endpoint (sip:... or a number) when Action is connect.
	ConnectTo string `json:"connect_to,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
}

type BridgeAction string

const (
	BridgeConnect BridgeAction = "connect"
	BridgeHangup  BridgeAction = "hangup"
	BridgeReject  BridgeAction = "reject"
)

// OutcomeHandler consumes outcomes. For answered calls it returns the bridge instruction.
type OutcomeHandler interface {
	HandleOutcome(ctx context.Context, ev OutcomeEvent) (Bridge, error)
}

type OutcomeHandlerFunc func(ctx context.Context, ev OutcomeEvent) (Bridge, error)

func (f OutcomeHandlerFunc) HandleOutcome(ctx context.Context, ev OutcomeEvent) (Bridge, error) {
	return f(ctx, ev)
}

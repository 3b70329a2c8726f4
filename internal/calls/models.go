package calls

import (
	"time"

	"dialer-platform/internal/dispositions"
	"dialer-platform/internal/session"
	"dialer-platform/internal/stats"
)

// Record is an archived call session. Written once, when the disposition is recorded.
//
// Talk, hold and wrap times are stored in whole seconds for reporting; the session keeps
// the precise durations.
type Record struct {
	SessionID  string `json:"session_id" db:"session_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	AgentID    string `json:"agent_id,omitempty" db:"agent_id"`
	LeadRef    string `json:"lead_ref" db:"lead_ref"`
	AttemptID  string `json:"attempt_id,omitempty" db:"attempt_id"`

	Disposition       string        `json:"disposition" db:"disposition"`
	ForcedDisposition bool          `json:"forced_disposition" db:"forced_disposition"`
	Outcome           stats.Outcome `json:"outcome" db:"outcome"`
	IsSale            bool          `json:"is_sale" db:"is_sale"`
	EndReason         string        `json:"end_reason,omitempty" db:"end_reason"`

	TransferredFrom  string `json:"transferred_from,omitempty" db:"transferred_from"`
	TransferTargetID string `json:"transfer_target_id,omitempty" db:"transfer_target_id"`

	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty" db:"connected_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	ArchivedAt  time.Time  `json:"archived_at" db:"archived_at"`

	TalkSeconds int `json:"talk_seconds" db:"talk_seconds"`
	HoldSeconds int `json:"hold_seconds" db:"hold_seconds"`
	WrapSeconds int `json:"wrap_seconds" db:"wrap_seconds"`
}

// FromSession builds the archive row for an archived session.
func FromSession(s session.Session, code dispositions.Code) Record {
	r := Record{
		SessionID:         s.ID,
		CampaignID:        s.CampaignID,
		AgentID:           s.AgentID,
		LeadRef:           s.LeadRef,
		AttemptID:         s.AttemptID,
		Disposition:       s.Disposition,
		ForcedDisposition: s.ForcedDisposition,
		Outcome:           s.Outcome,
		IsSale:            code.IsSale,
		EndReason:         s.EndReason,
		TransferredFrom:   s.TransferredFrom,
		TransferTargetID:  s.TransferTargetID,
		StartedAt:         s.StartedAt,
		ConnectedAt:       s.ConnectedAt,
		EndedAt:           s.EndedAt,
		TalkSeconds:       int(s.TalkDuration() / time.Second),
		HoldSeconds:       int(s.HoldDuration / time.Second),
		WrapSeconds:       int(s.WrapDuration() / time.Second),
	}
	if s.ArchivedAt != nil {
		r.ArchivedAt = *s.ArchivedAt
	} else if s.EndedAt != nil {
		r.ArchivedAt = *s.EndedAt
	} else {
		r.ArchivedAt = s.StartedAt
	}
	return r
}

// Filter selects archived records. Zero values mean "any".
type Filter struct {
	CampaignID string
	AgentID    string
	From       time.Time
	To         time.Time
	Limit      int
}

func (f Filter) match(r Record) bool {
	if f.CampaignID != "" && r.CampaignID != f.CampaignID {
		return false
	}
	if f.AgentID != "" && r.AgentID != f.AgentID {
		return false
	}
	if !f.From.IsZero() && r.ArchivedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.ArchivedAt.Before(f.To) {
		return false
	}
	return true
}

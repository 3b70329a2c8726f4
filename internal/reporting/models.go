package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) Valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

// CampaignSummaryRequest requests aggregated metrics for one campaign.
type CampaignSummaryRequest struct {
	CampaignID string    `json:"campaign_id"`
	Range      TimeRange `json:"range"`
}

type CampaignSummary struct {
	CampaignID string    `json:"campaign_id"`
	Range      TimeRange `json:"range"`

	TotalCalls int `json:"total_calls"`
	Answered   int `json:"answered"`
	Abandoned  int `json:"abandoned"`
	Failed     int `json:"failed"`
	NoAnswer   int `json:"no_answer"`
	Busy       int `json:"busy"`

	Sales              int `json:"sales"`
	ForcedDispositions int `json:"forced_dispositions"`
	// Transfers counts sessions created by a transfer; they are not counted as calls again.
	Transfers int `json:"transfers"`

	DropRate       float64 `json:"drop_rate"`
	ContactRate    float64 `json:"contact_rate"`
	ConversionRate float64 `json:"conversion_rate"`

	TotalTalkSeconds   int `json:"total_talk_seconds"`
	AverageTalkSeconds int `json:"average_talk_seconds"`
	AverageHoldSeconds int `json:"average_hold_seconds"`
	AverageWrapSeconds int `json:"average_wrap_seconds"`

	ByDisposition map[string]int `json:"by_disposition"`
}

// AgentSummary aggregates the sessions one agent handled.
type AgentSummary struct {
	AgentID string `json:"agent_id"`

	Calls     int `json:"calls"`
	Sales     int `json:"sales"`
	Transfers int `json:"transfers_out"`

	TotalTalkSeconds   int `json:"total_talk_seconds"`
	AverageTalkSeconds int `json:"average_talk_seconds"`
	AverageWrapSeconds int `json:"average_wrap_seconds"`
}

package campaign

import (
	"dialer-platform/internal/pacing"
	"dialer-platform/internal/session"
	"dialer-platform/internal/stats"
)

// RealTime is the live view of a campaign.
type RealTime struct {
	CampaignID string        `json:"campaign_id"`
	Name       string        `json:"name,omitempty"`
	Status     Status        `json:"status"`
	Method     pacing.Method `json:"dial_method"`

	CallsActive  int `json:"calls_active"`
	CallsDialing int `json:"calls_dialing"`
	CallsBridged int `json:"calls_bridged"`

	AgentsOnline  int `json:"agents_online"`
	AgentsReady   int `json:"agents_ready"`
	AgentsPaused  int `json:"agents_paused"`
	AgentsRinging int `json:"agents_ringing"`
	AgentsInCall  int `json:"agents_in_call"`
	AgentsWrapup  int `json:"agents_wrapup"`

	SalesToday      int `json:"sales_today"`
	Dialed          int `json:"dialed"`
	Dropped         int `json:"dropped"`
	HopperAvailable int `json:"hopper_available"`

	Window   stats.Counts `json:"window"`
	DropRate float64      `json:"drop_rate"`
	Pacing   pacing.State `json:"pacing"`
}

func (r *Runtime) Snapshot() RealTime {
	out := RealTime{
		CampaignID:      r.def.ID,
		Name:            r.def.Name,
		Method:          r.def.Pacing.Method,
		CallsActive:     r.pool.Occupied(),
		HopperAvailable: r.hopper.Len(),
		Window:          r.window.Snapshot(),
		Pacing:          r.controller.State(),
	}
	out.CallsDialing, out.CallsBridged = r.pool.Counts()
	out.DropRate = out.Window.DropRate()

	for _, st := range r.Agents() {
		out.AgentsOnline++
		switch st.State {
		case session.StateReady:
			out.AgentsReady++
		case session.StatePaused:
			out.AgentsPaused++
		case session.StateRinging:
			out.AgentsRinging++
		case session.StateInCall, session.StateTransferring:
			out.AgentsInCall++
		case session.StateWrapup:
			out.AgentsWrapup++
		}
	}

	today := r.clock.Now().Format("2006-01-02")
	r.mu.Lock()
	out.Status = r.status
	out.Dialed = r.dialed
	out.Dropped = r.dropped
	if r.salesDay == today {
		out.SalesToday = r.salesToday
	}
	r.mu.Unlock()
	return out
}

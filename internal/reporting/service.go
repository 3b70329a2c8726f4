package reporting

import (
	"context"
	"errors"
	"sort"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/stats"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. calls.Repository satisfies it.
type Repository interface {
	List(ctx context.Context, f calls.Filter) ([]calls.Record, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) load(ctx context.Context, req CampaignSummaryRequest) ([]calls.Record, error) {
	if req.CampaignID == "" || !req.Range.Valid() {
		return nil, ErrInvalidRequest
	}
	if s.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}
	return s.repo.List(ctx, calls.Filter{CampaignID: req.CampaignID, From: req.Range.From, To: req.Range.To})
}

func (s *Service) CampaignSummary(ctx context.Context, req CampaignSummaryRequest) (CampaignSummary, error) {
	rows, err := s.load(ctx, req)
	if err != nil {
		return CampaignSummary{}, err
	}

	out := CampaignSummary{CampaignID: req.CampaignID, Range: req.Range, ByDisposition: map[string]int{}}
	var holdTotal, wrapTotal, handled int
	for _, r := range rows {
		out.ByDisposition[r.Disposition]++
		if r.ForcedDisposition {
			out.ForcedDispositions++
		}
		if r.IsSale {
			out.Sales++
		}
		if r.AgentID != "" {
			handled++
			out.TotalTalkSeconds += r.TalkSeconds
			holdTotal += r.HoldSeconds
			wrapTotal += r.WrapSeconds
		}
		if r.TransferredFrom != "" {
			out.Transfers++
			continue
		}
		out.TotalCalls++
		switch r.Outcome {
		case stats.OutcomeAnswered:
			out.Answered++
		case stats.OutcomeAbandoned:
			out.Abandoned++
		case stats.OutcomeFailed:
			out.Failed++
		case stats.OutcomeNoAnswer:
			out.NoAnswer++
		case stats.OutcomeBusy:
			out.Busy++
		}
	}

	counts := stats.Counts{Connected: out.Answered, Abandoned: out.Abandoned}
	out.DropRate = counts.DropRate()
	if out.TotalCalls > 0 {
		out.ContactRate = float64(counts.Contacts()) / float64(out.TotalCalls)
	}
	if out.Answered > 0 {
		out.ConversionRate = float64(out.Sales) / float64(out.Answered)
	}
	if handled > 0 {
		out.AverageTalkSeconds = out.TotalTalkSeconds / handled
		out.AverageHoldSeconds = holdTotal / handled
		out.AverageWrapSeconds = wrapTotal / handled
	}
	return out, nil
}

// AgentSummaries returns one row per agent, sorted by agent id.
func (s *Service) AgentSummaries(ctx context.Context, req CampaignSummaryRequest) ([]AgentSummary, error) {
	rows, err := s.load(ctx, req)
	if err != nil {
		return nil, err
	}

	byAgent := map[string]*AgentSummary{}
	wrap := map[string]int{}
	for _, r := range rows {
		if r.AgentID == "" {
			continue
		}
		a := byAgent[r.AgentID]
		if a == nil {
			a = &AgentSummary{AgentID: r.AgentID}
			byAgent[r.AgentID] = a
		}
		a.Calls++
		a.TotalTalkSeconds += r.TalkSeconds
		wrap[r.AgentID] += r.WrapSeconds
		if r.IsSale {
			a.Sales++
		}
		if r.TransferTargetID != "" {
			a.Transfers++
		}
	}

	out := make([]AgentSummary, 0, len(byAgent))
	for id, a := range byAgent {
		a.AverageTalkSeconds = a.TotalTalkSeconds / a.Calls
		a.AverageWrapSeconds = wrap[id] / a.Calls
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

package audit

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryRepo keeps the audit trail in process, indexed by campaign. Used when no
// database is configured and in tests.
type MemoryRepo struct {
	mu         sync.Mutex
	events     []Event
	ids        map[string]struct{}
	byCampaign map[string][]int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{ids: map[string]struct{}{}, byCampaign: map[string][]int{}}
}

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID != "" {
		if _, dup := r.ids[e.ID]; dup {
			return fmt.Errorf("audit: event %s already recorded", e.ID)
		}
		r.ids[e.ID] = struct{}{}
	}
	r.byCampaign[e.CampaignID] = append(r.byCampaign[e.CampaignID], len(r.events))
	r.events = append(r.events, e)
	return nil
}

// ListByCampaign returns the campaign's events newest first.
func (r *MemoryRepo) ListByCampaign(_ context.Context, q Query) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.byCampaign[q.CampaignID]
	out := make([]Event, 0)
	for i := len(idx) - 1; i >= 0; i-- {
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
		e := r.events[idx[i]]
		if len(q.Types) > 0 && !slices.Contains(q.Types, e.Type) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Events returns every event in append order.
func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

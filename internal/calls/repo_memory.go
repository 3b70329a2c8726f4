package calls

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo keeps records in process. Used in tests and when no database is configured.
type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{records: map[string]Record{}} }

func (r *MemoryRepo) Insert(_ context.Context, rec Record) error {
	if rec.SessionID == "" || rec.CampaignID == "" {
		return ErrInvalidRecord
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.SessionID]; ok {
		return nil
	}
	r.records[rec.SessionID] = rec
	return nil
}

func (r *MemoryRepo) List(_ context.Context, f Filter) ([]Record, error) {
	r.mu.Lock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if f.match(rec) {
			out = append(out, rec)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ArchivedAt.Equal(out[j].ArchivedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].ArchivedAt.Before(out[j].ArchivedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

package slots

import (
	"sort"
	"sync"

	"dialer-platform/internal/events"

	"github.com/google/uuid"
)

// Status of a dial slot.
type Status int

const (
	StatusFree Status = iota
	StatusDialing
	StatusBridged
)

func (s Status) String() string {
	switch s {
	case StatusFree:
		return "free"
	case StatusDialing:
		return "dialing"
	case StatusBridged:
		return "bridged"
	default:
		return "unknown"
	}
}

// Slot is one unit of concurrent outbound-call capacity.
type Slot struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	Status     Status `json:"status"`
	// OccupiedBy is the CallSession id holding the slot.
	OccupiedBy string `json:"occupied_by,omitempty"`
}

// Pool is the per-campaign dial slot pool.
//
// Invariants:
// - occupied slots never exceed capacity at acquisition time
// - capacity may drop below occupancy; existing slots drain, nothing is evicted
// - Release is idempotent
//
// All methods are linearizable through a single mutex.
type Pool struct {
	campaignID string
	events     events.Publisher

	mu       sync.Mutex
	capacity int
	occupied map[string]*Slot

	NewID func() string
}

func NewPool(campaignID string, capacity int, pub events.Publisher) *Pool {
	if capacity < 0 {
		capacity = 0
	}
	return &Pool{
		campaignID: campaignID,
		events:     events.OrDiscard(pub),
		capacity:   capacity,
		occupied:   map[string]*Slot{},
		NewID:      uuid.NewString,
	}
}

// TryAcquire claims a slot in Dialing status for sessionID.
// It returns ok=false (Busy) when occupancy already equals capacity. Busy is backpressure,
// not an error.
func (p *Pool) TryAcquire(sessionID string) (Slot, bool) {
	p.mu.Lock()
	if len(p.occupied) >= p.capacity {
		capacity, occupied := p.capacity, len(p.occupied)
		p.mu.Unlock()
		p.events.Publish(events.Event{
			Type:       events.TypeSlotsExhausted,
			CampaignID: p.campaignID,
			SessionID:  sessionID,
			Capacity:   capacity,
			Occupied:   occupied,
		})
		return Slot{}, false
	}
	s := &Slot{ID: p.NewID(), CampaignID: p.campaignID, Status: StatusDialing, OccupiedBy: sessionID}
	p.occupied[s.ID] = s
	out := *s
	capacity, occupied := p.capacity, len(p.occupied)
	p.mu.Unlock()

	p.publishOccupancy(capacity, occupied)
	return out, true
}

// MarkBridged moves an occupied slot from Dialing to Bridged.
// Returns false if the slot is not occupied (already released).
func (p *Pool) MarkBridged(slotID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.occupied[slotID]
	if !ok {
		return false
	}
	s.Status = StatusBridged
	return true
}

// Reassign moves slot ownership to another session (used when a call is transferred).
func (p *Pool) Reassign(slotID, sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.occupied[slotID]
	if !ok {
		return false
	}
	s.OccupiedBy = sessionID
	return true
}

// Release frees a slot. Releasing an unknown or already free slot is a no-op.
// Returns true only when this call actually freed the slot.
func (p *Pool) Release(slotID string) bool {
	p.mu.Lock()
	if _, ok := p.occupied[slotID]; !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.occupied, slotID)
	capacity, occupied := p.capacity, len(p.occupied)
	p.mu.Unlock()

	p.publishOccupancy(capacity, occupied)
	return true
}

// SetCapacity changes the limit applied to future acquisitions.
func (p *Pool) SetCapacity(n int) {
	if n < 0 {
		n = 0
	}
	p.mu.Lock()
	p.capacity = n
	p.mu.Unlock()
}

func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

func (p *Pool) Occupied() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.occupied)
}

// Available is the number of acquisitions that would currently succeed.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := p.capacity - len(p.occupied); n > 0 {
		return n
	}
	return 0
}

// Counts returns occupied slots split by status.
func (p *Pool) Counts() (dialing, bridged int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.occupied {
		switch s.Status {
		case StatusDialing:
			dialing++
		case StatusBridged:
			bridged++
		}
	}
	return dialing, bridged
}

// Get returns the slot if it is occupied.
func (p *Pool) Get(slotID string) (Slot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.occupied[slotID]
	if !ok {
		return Slot{CampaignID: p.campaignID, Status: StatusFree}, false
	}
	return *s, true
}

// Snapshot lists occupied slots ordered by id.
func (p *Pool) Snapshot() []Slot {
	p.mu.Lock()
	out := make([]Slot, 0, len(p.occupied))
	for _, s := range p.occupied {
		out = append(out, *s)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Pool) publishOccupancy(capacity, occupied int) {
	p.events.Publish(events.Event{
		Type:       events.TypeSlotsOccupancy,
		CampaignID: p.campaignID,
		Capacity:   capacity,
		Occupied:   occupied,
	})
}

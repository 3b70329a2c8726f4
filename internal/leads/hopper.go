package leads

import (
	"strings"
	"sync"
)

// Lead is an opaque handle into the external CRM plus the number to dial.
type Lead struct {
	Ref      string `json:"ref" yaml:"ref"`
	Phone    string `json:"phone" yaml:"phone"`
	Name     string `json:"name,omitempty" yaml:"name"`
	Attempts int    `json:"attempts"`
}

// Hopper is the FIFO of leads ready to dial for one campaign.
// Duplicate refs already queued and refs on the do-not-call list are skipped.
type Hopper struct {
	maxAttempts int

	mu      sync.Mutex
	queue   []Lead
	queued  map[string]struct{}
	blocked map[string]struct{}
}

// NewHopper returns an empty hopper. maxAttempts <= 0 means a lead is dialed once.
func NewHopper(maxAttempts int) *Hopper {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Hopper{
		maxAttempts: maxAttempts,
		queued:      map[string]struct{}{},
		blocked:     map[string]struct{}{},
	}
}

// Add enqueues leads and returns how many were accepted.
func (h *Hopper) Add(leads ...Lead) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, l := range leads {
		l.Ref = strings.TrimSpace(l.Ref)
		if l.Ref == "" {
			continue
		}
		if _, ok := h.blocked[l.Ref]; ok {
			continue
		}
		if _, ok := h.queued[l.Ref]; ok {
			continue
		}
		h.queue = append(h.queue, l)
		h.queued[l.Ref] = struct{}{}
		n++
	}
	return n
}

// Next pops the oldest lead and counts the attempt.
func (h *Hopper) Next() (Lead, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return Lead{}, false
	}
	l := h.queue[0]
	h.queue[0] = Lead{}
	h.queue = h.queue[1:]
	delete(h.queued, l.Ref)
	l.Attempts++
	return l, true
}

// Requeue puts a lead back at the tail (callback, no answer) unless it is out of attempts
// or blocked.
func (h *Hopper) Requeue(l Lead) bool {
	if l.Attempts >= h.maxAttempts {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.blocked[l.Ref]; ok {
		return false
	}
	if _, ok := h.queued[l.Ref]; ok {
		return false
	}
	h.queue = append(h.queue, l)
	h.queued[l.Ref] = struct{}{}
	return true
}

// Block adds ref to the do-not-call list and drops it from the queue.
func (h *Hopper) Block(ref string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blocked[ref] = struct{}{}
	if _, ok := h.queued[ref]; !ok {
		return
	}
	delete(h.queued, ref)
	out := h.queue[:0]
	for _, l := range h.queue {
		if l.Ref != ref {
			out = append(out, l)
		}
	}
	h.queue = out
}

func (h *Hopper) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

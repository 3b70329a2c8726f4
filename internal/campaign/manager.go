package campaign

import (
	"context"
	"errors"
	"sort"
	"sync"

	"dialer-platform/internal/config"
	"dialer-platform/internal/telephony"

	"golang.org/x/sync/errgroup"
)

// Manager holds every campaign runtime of the process and routes telephony outcomes
// to the campaign that placed the attempt.
type Manager struct {
	mu       sync.RWMutex
	runtimes map[string]*Runtime
}

func NewManager() *Manager {
	return &Manager{runtimes: map[string]*Runtime{}}
}

// NewManagerFromConfig builds one runtime per campaign definition.
func NewManagerFromConfig(cs []config.Campaign, d config.DialerConfig, deps Deps) (*Manager, error) {
	m := NewManager()
	for _, c := range cs {
		def, err := FromConfig(c, d)
		if err != nil {
			return nil, err
		}
		r, err := New(def, deps)
		if err != nil {
			return nil, err
		}
		if err := m.Add(r); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) Add(r *Runtime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runtimes[r.ID()]; ok {
		return ErrDuplicate
	}
	m.runtimes[r.ID()] = r
	return nil
}

func (m *Manager) Get(id string) (*Runtime, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runtimes[id]
	if !ok {
		return nil, ErrUnknownCampaign
	}
	return r, nil
}

// List returns runtimes ordered by id.
func (m *Manager) List() []*Runtime {
	m.mu.RLock()
	out := make([]*Runtime, 0, len(m.runtimes))
	for _, r := range m.runtimes {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// HandleOutcome implements telephony.OutcomeHandler.
func (m *Manager) HandleOutcome(ctx context.Context, ev telephony.OutcomeEvent) (telephony.Bridge, error) {
	for _, r := range m.List() {
		if !r.Owns(ev.AttemptID) {
			continue
		}
		return r.HandleOutcome(ctx, ev)
	}
	return telephony.Bridge{Action: telephony.BridgeHangup}, ErrUnknownAttempt
}

// Run runs every campaign loop until ctx is done or one of them fails.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range m.List() {
		g.Go(func() error { return r.Run(gctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

package pacing

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"dialer-platform/internal/clock"
	"dialer-platform/internal/events"
	"dialer-platform/internal/stats"
)

var (
	// ErrInsufficientData means the window had no contacts; nothing was adjusted.
	ErrInsufficientData = errors.New("pacing: insufficient data")
	// ErrSuspended means the controller is paused with its campaign.
	ErrSuspended = errors.New("pacing: suspended")
)

// Method is the campaign dial method.
type Method string

const (
	MethodPredictive Method = "PREDICTIVE"
	MethodRatio      Method = "RATIO"
	MethodManual     Method = "MANUAL"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToUpper(strings.TrimSpace(s))); m {
	case "":
		return MethodPredictive, nil
	case MethodPredictive, MethodRatio, MethodManual:
		return m, nil
	default:
		return "", fmt.Errorf("pacing: unknown dial method %q", s)
	}
}

type Config struct {
	Method Method

	TargetDropRate float64
	Alpha          float64
	KUp            float64
	KDown          float64
	// Deadband is the |error| under which capacity is left alone.
	Deadband float64

	MinCapacity     int
	MaxCapacity     int
	InitialCapacity int

	Cooldown time.Duration

	// DialLevel is lines per eligible agent in RATIO mode.
	DialLevel float64
}

func DefaultConfig() Config {
	return Config{
		Method:          MethodPredictive,
		TargetDropRate:  0.03,
		Alpha:           0.3,
		KUp:             0.2,
		KDown:           0.4,
		MinCapacity:     1,
		MaxCapacity:     50,
		InitialCapacity: 5,
		Cooldown:        10 * time.Second,
		DialLevel:       1.5,
	}
}

func (c Config) Validate() error {
	var errs []string
	if _, err := ParseMethod(string(c.Method)); err != nil {
		errs = append(errs, err.Error())
	}
	if c.TargetDropRate <= 0 || c.TargetDropRate >= 1 {
		errs = append(errs, "target drop rate must be in (0,1)")
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		errs = append(errs, "alpha must be in (0,1]")
	}
	if c.KUp <= 0 || c.KDown <= 0 {
		errs = append(errs, "k_up and k_down must be > 0")
	}
	if c.Deadband < 0 {
		errs = append(errs, "deadband must be >= 0")
	}
	if c.MinCapacity < 0 || c.MaxCapacity < c.MinCapacity || c.MaxCapacity == 0 {
		errs = append(errs, "capacity bounds must satisfy 0 <= min <= max, max > 0")
	}
	if c.Cooldown < 0 {
		errs = append(errs, "cooldown must be >= 0")
	}
	if c.Method == MethodRatio && c.DialLevel <= 0 {
		errs = append(errs, "dial level must be > 0 for RATIO")
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.New("pacing: invalid config: " + strings.Join(errs, "; "))
}

// Window is the read-only view of campaign statistics.
type Window interface {
	Snapshot() stats.Counts
}

// Capacity receives capacity decisions (the campaign's slot pool).
type Capacity interface {
	SetCapacity(n int)
}

// State is a copy of the controller memory.
type State struct {
	Method           Method    `json:"method"`
	TargetDropRate   float64   `json:"target_drop_rate"`
	ObservedDropRate float64   `json:"observed_drop_rate"`
	SmoothedDropRate float64   `json:"smoothed_drop_rate"`
	CurrentCapacity  int       `json:"current_capacity"`
	MinCapacity      int       `json:"min_capacity"`
	MaxCapacity      int       `json:"max_capacity"`
	LastAdjustmentAt time.Time `json:"last_adjustment_at"`
	Suspended        bool      `json:"suspended"`
}

// Decision describes one tick.
type Decision struct {
	Observed    float64
	Smoothed    float64
	Error       float64
	From, To    int
	CoolingDown bool
}

func (d Decision) Adjusted() bool { return d.From != d.To }

type Options struct {
	Clock  clock.Clock
	Events events.Publisher
	Logger *slog.Logger
	// EligibleAgents reports Ready+InCall+Wrapup agents for RATIO mode.
	EligibleAgents func() int
}

// Controller keeps a campaign's observed drop rate near its target by resizing the slot pool.
// It owns its PacingState exclusively. It starts suspended; Resume applies the capacity.
type Controller struct {
	campaignID string
	window     Window
	pool       Capacity
	clock      clock.Clock
	events     events.Publisher
	log        *slog.Logger
	eligible   func() int

	mu        sync.Mutex
	cfg       Config
	capacity  int
	observed  float64
	smoothed  float64
	seeded    bool
	lastAdj   time.Time
	suspended bool
}

func New(campaignID string, cfg Config, window Window, pool Capacity, opts Options) (*Controller, error) {
	if cfg.Method == "" {
		cfg.Method = MethodPredictive
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if window == nil || pool == nil {
		return nil, errors.New("pacing: window and pool are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.EligibleAgents == nil {
		opts.EligibleAgents = func() int { return 0 }
	}
	return &Controller{
		campaignID: campaignID,
		window:     window,
		pool:       pool,
		clock:      clock.OrReal(opts.Clock),
		events:     events.OrDiscard(opts.Events),
		log:        opts.Logger.With("campaign_id", campaignID),
		eligible:   opts.EligibleAgents,
		cfg:        cfg,
		capacity:   clamp(cfg.InitialCapacity, cfg.MinCapacity, cfg.MaxCapacity),
		suspended:  true,
	}, nil
}

// Tick runs one control step. It never blocks on I/O.
func (c *Controller) Tick() (Decision, error) {
	c.mu.Lock()
	if c.suspended {
		c.mu.Unlock()
		return Decision{}, ErrSuspended
	}
	var (
		d   Decision
		err error
	)
	switch c.cfg.Method {
	case MethodManual:
		d = Decision{From: c.capacity, To: c.capacity}
	case MethodRatio:
		d = c.ratioLocked()
	default:
		d, err = c.predictiveLocked()
	}
	if err != nil {
		c.mu.Unlock()
		c.log.Debug("pacing tick skipped", "err", err)
		return d, err
	}
	// Applied under mu so a concurrent Suspend cannot be overwritten.
	if d.Adjusted() {
		c.pool.SetCapacity(d.To)
		c.events.Publish(events.Event{
			Type:       events.TypeCapacityChanged,
			CampaignID: c.campaignID,
			Capacity:   d.To,
			Observed:   d.Observed,
			Smoothed:   d.Smoothed,
			Reason:     fmt.Sprintf("%d->%d", d.From, d.To),
		})
	}
	c.mu.Unlock()

	if d.Adjusted() {
		c.log.Info("pacing capacity adjusted",
			"from", d.From, "to", d.To,
			"observed", d.Observed, "smoothed", d.Smoothed, "error", d.Error,
		)
	}
	return d, nil
}

func (c *Controller) predictiveLocked() (Decision, error) {
	counts := c.window.Snapshot()
	if counts.Contacts() == 0 {
		return Decision{From: c.capacity, To: c.capacity, Smoothed: c.smoothed}, ErrInsufficientData
	}
	c.observed = counts.DropRate()
	if !c.seeded {
		c.smoothed = c.observed
		c.seeded = true
	} else {
		c.smoothed = c.cfg.Alpha*c.observed + (1-c.cfg.Alpha)*c.smoothed
	}
	e := c.smoothed - c.cfg.TargetDropRate
	d := Decision{Observed: c.observed, Smoothed: c.smoothed, Error: e, From: c.capacity, To: c.capacity}

	c.events.Publish(events.Event{
		Type:       events.TypeDropRateSample,
		CampaignID: c.campaignID,
		Capacity:   c.capacity,
		Observed:   c.observed,
		Smoothed:   c.smoothed,
		Target:     c.cfg.TargetDropRate,
	})

	now := c.clock.Now()
	if !c.lastAdj.IsZero() && now.Sub(c.lastAdj) < c.cfg.Cooldown {
		d.CoolingDown = true
		return d, nil
	}

	next := c.capacity
	switch {
	case e > c.cfg.Deadband:
		step := int(math.Ceil(float64(c.capacity) * math.Min(e, 1) * c.cfg.KDown))
		next = c.capacity - max(step, 1)
	case e < -c.cfg.Deadband && c.capacity < c.cfg.MaxCapacity:
		step := int(math.Ceil(float64(c.capacity) * c.cfg.KUp))
		next = c.capacity + max(step, 1)
	}
	next = clamp(next, c.cfg.MinCapacity, c.cfg.MaxCapacity)
	if next != c.capacity {
		c.capacity = next
		c.lastAdj = now
		d.To = next
	}
	return d, nil
}

func (c *Controller) ratioLocked() Decision {
	agents := c.eligible()
	next := clamp(int(math.Ceil(c.cfg.DialLevel*float64(agents))), c.cfg.MinCapacity, c.cfg.MaxCapacity)
	d := Decision{From: c.capacity, To: next}
	if next != c.capacity {
		c.capacity = next
		c.lastAdj = c.clock.Now()
	}
	return d
}

// SetTargetDropRate changes the target mid-run and resets the smoothed rate to the
// currently observed one.
func (c *Controller) SetTargetDropRate(t float64) error {
	if t <= 0 || t >= 1 {
		return fmt.Errorf("pacing: target drop rate %v out of range (0,1)", t)
	}
	counts := c.window.Snapshot()

	c.mu.Lock()
	prev := c.cfg.TargetDropRate
	c.cfg.TargetDropRate = t
	if counts.Contacts() > 0 {
		c.observed = counts.DropRate()
		c.smoothed = c.observed
		c.seeded = true
	} else {
		c.seeded = false
	}
	c.mu.Unlock()

	c.log.Info("pacing target changed", "from", prev, "to", t)
	return nil
}

// Suspend zeroes the pool capacity and stops adjusting. The last capacity is kept.
func (c *Controller) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.suspended
	c.suspended = true
	c.pool.SetCapacity(0)
	if !was {
		c.events.Publish(events.Event{Type: events.TypeCapacityChanged, CampaignID: c.campaignID, Capacity: 0, Reason: events.ReasonSuspend})
	}
}

// Resume re-applies the last known capacity and re-engages the loop.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended = false
	c.pool.SetCapacity(c.capacity)
	c.events.Publish(events.Event{Type: events.TypeCapacityChanged, CampaignID: c.campaignID, Capacity: c.capacity, Reason: events.ReasonResume})
}

func (c *Controller) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Method:           c.cfg.Method,
		TargetDropRate:   c.cfg.TargetDropRate,
		ObservedDropRate: c.observed,
		SmoothedDropRate: c.smoothed,
		CurrentCapacity:  c.capacity,
		MinCapacity:      c.cfg.MinCapacity,
		MaxCapacity:      c.cfg.MaxCapacity,
		LastAdjustmentAt: c.lastAdj,
		Suspended:        c.suspended,
	}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

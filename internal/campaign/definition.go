package campaign

import (
	"fmt"
	"strings"
	"time"

	"dialer-platform/internal/config"
	"dialer-platform/internal/dispositions"
	"dialer-platform/internal/leads"
	"dialer-platform/internal/pacing"
	"dialer-platform/internal/session"
)

// Agent is a roster entry. Identity lives in the external user system; the core only
// needs the id and where to bridge answered calls.
type Agent struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Definition is everything needed to build a Runtime.
type Definition struct {
	ID   string
	Name string

	Pacing  pacing.Config
	Session session.Config

	// AutoAnswer connects an offered call to the agent without waiting for connect().
	AutoAnswer  bool
	CallerID    string
	MaxAttempts int
	// AttemptTimeout closes an unanswered attempt as no-answer when the carrier
	// never reports an outcome for it. Defaults to two minutes.
	AttemptTimeout time.Duration

	Tick             time.Duration
	Window           time.Duration
	WindowMaxSamples int

	Agents []Agent
	Codes  []dispositions.Code
	Leads  []leads.Lead
}

// FromConfig merges a campaign file entry with the process-wide dialer defaults.
func FromConfig(c config.Campaign, d config.DialerConfig) (Definition, error) {
	method, err := pacing.ParseMethod(c.DialMethod)
	if err != nil {
		return Definition{}, err
	}

	p := pacing.DefaultConfig()
	p.Method = method
	setFloat(&p.Alpha, d.Alpha, c.Alpha)
	setFloat(&p.KUp, d.KUp, c.KUp)
	setFloat(&p.KDown, d.KDown, c.KDown)
	setFloat(&p.TargetDropRate, c.TargetDropRate)
	setFloat(&p.DialLevel, c.DialLevel)
	setFloat(&p.Deadband, c.Deadband)
	setDuration(&p.Cooldown, d.Cooldown, c.Cooldown)
	if c.MinCapacity > 0 {
		p.MinCapacity = c.MinCapacity
	}
	if c.MaxCapacity > 0 {
		p.MaxCapacity = c.MaxCapacity
	}
	if c.InitialCapacity > 0 {
		p.InitialCapacity = c.InitialCapacity
	}

	s := session.Config{
		TransferPolicy: session.TransferPolicy(strings.ToLower(c.TransferPolicy)),
		PauseCodes:     c.PauseCodes,
	}
	setDuration(&s.RingTimeout, d.RingTimeout, c.RingTimeout)
	setDuration(&s.WrapupTimeout, d.WrapupTimeout, c.WrapupTimeout)

	def := Definition{
		ID:             c.ID,
		Name:           c.Name,
		Pacing:         p,
		Session:        s,
		AutoAnswer:     c.AutoAnswer,
		CallerID:       c.CallerID,
		MaxAttempts:    c.MaxAttempts,
		AttemptTimeout: c.AttemptTimeout,
		Tick:           d.Tick,
		Window:         d.Window,
		Codes:          c.CallCodes,
		Leads:          c.Leads,
	}
	for _, a := range c.Agents {
		def.Agents = append(def.Agents, Agent{ID: a.ID, Name: a.Name, Endpoint: a.Endpoint})
	}
	if err := def.Pacing.Validate(); err != nil {
		return Definition{}, fmt.Errorf("campaign %q: %w", c.ID, err)
	}
	return def, nil
}

// setFloat applies the last positive value.
func setFloat(dst *float64, vals ...float64) {
	for _, v := range vals {
		if v > 0 {
			*dst = v
		}
	}
}

func setDuration(dst *time.Duration, vals ...time.Duration) {
	for _, v := range vals {
		if v > 0 {
			*dst = v
		}
	}
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"dialer-platform/internal/dispositions"
	"dialer-platform/internal/leads"

	"gopkg.in/yaml.v3"
)

// CampaignsFile is the YAML document listing campaign definitions.
type CampaignsFile struct {
	Campaigns []Campaign `yaml:"campaigns"`
}

// Campaign is one campaign definition. Zero pacing values fall back to DialerConfig
// and the pacing defaults.
type Campaign struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	DialMethod     string  `yaml:"dial_method"`
	TargetDropRate float64 `yaml:"target_drop_rate"`
	DialLevel      float64 `yaml:"dial_level"`

	MinCapacity     int `yaml:"min_capacity"`
	MaxCapacity     int `yaml:"max_capacity"`
	InitialCapacity int `yaml:"initial_capacity"`

	Alpha    float64       `yaml:"alpha"`
	KUp      float64       `yaml:"k_up"`
	KDown    float64       `yaml:"k_down"`
	Deadband float64       `yaml:"deadband"`
	Cooldown time.Duration `yaml:"cooldown"`

	RingTimeout    time.Duration `yaml:"ring_timeout"`
	WrapupTimeout  time.Duration `yaml:"wrapup_timeout"`
	TransferPolicy string        `yaml:"transfer_policy"`
	AutoAnswer     bool          `yaml:"auto_answer"`

	CallerID    string `yaml:"caller_id"`
	MaxAttempts int    `yaml:"max_attempts"`
	// AttemptTimeout bounds how long a dialed lead may go without a carrier outcome.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	Agents     []Agent             `yaml:"agents"`
	CallCodes  []dispositions.Code `yaml:"call_codes"`
	PauseCodes []string            `yaml:"pause_codes"`
	Leads      []leads.Lead        `yaml:"leads"`
}

type Agent struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	// Endpoint is where answered calls are bridged: a SIP URI or a phone number.
	Endpoint string `yaml:"endpoint"`
}

// LoadCampaigns reads and validates a campaigns file.
func LoadCampaigns(path string) ([]Campaign, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open campaigns file: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("config: read campaigns file: %w", err)
	}
	return ParseCampaigns(data)
}

func ParseCampaigns(data []byte) ([]Campaign, error) {
	var doc CampaignsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse campaigns: %w", err)
	}
	if err := ValidateCampaigns(doc.Campaigns); err != nil {
		return nil, err
	}
	return doc.Campaigns, nil
}

// ValidateCampaigns reports every problem at once.
func ValidateCampaigns(cs []Campaign) error {
	var errs []error
	if len(cs) == 0 {
		errs = append(errs, errors.New("at least one campaign is required"))
	}
	seen := map[string]bool{}
	for i, c := range cs {
		prefix := fmt.Sprintf("campaigns[%d]", i)
		if c.ID != "" {
			prefix = fmt.Sprintf("campaign %q", c.ID)
		}
		if strings.TrimSpace(c.ID) == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", prefix))
		} else if seen[c.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate id", prefix))
		}
		seen[c.ID] = true

		switch strings.ToUpper(c.DialMethod) {
		case "", "PREDICTIVE", "RATIO", "MANUAL":
		default:
			errs = append(errs, fmt.Errorf("%s: dial_method must be PREDICTIVE, RATIO or MANUAL, got %q", prefix, c.DialMethod))
		}
		if c.TargetDropRate < 0 || c.TargetDropRate >= 1 {
			errs = append(errs, fmt.Errorf("%s: target_drop_rate must be in [0,1), got %v", prefix, c.TargetDropRate))
		}
		if c.MinCapacity < 0 || c.MaxCapacity < 0 || c.InitialCapacity < 0 {
			errs = append(errs, fmt.Errorf("%s: capacities must be >= 0", prefix))
		}
		if c.MaxCapacity > 0 && c.MinCapacity > c.MaxCapacity {
			errs = append(errs, fmt.Errorf("%s: min_capacity %d exceeds max_capacity %d", prefix, c.MinCapacity, c.MaxCapacity))
		}
		switch strings.ToLower(c.TransferPolicy) {
		case "", "blind", "consult":
		default:
			errs = append(errs, fmt.Errorf("%s: transfer_policy must be blind or consult, got %q", prefix, c.TransferPolicy))
		}

		agents := map[string]bool{}
		for _, a := range c.Agents {
			if strings.TrimSpace(a.ID) == "" {
				errs = append(errs, fmt.Errorf("%s: agent id is required", prefix))
				continue
			}
			if agents[a.ID] {
				errs = append(errs, fmt.Errorf("%s: duplicate agent %q", prefix, a.ID))
			}
			agents[a.ID] = true
		}
		for _, code := range c.CallCodes {
			if strings.TrimSpace(code.ID) == "" {
				errs = append(errs, fmt.Errorf("%s: call code id is required", prefix))
			}
			if code.Category == dispositions.CategorySystem {
				errs = append(errs, fmt.Errorf("%s: call code %q cannot use the SYSTEM category", prefix, code.ID))
			}
		}
	}
	return joinErrors(errs)
}

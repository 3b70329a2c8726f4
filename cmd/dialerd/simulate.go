package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/campaign"
	"dialer-platform/internal/clock"
	"dialer-platform/internal/config"
	"dialer-platform/internal/dispositions"
	"dialer-platform/internal/leads"
	"dialer-platform/internal/pacing"
	"dialer-platform/internal/reporting"
	"dialer-platform/internal/session"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var simStart = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

type simOptions struct {
	CampaignsFile string
	CampaignID    string
	Sequence      string
	Ticks         int
	Tick          time.Duration
	Agents        int
	Leads         int
	Target        float64
	LogLevel      string
}

// simRow is one pacing tick of a simulation run.
type simRow struct {
	Tick     int       `json:"tick"`
	At       time.Time `json:"at"`
	Capacity int       `json:"capacity"`
	Occupied int       `json:"occupied"`
	Observed float64   `json:"observed_drop_rate"`
	Smoothed float64   `json:"smoothed_drop_rate"`
	Ready    int       `json:"agents_ready"`
	InCall   int       `json:"agents_in_call"`
	Wrapup   int       `json:"agents_wrapup"`
	Dialed   int       `json:"dialed"`
	Dropped  int       `json:"dropped"`
	Hopper   int       `json:"hopper_available"`
	Note     string    `json:"note,omitempty"`
}

type simResult struct {
	Campaign string                    `json:"campaign_id"`
	Rows     []simRow                  `json:"ticks"`
	Summary  reporting.CampaignSummary `json:"summary"`
}

func simulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a campaign on a simulated clock",
		Long: `simulate dials a campaign against a scripted outcome sequence and prints the pacing level per tick.
Without --campaigns a sample predictive campaign is generated from --agents and --leads.
Agents in wrap-up record the first selectable call code on the following tick.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := runSimulation(cmd.Context(), simOptions{
				CampaignsFile: viper.GetString("sim-campaigns"),
				CampaignID:    viper.GetString("sim-campaign"),
				Sequence:      viper.GetString("sim-sequence"),
				Ticks:         viper.GetInt("sim-ticks"),
				Tick:          viper.GetDuration("sim-tick"),
				Agents:        viper.GetInt("sim-agents"),
				Leads:         viper.GetInt("sim-leads"),
				Target:        viper.GetFloat64("sim-target"),
				LogLevel:      viper.GetString("sim-log-env"),
			})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			printSimulation(res)
			return nil
		},
	}
	cmd.Flags().String("campaigns", "", "campaigns YAML file")
	cmd.Flags().String("campaign", "", "campaign id in the file (default: first)")
	cmd.Flags().String("sequence", defaultSimSequence, "outcome sequence, outcome:after[:talk],...")
	cmd.Flags().Int("ticks", 40, "pacing ticks to run")
	cmd.Flags().Duration("tick", 3*time.Second, "pacing tick")
	cmd.Flags().Int("agents", 5, "agents in the sample campaign")
	cmd.Flags().Int("leads", 500, "leads in the sample campaign")
	cmd.Flags().Float64("target", 0.03, "target drop rate of the sample campaign")
	cmd.Flags().String("log-env", "production", "log level profile; local or dev enable debug logs on stderr")
	for flag, key := range map[string]string{
		"campaigns": "sim-campaigns",
		"campaign":  "sim-campaign",
		"sequence":  "sim-sequence",
		"ticks":     "sim-ticks",
		"tick":      "sim-tick",
		"agents":    "sim-agents",
		"leads":     "sim-leads",
		"target":    "sim-target",
		"log-env":   "sim-log-env",
	} {
		_ = viper.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
	return cmd
}

func runSimulation(ctx context.Context, opts simOptions) (simResult, error) {
	if opts.Ticks <= 0 {
		return simResult{}, fmt.Errorf("--ticks must be > 0")
	}
	log := logger.NewWriter(opts.LogLevel, os.Stderr)

	c, err := simCampaign(opts)
	if err != nil {
		return simResult{}, err
	}
	def, err := campaign.FromConfig(c, config.DialerConfig{Tick: opts.Tick})
	if err != nil {
		return simResult{}, err
	}
	seq, err := telephony.ParseSequence(opts.Sequence)
	if err != nil {
		return simResult{}, err
	}

	clk := clock.NewFake(simStart)
	repo := calls.NewMemoryRepo()
	sim := telephony.NewSimulatedDialer(clk, seq, log)
	rt, err := campaign.New(def, campaign.Deps{
		Clock:   clk,
		Dialer:  sim,
		Archive: repoArchive{repo: repo},
		Logger:  log,
	})
	if err != nil {
		return simResult{}, err
	}
	sim.SetHandler(rt)
	if err := rt.Start(); err != nil {
		return simResult{}, err
	}

	code, ok := wrapupCode(rt.Catalog())
	if !ok {
		return simResult{}, fmt.Errorf("campaign %q has no selectable call code", def.ID)
	}

	res := simResult{Campaign: def.ID}
	for i := 1; i <= opts.Ticks && ctx.Err() == nil; i++ {
		clk.Advance(def.Tick)
		for _, st := range rt.Agents() {
			if st.State != session.StateWrapup {
				continue
			}
			m, err := rt.Agent(st.AgentID)
			if err != nil {
				continue
			}
			if _, err := m.RecordDisposition(code); err != nil {
				log.Debug("simulated disposition failed", "agent_id", st.AgentID, "err", err)
			}
		}

		d, err := rt.Tick(ctx)
		snap := rt.Snapshot()
		row := simRow{
			Tick:     i,
			At:       clk.Now(),
			Capacity: snap.Pacing.CurrentCapacity,
			Occupied: snap.CallsActive,
			Observed: snap.Pacing.ObservedDropRate,
			Smoothed: snap.Pacing.SmoothedDropRate,
			Ready:    snap.AgentsReady,
			InCall:   snap.AgentsInCall,
			Wrapup:   snap.AgentsWrapup,
			Dialed:   snap.Dialed,
			Dropped:  snap.Dropped,
			Hopper:   snap.HopperAvailable,
		}
		switch {
		case errors.Is(err, pacing.ErrInsufficientData):
			row.Note = "no data"
		case err != nil:
			row.Note = err.Error()
		case d.CoolingDown:
			row.Note = "cooldown"
		case d.Adjusted():
			row.Note = fmt.Sprintf("%d -> %d", d.From, d.To)
		}
		res.Rows = append(res.Rows, row)
	}

	if err := rt.Stop(); err != nil {
		return simResult{}, err
	}
	res.Summary, err = reporting.NewService(repo).CampaignSummary(ctx, reporting.CampaignSummaryRequest{
		CampaignID: def.ID,
		Range:      reporting.TimeRange{From: simStart, To: clk.Now().Add(time.Second)},
	})
	if err != nil {
		return simResult{}, err
	}
	return res, nil
}

func simCampaign(opts simOptions) (config.Campaign, error) {
	if opts.CampaignsFile != "" {
		cs, err := config.LoadCampaigns(opts.CampaignsFile)
		if err != nil {
			return config.Campaign{}, err
		}
		for _, c := range cs {
			if opts.CampaignID == "" || c.ID == opts.CampaignID {
				return c, nil
			}
		}
		return config.Campaign{}, fmt.Errorf("campaign %q not found in %s", opts.CampaignID, opts.CampaignsFile)
	}
	return sampleCampaign(opts.Agents, opts.Leads, opts.Target), nil
}

// sampleCampaign is a predictive campaign with generated agents and leads.
func sampleCampaign(agents, n int, target float64) config.Campaign {
	if agents <= 0 {
		agents = 1
	}
	c := config.Campaign{
		ID:              "sim",
		Name:            "Simulation",
		DialMethod:      string(pacing.MethodPredictive),
		TargetDropRate:  target,
		MinCapacity:     1,
		MaxCapacity:     agents * 4,
		InitialCapacity: agents,
		AutoAnswer:      true,
		MaxAttempts:     3,
		CallCodes: []dispositions.Code{
			{ID: "SALE", Name: "Sale", Category: dispositions.CategoryHuman, IsSale: true, Selectable: true},
			{ID: "NI", Name: "Not interested", Category: dispositions.CategoryHuman, Selectable: true},
		},
	}
	for i := 1; i <= agents; i++ {
		id := fmt.Sprintf("agent-%02d", i)
		c.Agents = append(c.Agents, config.Agent{ID: id, Endpoint: "sip:" + id + "@sim.local"})
	}
	for i := 1; i <= n; i++ {
		c.Leads = append(c.Leads, leads.Lead{Ref: fmt.Sprintf("L%05d", i), Phone: fmt.Sprintf("+1555%07d", i)})
	}
	return c
}

func wrapupCode(cat *dispositions.Catalog) (string, bool) {
	for _, c := range cat.List() {
		if c.Selectable {
			return c.ID, true
		}
	}
	return "", false
}

// repoArchive writes records synchronously; the simulation has no archiver goroutine.
type repoArchive struct {
	repo *calls.MemoryRepo
}

func (a repoArchive) Enqueue(r calls.Record) bool {
	return a.repo.Insert(context.Background(), r) == nil
}

func printSimulation(res simResult) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Tick", "Time", "Capacity", "Active", "Observed", "Smoothed", "Ready", "InCall", "Wrapup", "Dialed", "Dropped", "Hopper", "Note"})
	for _, r := range res.Rows {
		tw.AppendRow(table.Row{
			r.Tick,
			r.At.Format("15:04:05"),
			r.Capacity,
			r.Occupied,
			fmt.Sprintf("%.3f", r.Observed),
			fmt.Sprintf("%.3f", r.Smoothed),
			r.Ready,
			r.InCall,
			r.Wrapup,
			r.Dialed,
			r.Dropped,
			r.Hopper,
			r.Note,
		})
	}
	tw.Render()

	s := res.Summary
	st := table.NewWriter()
	st.SetOutputMirror(os.Stdout)
	st.AppendHeader(table.Row{"Campaign", "Calls", "Answered", "Dropped", "Busy", "No answer", "Sales", "Drop rate"})
	st.AppendRow(table.Row{res.Campaign, s.TotalCalls, s.Answered, s.Abandoned, s.Busy, s.NoAnswer, s.Sales, fmt.Sprintf("%.3f", s.DropRate)})
	st.Render()
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/campaign"
	"dialer-platform/internal/clock"
	"dialer-platform/internal/config"
	"dialer-platform/internal/events"
	"dialer-platform/internal/metrics"
	"dialer-platform/internal/reporting"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"
	"dialer-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const defaultSimSequence = "answered:3s:45s,no_answer:20s,answered:5s:90s,busy:2s"

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dialer with its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth init failed: %w", err)
	}

	var (
		callRepo  calls.Repository = calls.NewMemoryRepo()
		auditRepo audit.Repository = audit.NewMemoryRepo()
		db        *sql.DB
	)
	if cfg.HasDB() {
		db, err = utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		defer db.Close()
		schema := append(append([]string{}, calls.Schema...), audit.Schema...)
		if err := utils.EnsureSchema(ctx, db, schema...); err != nil {
			return fmt.Errorf("postgres schema failed: %w", err)
		}
		callRepo = calls.NewPostgresRepo(db)
		auditRepo = audit.NewPostgresRepo(db)
	} else {
		log.Warn("DB_HOST not set, call archive and audit log are in memory")
	}

	var rdb *redis.Client
	if cfg.HasRedis() {
		rdb, err = utils.OpenRedis(ctx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("redis init failed: %w", err)
		}
		defer rdb.Close()
	}

	archiver := calls.NewArchiver(callRepo, 1024, log)
	auditSvc := audit.NewService(auditRepo)
	auditSink := audit.NewSink(auditSvc, 256, log)
	bus := events.NewBus(events.LogSink{Log: log}, metrics.NewSink(), auditSink)
	var redisSink *events.RedisSink
	if rdb != nil {
		redisSink = events.NewRedisSink(rdb, 1024, log)
		bus.AddSink(redisSink)
	}

	dialer, sim, err := buildDialer(cfg, rdb, log)
	if err != nil {
		return err
	}

	var defs []config.Campaign
	if cfg.Dialer.CampaignsFile != "" {
		defs, err = config.LoadCampaigns(cfg.Dialer.CampaignsFile)
		if err != nil {
			return err
		}
	} else {
		log.Warn("CAMPAIGNS_FILE not set, starting with no campaigns")
	}
	mgr, err := campaign.NewManagerFromConfig(defs, cfg.Dialer, campaign.Deps{
		Clock:   clock.Real(),
		Events:  bus,
		Dialer:  dialer,
		Archive: archiver,
		Logger:  log,
	})
	if err != nil {
		return err
	}
	if sim != nil {
		sim.SetHandler(mgr)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, routeDeps{
		Auth:      authManager,
		Campaigns: mgr,
		Reports:   reporting.NewService(callRepo),
		Audit:     auditSvc,
		Outcomes:  mgr,
		DB:        db,
		Redis:     rdb,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Campaign loops stop before the archiver so their last records are flushed.
	coreCtx, stopCore := context.WithCancel(context.Background())
	defer stopCore()
	archCtx, stopArch := context.WithCancel(context.Background())
	defer stopArch()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return archiver.Run(archCtx) })
	g.Go(func() error { return auditSink.Run(archCtx) })
	if redisSink != nil {
		g.Go(func() error { return redisSink.Run(archCtx) })
	}
	g.Go(func() error { return mgr.Run(coreCtx) })
	g.Go(func() error {
		log.Info("dialer listening", "addr", srv.Addr, "env", cfg.App.Env, "provider", dialer.Name(), "campaigns", len(defs))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		stopCore()
		for _, rt := range mgr.List() {
			if rt.Status() == campaign.StatusRunning || rt.Status() == campaign.StatusPaused {
				if err := rt.Stop(); err != nil {
					log.Warn("campaign stop failed", "campaign_id", rt.ID(), "err", err)
				}
			}
		}
		stopArch()
		return nil
	})

	err = g.Wait()
	st := archiver.Stats()
	log.Info("shutdown complete", "archived", st.Written, "archive_failed", st.Failed, "events_dropped", bus.Dropped())
	return err
}

// buildDialer returns the configured telephony adapter. sim is non-nil for the simulated
// provider and still needs its outcome handler.
func buildDialer(cfg config.Config, rdb *redis.Client, log *slog.Logger) (telephony.Dialer, *telephony.SimulatedDialer, error) {
	var (
		d   telephony.Dialer
		sim *telephony.SimulatedDialer
	)
	switch cfg.Dialer.Provider {
	case "twilio":
		tw, err := telephony.NewTwilioDialer(telephony.TwilioConfig{
			AccountSID:        cfg.Twilio.AccountSID,
			AuthToken:         cfg.Twilio.AuthToken,
			From:              cfg.Twilio.From,
			VoiceURL:          cfg.Twilio.PublicBaseURL + "/webhooks/twilio/voice",
			StatusCallbackURL: cfg.Twilio.PublicBaseURL + "/webhooks/twilio/status",
			MachineDetection:  cfg.Twilio.MachineDetection,
			RingTimeout:       cfg.Dialer.RingTimeout,
		}, nil)
		if err != nil {
			return nil, nil, err
		}
		d = tw
	default:
		steps := cfg.Dialer.SimSequence
		if steps == "" {
			steps = defaultSimSequence
		}
		seq, err := telephony.ParseSequence(steps)
		if err != nil {
			return nil, nil, err
		}
		sim = telephony.NewSimulatedDialer(clock.Real(), seq, log)
		d = sim
	}

	if cfg.Dialer.TrunkCap > 0 {
		capped, err := telephony.NewCappedDialer(d, rdb, "", cfg.Dialer.TrunkCap, 0, log)
		if err != nil {
			return nil, nil, err
		}
		d = capped
	}
	return d, sim, nil
}

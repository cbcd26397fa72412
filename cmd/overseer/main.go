package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/overseer/internal/api"
	"github.com/nidhogg/overseer/internal/bus"
	"github.com/nidhogg/overseer/internal/config"
	"github.com/nidhogg/overseer/internal/group"
	"github.com/nidhogg/overseer/internal/notify"
	"github.com/nidhogg/overseer/internal/orchestrate"
	"github.com/nidhogg/overseer/internal/session"
	"github.com/nidhogg/overseer/internal/store"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Overseer...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/overseer.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize PostgreSQL store
	var pgStore *store.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := store.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
		}
	}

	// Group registry, restored from DB
	registry := group.NewRegistry(logger)
	if pgStore != nil {
		if err := pgStore.LoadInto(context.Background(), registry); err != nil {
			logger.Warn("failed to load groups from DB", zap.Error(err))
		} else {
			logger.Info("Loaded groups from DB", zap.Int("count", len(registry.List())))
		}
		registry.SetPersister(pgStore)
	}

	// Session directory backed by the external runner
	runner := session.NewHTTPRunner(cfg.Runner.Endpoint, logger)
	directory := session.NewDirectory(runner, logger)

	// Re-attach restored members to live sessions and sweep strays into the
	// default group
	guard := group.NewReconciliationGuard(registry, logger)
	for _, m := range registry.AllMembers() {
		directory.Register(m.SessionName)
	}
	guard.Reconcile(directory.Names())

	// Phase observers: Redis stream bus plus terminal-outcome chat targets
	notifier := orchestrate.NewPhaseNotifier(logger)

	var phaseBus *bus.PhaseBus
	if cfg.Database.Redis.URL != "" {
		pb, busErr := bus.New(cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without phase bus", zap.Error(busErr))
		} else {
			phaseBus = pb
			notifier.Attach(pb)
		}
	}

	var targets []notify.Target
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.BotToken != "" {
		dt, dErr := notify.NewDiscordTarget(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID, logger)
		if dErr != nil {
			logger.Warn("Discord target unavailable", zap.Error(dErr))
		} else {
			targets = append(targets, dt)
		}
	}
	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.BotToken != "" {
		targets = append(targets, notify.NewSlackTarget(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.Channel, logger))
	}
	if len(targets) > 0 {
		notifier.Attach(notify.NewOutcomeNotifier(logger, targets...))
	}

	// Dispatcher with configured tunables
	opts := orchestrate.Options{
		DefaultMaxIterations: cfg.Orchestrator.MaxIterations,
		NeedsIterationScore:  cfg.Orchestrator.NeedsIterationScore,
		CompletionScore:      cfg.Orchestrator.CompletionScore,
		MaxConsecutiveStalls: cfg.Orchestrator.MaxConsecutiveStalls,
		MaxTransientErrors:   cfg.Orchestrator.MaxTransientErrors,
	}
	if cfg.Orchestrator.WorkerTimeoutSeconds > 0 {
		opts.WorkerTimeout = time.Duration(cfg.Orchestrator.WorkerTimeoutSeconds) * time.Second
	}
	dispatcher := orchestrate.NewDispatcher(directory, registry, notifier, opts, logger)

	// Build HTTP handler
	handler := api.NewHandler(registry, directory, dispatcher, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Overseer listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Overseer...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	if phaseBus != nil {
		phaseBus.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}

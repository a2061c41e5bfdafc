package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/calliope-studio/calliope/internal/config"
	"github.com/calliope-studio/calliope/internal/dispatch"
	"github.com/calliope-studio/calliope/internal/events"
	"github.com/calliope-studio/calliope/internal/gateway"
	"github.com/calliope-studio/calliope/internal/generate"
	"github.com/calliope-studio/calliope/internal/heartbeat"
	"github.com/calliope-studio/calliope/internal/models"
	"github.com/calliope-studio/calliope/internal/queue"
	"github.com/calliope-studio/calliope/internal/ratelimit"
	"github.com/calliope-studio/calliope/internal/scheduler"
	"github.com/calliope-studio/calliope/internal/storage"
	"github.com/calliope-studio/calliope/internal/tasks"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the Calliope task service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(_ context.Context, cmd *cli.Command) error {
	// Setup debug logging
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	// Load config
	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
	}

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Server.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Server.Port = cmd.Int("port")
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Event bus
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	// Durable task store
	store, err := tasks.OpenSQLStore(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	// Model layer: registry + name directory + fallback engine
	registry := models.NewRegistry(cfg.Models)
	directory := models.NewDirectory(
		models.NewConfigSource(cfg.Models),
		cfg.Models.DirectoryRefresh.Duration(),
		cfg.Models.Providers,
	)
	engine := models.NewEngine(registry, directory, bus, 0)

	// Generation handlers + executor
	generator := generate.NewGenerator(engine, cfg.Models.GlobalFallbacks)
	executor := tasks.NewExecutor(store, bus, generator.Handlers())

	// Local worker pool
	pool := dispatch.NewPool(executor, cfg.Limits.PoolWorkers, cfg.Limits.PoolQueueSize)
	pool.Start()
	defer pool.Stop()

	// Durable queue publisher, production only
	var publisher queue.Publisher
	if cfg.Runtime.IsProduction() {
		if cfg.Queue.Configured() && cfg.Runtime.CallbackURL != "" {
			p, err := queue.NewHTTPPublisher(cfg.Queue, cfg.Runtime.CallbackURL)
			if err != nil {
				return fmt.Errorf("init queue publisher: %w", err)
			}
			publisher = p
			slog.Info("durable queue enabled", "callback_url", cfg.Runtime.CallbackURL)
		} else {
			slog.Warn("production runtime without queue config, tasks run on the local pool")
		}
	}

	// Queue callback signature verifier
	var verifier *queue.Verifier
	if cfg.Queue.CurrentSigningKey != "" {
		verifier, err = queue.NewVerifier(cfg.Queue)
		if err != nil {
			return fmt.Errorf("init queue verifier: %w", err)
		}
	}

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		Store:      store,
		Bus:        bus,
		Limiter:    ratelimit.New(cfg.Limits.SubmitCooldown.Duration()),
		Publisher:  publisher,
		Pool:       pool,
		Production: cfg.Runtime.IsProduction(),
	})

	// Observability sinks
	eventLogger := storage.NewEventLogger(filepath.Join(cfg.Storage.DataDir, "events"), bus)
	defer eventLogger.Close()
	stats := storage.NewModelStats(bus)
	defer stats.Close()

	// Recurring schedules
	sched := scheduler.New(scheduler.Config{
		Tasks:      store,
		Dispatcher: dispatcher,
		Bus:        bus,
		Store:      scheduler.NewScheduleStore(filepath.Join(cfg.Storage.DataDir, "schedules")),
	})
	sched.Start()
	defer sched.Stop()

	// Liveness file
	hb := heartbeat.NewWriter(filepath.Join(cfg.Storage.DataDir, "heartbeat.json"), Version)
	hb.Start()
	defer hb.Stop()

	server := gateway.NewServer(gateway.ServerConfig{
		Bus:        bus,
		Store:      store,
		Dispatcher: dispatcher,
		Executor:   executor,
		Verifier:   verifier,
		Stats:      stats,
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

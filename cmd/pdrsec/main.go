package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pdr-security/internal/analytics"
	"pdr-security/internal/bot"
	"pdr-security/internal/config"
	"pdr-security/internal/exempt"
	"pdr-security/internal/metrics"
	"pdr-security/internal/modules/audit"
	"pdr-security/internal/settings"
	"pdr-security/internal/status"
	"pdr-security/internal/storage"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = time.Minute
	cleanupInterval = 24 * time.Hour
)

func main() {
	app := &cli.Command{
		Name:  "pdrsec",
		Usage: "Abuse detection and response for Discord communities",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return run(ctx, c.String("config"))
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Connect to Discord and enforce the configured modules",
				Action: func(ctx context.Context, c *cli.Command) error {
					return run(ctx, c.String("config"))
				},
			},
			{
				Name:  "migrate",
				Usage: "Apply database migrations and exit",
				Action: func(ctx context.Context, c *cli.Command) error {
					return migrate(ctx, c.String("config"))
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func migrate(ctx context.Context, path string) error {
	cfg, err := config.Read(path)
	if err != nil {
		return err
	}
	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("migrations applied")
	return nil
}

func run(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	holder := settings.NewHolder(store, settings.Defaults(), logger)
	holder.Load(ctx)
	gate := exempt.New(cfg.OwnerID, store)
	if err := gate.Reload(ctx); err != nil {
		logger.Warn("exemption load failed", zap.Error(err))
	}
	auditLogger := audit.NewLogger(store, logger)
	analyticsService := analytics.New(store)

	botSvc, err := bot.New(cfg, logger, store, holder, gate, auditLogger, analyticsService)
	if err != nil {
		return fmt.Errorf("bot init: %w", err)
	}
	if err := botSvc.Start(); err != nil {
		return fmt.Errorf("bot start: %w", err)
	}
	logger.Info("bot started")

	presence := status.New(botSvc.Platform(), cfg.Status.Interval(), cfg.Status.Backoff(), logger)
	go presence.Run(ctx)
	go botSvc.Coordinator().RunJanitor(ctx, janitorInterval)
	go cleanupAuditLogs(ctx, store, cfg.RetentionDays, logger)

	var server *http.Server
	if cfg.Health.Enabled {
		server = healthServer(cfg.Health.Addr, store)
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	botSvc.Close(shutdownCtx)
	return nil
}

func healthServer(addr string, store *storage.Store) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// cleanupAuditLogs prunes audit records past the retention window once a day.
func cleanupAuditLogs(ctx context.Context, store *storage.Store, retentionDays int, logger *zap.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		removed, err := store.CleanupAuditLogs(ctx, retentionDays)
		if err != nil {
			logger.Warn("audit log cleanup failed", zap.Error(err))
		} else if removed > 0 {
			logger.Info("audit logs pruned", zap.Int64("removed", removed))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

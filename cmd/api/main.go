package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/opsmonitor/internal/config"
	"github.com/hamed0406/opsmonitor/internal/httpapi"
	apimw "github.com/hamed0406/opsmonitor/internal/httpapi/middleware"
	"github.com/hamed0406/opsmonitor/internal/live"
	"github.com/hamed0406/opsmonitor/internal/logging"
	"github.com/hamed0406/opsmonitor/internal/metrics"
	"github.com/hamed0406/opsmonitor/internal/notify"
	"github.com/hamed0406/opsmonitor/internal/probe"
	"github.com/hamed0406/opsmonitor/internal/repo"
	"github.com/hamed0406/opsmonitor/internal/repo/postgres"
	"github.com/hamed0406/opsmonitor/internal/repo/sqlite"
	"github.com/hamed0406/opsmonitor/internal/scheduler"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg := config.FromEnv()
	logger, err := logging.NewLogger(logging.Options{
		Dir:     cfg.LogDir,
		Level:   cfg.LogLevel,
		Console: cfg.LogConsole,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("api_exit", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	if cfg.SeedFile != "" {
		if err := seed(ctx, store, cfg.SeedFile, logger); err != nil {
			return err
		}
	}

	m := metrics.New()
	hub := live.New(logger.Named("live"), m)

	dispatcher := probe.NewDispatcher(logger.Named("probe"), probe.Timeouts{
		HTTP: cfg.HTTPTimeout,
		Ping: cfg.PingTimeout,
		TCP:  cfg.TCPTimeout,
	})
	dispatcher.Observer = m

	broadcasters := scheduler.Broadcasters{hub}
	var alerter *notify.TransitionAlerter
	if slack := notify.NewSlack(cfg.SlackWebhookURL); slack != nil {
		alerter = notify.NewTransitionAlerter(notify.Multi{slack}, notify.AlerterConfig{
			AlertOnRecovery: cfg.AlertOnRecovery,
			Cooldown:        cfg.AlertCooldown,
		}, logger.Named("alerts"))
		alerter.Observer = m
		broadcasters = append(broadcasters, alerter)
		logger.Info("alerts_enabled", zap.Bool("on_recovery", cfg.AlertOnRecovery))
	}

	cycle := scheduler.NewCycle(logger.Named("cycle"), store, dispatcher, broadcasters)
	cycle.Observer = m
	loop := scheduler.NewLoop(logger.Named("scheduler"), cycle, cfg.CheckInterval)
	loop.Observer = m
	handle := loop.Start(ctx)

	api := httpapi.NewServer(logger.Named("http"), store, dispatcher, hub)
	api.Version = version
	api.Environment = cfg.Environment
	api.Metrics = m.Handler()
	api.Instrument = m.Middleware

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: api.Router(httpapi.RouterConfig{
			Keys:           apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys},
			AllowedOrigins: cfg.AllowedOrigins,
			PublicRPM:      cfg.PublicRPM,
			PublicBurst:    cfg.PublicBurst,
			AdminRPM:       cfg.AdminRPM,
			AdminBurst:     cfg.AdminBurst,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("api_shutdown")
	case err = <-serveErr:
	}

	// Order matters: stop producing events before closing their sinks.
	handle.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Close()
	err = multierr.Append(err, srv.Shutdown(shutdownCtx))
	if alerter != nil {
		alerter.Wait()
	}
	return err
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repo.Store, error) {
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL, logger.Named("postgres"))
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			return nil, multierr.Append(err, pg.Close())
		}
		logger.Info("store_selected", zap.String("kind", "postgres"))
		return pg, nil
	}
	st, err := sqlite.Open(cfg.SQLitePath, 0, logger.Named("sqlite"))
	if err != nil {
		return nil, err
	}
	logger.Info("store_selected", zap.String("kind", "sqlite"), zap.String("path", cfg.SQLitePath))
	return st, nil
}

// seed loads the seed file into an empty store. A populated store is left
// alone so restarts do not duplicate services.
func seed(ctx context.Context, store repo.Store, path string, logger *zap.Logger) error {
	existing, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logger.Info("seed_skipped", zap.Int("existing", len(existing)))
		return nil
	}
	targets, err := config.LoadSeed(path)
	if err != nil {
		return err
	}
	for i := range targets {
		if err := store.Add(ctx, &targets[i]); err != nil {
			return err
		}
	}
	logger.Info("seed_loaded", zap.String("path", path), zap.Int("services", len(targets)))
	return nil
}

package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/casey/netmon/internal/config"
	"github.com/casey/netmon/internal/credential"
	"github.com/casey/netmon/internal/httpapi"
	"github.com/casey/netmon/internal/httpapi/middleware"
	"github.com/casey/netmon/internal/logging"
	"github.com/casey/netmon/internal/notify"
	"github.com/casey/netmon/internal/probe"
	"github.com/casey/netmon/internal/repo"
	"github.com/casey/netmon/internal/repo/memory"
	"github.com/casey/netmon/internal/repo/sqlite"
	"github.com/casey/netmon/internal/scheduler"
)

func main() {
	cfg := config.FromEnv()

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	logger, err := logging.NewLogger(cfg.LogDir, level)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	var (
		nodes   repo.NodeStore
		results repo.ResultStore
		changes repo.StatusChangeStore
	)
	if cfg.DatabasePath != "" {
		db, err := sqlite.Open(cfg.DatabasePath, logger)
		if err != nil {
			logger.Fatal("sqlite_open_error", zap.String("path", cfg.DatabasePath), zap.Error(err))
		}
		defer db.Close()
		nodes, results, changes = db, db, db
		logger.Info("store_sqlite", zap.String("path", cfg.DatabasePath))
	} else {
		mem := memory.New()
		nodes, results, changes = mem, mem, mem
		logger.Warn("store_memory", zap.String("hint", "set DATABASE_PATH to persist across restarts"))
	}

	var creds *credential.FileStore
	if cfg.CredentialsKey != "" {
		creds, err = credential.OpenFile(cfg.CredentialsPath, cfg.CredentialsKey)
		if err != nil {
			logger.Fatal("credential_store_error", zap.String("path", cfg.CredentialsPath), zap.Error(err))
		}
	} else {
		logger.Warn("credential_store_disabled", zap.String("hint", "set CREDENTIALS_KEY to enable ssh credentials"))
	}

	var onChange scheduler.ChangeFunc
	if cfg.SlackWebhook != "" {
		alerter := scheduler.NewAlerter(logger, notify.Multi{notify.NewSlack(cfg.SlackWebhook)}, scheduler.AlerterConfig{
			AlertOnRecovery: cfg.AlertOnRecovery,
			Cooldown:        cfg.AlertCooldown,
		})
		onChange = alerter.HandleChange
	}

	var resolver credential.Resolver
	if creds != nil {
		resolver = creds
	}
	engine := scheduler.New(scheduler.Config{
		Logger:        logger,
		Checker:       probe.NewMux(),
		Credentials:   resolver,
		Results:       results,
		Changes:       changes,
		OnChange:      onChange,
		Tick:          cfg.Tick,
		MaxConcurrent: cfg.MaxConcurrent,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Resume monitoring everything the registry already knows about.
	persisted, err := nodes.List(ctx)
	if err != nil {
		logger.Fatal("node_load_error", zap.Error(err))
	}
	for _, n := range persisted {
		if err := engine.AddNode(*n); err != nil {
			logger.Warn("node_skip", zap.Int64("node_id", n.ID), zap.Error(err))
		}
	}
	logger.Info("nodes_loaded", zap.Int("count", len(persisted)))

	go engine.Run(ctx)

	api := httpapi.NewServer(logger, nodes, results, changes, engine)
	if creds != nil {
		api.Credentials = creds
	}
	api.Keys = middleware.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	api.RatePerMin = cfg.RateLimitPerMin
	api.DefaultTimeoutSec = cfg.DefaultTimeout

	srv := &http.Server{Addr: cfg.Addr, Handler: api.Router()}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Info("api_listen", zap.String("addr", cfg.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("api_error", zap.Error(err))
	}
}

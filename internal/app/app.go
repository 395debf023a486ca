// Package app wires the process: config, database, services, HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quillmind/metering/internal/alerts"
	"github.com/quillmind/metering/internal/audit"
	"github.com/quillmind/metering/internal/budget"
	"github.com/quillmind/metering/internal/cache"
	"github.com/quillmind/metering/internal/config"
	"github.com/quillmind/metering/internal/db"
	metering "github.com/quillmind/metering/internal/http"
	"github.com/quillmind/metering/internal/logging"
	"github.com/quillmind/metering/internal/pricing"
	"github.com/quillmind/metering/internal/settings"
	"github.com/quillmind/metering/internal/usage"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Run starts the service and blocks until shutdown.
func Run(configPath string) error {
	cfg, errLoad := config.Load(config.ResolveConfigPath(configPath))
	if errLoad != nil {
		return errLoad
	}

	logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	conn, errOpen := openAndMigrate(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if errSettings := settings.RefreshDBConfigSnapshot(ctx, conn); errSettings != nil {
		log.WithError(errSettings).Warn("app: settings snapshot refresh failed, using defaults")
	}

	summaryCache, errCache := cache.NewSummaryCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if errCache != nil {
		return errCache
	}
	defer summaryCache.Close()

	auditor := audit.NewRecorder(conn)
	alerter := alerts.NewEmitter(conn)
	ledger := usage.NewLedger(conn, auditor)
	enforcer := budget.NewEnforcer(conn, auditor, alerter)
	calc := pricing.NewCalculator(conn, ledger)

	usage.NewRetentionCleaner(conn).Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := metering.NewRouter(metering.Deps{
		Ledger:   ledger,
		Enforcer: enforcer,
		Calc:     calc,
		Summary:  summaryCache,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("app: listening on %s", cfg.Server.Addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("app: shutdown signal received")
	case errServe := <-serveErr:
		if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", errServe)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("app: shutdown: %w", errShutdown)
	}
	return nil
}

// MigrateOnly opens the database, runs migrations, and exits.
func MigrateOnly(configPath string) error {
	cfg, errLoad := config.Load(config.ResolveConfigPath(configPath))
	if errLoad != nil {
		return errLoad
	}
	logging.Setup(logging.Options{Level: cfg.Logging.Level})
	if _, errOpen := openAndMigrate(cfg.Database.DSN); errOpen != nil {
		return errOpen
	}
	log.Info("app: migrations applied")
	return nil
}

func openAndMigrate(dsn string) (*gorm.DB, error) {
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return nil, errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return nil, errMigrate
	}
	return conn, nil
}

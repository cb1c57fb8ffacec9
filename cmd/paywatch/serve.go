package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	handler "github.com/raid-guild/payment-watcher-go/api"
	"github.com/raid-guild/payment-watcher-go/auth"
	"github.com/raid-guild/payment-watcher-go/clients"
	"github.com/raid-guild/payment-watcher-go/config"
	"github.com/raid-guild/payment-watcher-go/core"
	"github.com/raid-guild/payment-watcher-go/notify"
	"github.com/raid-guild/payment-watcher-go/registry"
	"github.com/raid-guild/payment-watcher-go/store"
	"github.com/raid-guild/payment-watcher-go/telemetry"
)

const (
	serviceName     = "paywatch"
	shutdownTimeout = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch payment references and serve the management API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set up metric export
	provider, err := telemetry.New(ctx, cfg.TelemetryConfig(serviceName), logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shut down telemetry", "error", err)
		}
	}()
	metrics, err := telemetry.NewMetrics(provider.Meter())
	if err != nil {
		return err
	}

	// Open the store
	st, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	// Set up the notifier
	var notifier notify.Notifier
	if cfg.Redis.Addr != "" {
		redisNotifier := notify.NewRedisNotifier(cfg.RedisOptions(), logger)
		defer redisNotifier.Close()
		notifier = redisNotifier
	} else {
		logger.Warn("no redis address configured, events are delivered in process only")
		notifier = notify.NewMemoryNotifier(logger)
	}

	// Connect to the ledger
	ledger, err := clients.NewRPCLedger(ctx, cfg.LedgerConfig())
	if err != nil {
		return err
	}
	defer ledger.Close()

	// Build the engine
	fees, err := cfg.FeeCalculator()
	if err != nil {
		return err
	}
	catalogue, err := cfg.Catalogue()
	if err != nil {
		return err
	}
	pollerConfig, err := cfg.PollerConfig()
	if err != nil {
		return err
	}
	reg := registry.New(logger)
	recorder := core.NewRecorder(st, fees, notifier, metrics, logger)
	poller := core.NewPoller(pollerConfig, reg, ledger, recorder, metrics, logger)
	poller.WarmFrom(st)

	// Build the management API
	var keyDB *sql.DB
	if cfg.HTTP.DatabaseAPIKeys {
		keyDB = db
	}
	authenticator, err := auth.NewAuthenticator(cfg.HTTP.StaticAPIKey, keyDB)
	if err != nil {
		return err
	}
	h := handler.New(handler.Config{
		Store:     st,
		Registry:  reg,
		Recorder:  recorder,
		Fees:      fees,
		Catalogue: catalogue,
		Auth:      authenticator,
		Ready:     ledger.Health,
		Logger:    logger,
	})
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// The poller outlives the signal so the in-flight cycle can finish
	if err := poller.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	logger.Info("paywatch started", "addr", cfg.HTTP.Addr, "rpc", cfg.RPC.URL, "interval", cfg.Poll.Interval)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serveErr:
		logger.Error("http server failed", "error", err)
	}

	// Stop serving, then let the poller finish its cycle
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("failed to shut down http server", "error", shutdownErr)
	}
	poller.Stop()
	logger.Info("paywatch stopped")

	return err
}

// openStore opens the Postgres store, or the in-memory store when no
// database is configured.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, *sql.DB, error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database configured, payment requests are kept in memory")
		return store.NewMemoryStore(), nil, nil
	}

	// Connect to the database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Create the schema
	if err := store.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}

	return store.NewPostgresStore(db), db, nil
}

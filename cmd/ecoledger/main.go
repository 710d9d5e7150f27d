package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ecoledger-lab/ecoledger/internal/aggregation"
	corecfg "github.com/ecoledger-lab/ecoledger/internal/core/config"
	"github.com/ecoledger-lab/ecoledger/internal/core/pricing"
	"github.com/ecoledger-lab/ecoledger/internal/core/storage/postgres"
	"github.com/ecoledger-lab/ecoledger/internal/ledger"
	"github.com/ecoledger-lab/ecoledger/internal/migrations"
	"github.com/ecoledger-lab/ecoledger/internal/notify"
	"github.com/ecoledger-lab/ecoledger/internal/query"
	"github.com/ecoledger-lab/ecoledger/internal/redemption"
	"github.com/ecoledger-lab/ecoledger/internal/server"
	"github.com/ecoledger-lab/ecoledger/internal/token"
)

func main() {
	configPath := flag.String("config", "ecoledger.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	tokenTTL, _ := cfg.Token.TTLDuration()
	backoff, _ := cfg.Redemption.BackoffDuration()
	feedPoll, _ := cfg.Database.FeedPollDuration()
	recencyWindow, _ := cfg.Notification.RecencyWindowDuration()
	coalesce, _ := cfg.Notification.CoalesceIntervalDuration()
	warmupTimeout, _ := cfg.Query.WarmupTimeoutDuration()

	// 2. Initialize Storage (PostgreSQL event store)
	store, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		feedPoll,
	)
	if err != nil {
		slog.Error("Failed to initialize event store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(store.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Load Pricing Policy
	rates, err := pricing.LoadDir(cfg.Pricing.RatesDir)
	if err != nil {
		slog.Error("Failed to load pricing rates", "error", err, "dir", cfg.Pricing.RatesDir)
		os.Exit(1)
	}
	slog.Info("Pricing policy loaded", "dir", cfg.Pricing.RatesDir, "fingerprint", rates.Fingerprint)

	// 4. Initialize the Ledger Core
	tokens := token.NewManager(store, tokenTTL)
	processor := redemption.NewProcessor(store, rates, cfg.Redemption.MaxRetries, backoff)

	// 5. Initialize the Aggregation Engine
	engine := aggregation.NewEngine(store, aggregation.Options{
		WindowMonths:    cfg.Aggregation.WindowMonths,
		LeaderboardSize: cfg.Aggregation.LeaderboardSize,
	})

	// 6. Initialize the Notification Dispatcher
	dispatcher := notify.NewDispatcher(store, recencyWindow, coalesce)

	// 7. Initialize HTTP surface
	facade := query.NewFacade(engine, warmupTimeout)
	ledgerSvc := ledger.NewService(store, tokens, processor, dispatcher, cfg.Server.MaxBodySizeMB)

	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), store, cfg.Server.Mode)
	ledgerSvc.RegisterRoutes(srv.Engine)
	facade.RegisterRoutes(srv.Engine)

	// 8. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := engine.Start(ctx); err != nil {
			slog.Error("Aggregation engine stopped with error", "error", err)
		}
	}()
	go func() {
		if err := dispatcher.Start(ctx); err != nil {
			slog.Error("Notification dispatcher stopped with error", "error", err)
		}
	}()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// Package main is the entry point for the wallet rebalancer.
// It loads accounts, wires dependencies, serves the HTTP API and runs
// rebalancing iterations on a cron schedule.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/di"
	markethourshandlers "github.com/aristath/rebalancer/internal/modules/market_hours/handlers"
	rebalancinghandlers "github.com/aristath/rebalancer/internal/modules/rebalancing/handlers"
	snapshothandlers "github.com/aristath/rebalancer/internal/modules/snapshots/handlers"
	tradinghandlers "github.com/aristath/rebalancer/internal/modules/trading/handlers"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/aristath/rebalancer/internal/server"
	"github.com/aristath/rebalancer/pkg/logger"
)

func main() {
	once := flag.Bool("once", false, "run one iteration for every account and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: "rebalancer",
	})

	log.Info().
		Int("accounts", len(cfg.Accounts)).
		Bool("dry_run", cfg.DryRun).
		Str("timezone", cfg.Timezone).
		Msg("Starting rebalancer")

	container, err := di.Wire(cfg, log, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(cfg.Location(), log)
	jobs, err := di.RegisterJobs(ctx, container, sched, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}

	if *once {
		if err := runOnce(ctx, cancel, jobs); err != nil {
			log.Error().Err(err).Msg("Rebalance pass finished with errors")
			container.Close()
			os.Exit(1)
		}
		log.Info().Msg("Rebalance pass completed")
		return
	}

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		DataDir:   cfg.DataDir,
		Databases: container.Databases(),
		Market:    container.MarketHours,
		Jobs:      sched,
		Modules: []server.RouteRegistrar{
			rebalancinghandlers.NewHandler(cfg.Accounts, container.Runner, log),
			snapshothandlers.NewHandler(container.SnapshotRepo, cfg.Location(), log),
			tradinghandlers.NewHandler(container.OrderRepo, log),
			markethourshandlers.NewHandler(container.MarketHours, log),
		},
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	sched.Start()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop accepting new iterations, then let the one in flight finish its current account
	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// runOnce runs a single rebalance pass. SIGINT cancels it between accounts.
func runOnce(ctx context.Context, cancel context.CancelFunc, jobs *di.JobInstances) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	defer signal.Stop(quit)

	return jobs.Rebalance.RunContext(ctx)
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/identrail/identrail/internal/config"
	"github.com/identrail/identrail/internal/findings"
	"github.com/identrail/identrail/internal/jobs"
	"github.com/identrail/identrail/internal/metrics"
	"github.com/identrail/identrail/internal/pipeline"
	"github.com/identrail/identrail/internal/scheduler"
	"github.com/identrail/identrail/internal/store"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job scheduler and resolution pipeline.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker()
	},
}

func runWorker() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	st := store.New(pool)
	logger := slog.Default()

	ingester := findings.NewIngester(st, logger)
	resolver := pipeline.New(st, logger)
	manager := jobs.NewManager(st, ingester, resolver, cfg.LDAPTimeout, logger)
	sched := scheduler.New(st, manager, cfg.PollInterval, cfg.ScheduleRefreshInterval, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.MetricsAddr) })
	return g.Wait()
}

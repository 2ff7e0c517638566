package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ortelius/cvefeed-backend/graphql"
	"github.com/ortelius/cvefeed-backend/internal/api"
	"github.com/ortelius/cvefeed-backend/internal/scheduler"
	"github.com/ortelius/cvefeed-backend/internal/services"
	"github.com/ortelius/cvefeed-backend/restapi"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the CVE API and keep the store in sync",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.logger.Sync() }()

	query := services.NewCVEQueryService(rt.store)
	schema, err := graphql.CreateSchema(query)
	if err != nil {
		return fmt.Errorf("failed to create GraphQL schema: %w", err)
	}

	app := api.NewFiberApp(restapi.Dependencies{
		Query:    query,
		Syncer:   rt.syncer,
		Schema:   schema,
		Gatherer: rt.registry,
	})

	supervisor := scheduler.NewSupervisor(rt.logger)

	total, err := rt.store.Count(ctx, emptyFilter)
	if err != nil {
		return fmt.Errorf("failed to count stored CVEs: %w", err)
	}
	if total == 0 {
		supervisor.Go(ctx, "initial-sync", func(ctx context.Context) error {
			_, err := rt.syncer.InitialSync(ctx)
			return err
		})
	} else {
		rt.logger.Info("Existing CVEs found, skipping initial sync", zap.Int("count", total))
	}

	sched := scheduler.New("incremental-sync", rt.cfg.Sync.Interval, rt.cfg.Sync.CheckInterval,
		func(ctx context.Context) error {
			_, err := rt.syncer.IncrementalSync(ctx)
			return err
		}, rt.logger)
	supervisor.Go(ctx, "scheduler", func(ctx context.Context) error {
		sched.Start(ctx)
		return nil
	})

	serveErr := make(chan error, 1)
	go func() {
		port := ":" + rt.cfg.Port
		rt.logger.Info("API server starting", zap.String("port", port))
		serveErr <- app.Listen(port)
	}()

	select {
	case <-ctx.Done():
		rt.logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			rt.logger.Error("API server stopped", zap.Error(err))
		}
		stop()
	}

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		rt.logger.Error("API server shutdown failed", zap.Error(err))
	}
	supervisor.Wait()
	rt.logger.Info("Shutdown complete")
	return nil
}

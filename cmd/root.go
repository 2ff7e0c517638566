// Package cmd provides the command line entry points of the cvefeed backend.
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ortelius/cvefeed-backend/database"
	"github.com/ortelius/cvefeed-backend/internal/config"
	"github.com/ortelius/cvefeed-backend/internal/cvesync"
	"github.com/ortelius/cvefeed-backend/internal/metrics"
	"github.com/ortelius/cvefeed-backend/internal/nvd"
	"github.com/ortelius/cvefeed-backend/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var flagConfig string

// rootCmd serves the API when invoked without a subcommand
var rootCmd = &cobra.Command{
	Use:   "cvefeed-backend",
	Short: "Mirror the NVD CVE feed and serve it over REST and GraphQL",
	Long: `cvefeed-backend keeps a local copy of the NVD CVE 2.0 feed.

On start it performs a full sync when the store is empty, then refreshes the
store once a day from the newest lastModified timestamp it holds. The stored
records are served through a paginated, filterable REST API and GraphQL.

Examples:
  # Serve with settings from the environment
  cvefeed-backend

  # Serve with a config file
  cvefeed-backend serve --config /etc/cvefeed/config.yaml

  # Run one incremental pass and exit
  cvefeed-backend sync

  # Re-download the full dataset and exit
  cvefeed-backend sync --full`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to a YAML config file (default: $CVEFEED_CONFIG or ./config.yaml)")
}

// runtime holds the components shared by every command
type runtime struct {
	cfg      config.Config
	logger   *zap.Logger
	store    database.CVEStore
	registry *prometheus.Registry
	syncer   *cvesync.Synchronizer
}

func newRuntime(ctx context.Context) (*runtime, error) {
	logger := util.InitLogger()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	client := nvd.NewClient(
		nvd.WithBaseURL(cfg.NVD.BaseURL),
		nvd.WithAPIKey(cfg.NVD.APIKey),
		nvd.WithHTTPClient(&http.Client{Timeout: 2 * time.Minute}),
		nvd.WithLogger(logger),
	)
	if !client.HasAPIKey() {
		logger.Warn("NVD_API_KEY not set, requests are paced for the public rate limit")
	}

	syncer := cvesync.New(client, store, logger, m, cvesync.Config{
		PageSize:     cfg.NVD.PageSize,
		RequestDelay: cfg.RequestDelay(),
	})

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: registry,
		syncer:   syncer,
	}, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (database.CVEStore, error) {
	if cfg.Database.Driver == config.DriverMemory {
		logger.Warn("Using in-memory CVE store, data is lost on exit")
		return database.NewMemoryCVEStore(), nil
	}

	conn, err := database.InitializeDatabase(ctx, database.DBConfig{
		URL:          cfg.Database.URL,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		DatabaseName: cfg.Database.Name,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return database.NewArangoCVEStore(conn), nil
}

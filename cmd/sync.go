package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/ortelius/cvefeed-backend/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var flagFull bool

var emptyFilter = database.CVEFilter{}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass against the NVD API and exit",
	Long: `sync runs a single incremental pass from the newest stored lastModified
timestamp. An empty store, or --full, downloads the complete dataset instead.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&flagFull, "full", false, "Download the complete dataset regardless of stored data")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.logger.Sync() }()

	var processed int
	if flagFull {
		processed, err = rt.syncer.InitialSync(ctx)
	} else {
		processed, err = rt.syncer.IncrementalSync(ctx)
	}
	if err != nil {
		return fmt.Errorf("sync failed after %d records: %w", processed, err)
	}

	total, err := rt.store.Count(ctx, emptyFilter)
	if err != nil {
		return err
	}
	rt.logger.Info("Sync finished", zap.Int("processed", processed), zap.Int("stored", total))
	return nil
}

package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/brightpath-labs/mentorsync/internal/cli/config"
	"github.com/brightpath-labs/mentorsync/internal/engine"
	"github.com/brightpath-labs/mentorsync/pkg/core"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand() *cobra.Command {
	var (
		sources  string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a sync cycle",
		Long: `Run one sync cycle: query each source for records changed since its
watermark, append them to the spreadsheet, post notifications, and advance
the watermark. With --interval, keep running cycles on a timer until
interrupted.`,
		Example: `  # Sync all configured sources once
  mentorsync sync

  # Sync only goals and logins
  mentorsync sync --sources goals,logins

  # Run continuously, one cycle every two minutes
  mentorsync sync --interval 2m`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, splitSources(sources), interval)
		},
	}

	cmd.Flags().StringVarP(&sources, "sources", "s", "", "comma-separated source keys (default: all)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "repeat cycles at this interval (0 = run once)")
	return cmd
}

func runSync(cmd *cobra.Command, include []string, interval time.Duration) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	logger := config.GetLogger(ctx)

	eng, cleanup, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if interval <= 0 {
		run, err := eng.RunCycle(ctx, include)
		if err != nil {
			return err
		}
		printRunSummary(cmd, eng, run)
		if run.Status == core.RunStatusFailed {
			return fmt.Errorf("sync run %s failed: %s", run.ID, run.Error)
		}
		return nil
	}

	logger.Info("starting sync loop", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately, then on every tick. A tick that lands while a cycle
	// is still running is dropped; the next tick retries.
	for {
		run, err := eng.RunCycle(ctx, include)
		switch {
		case errors.Is(err, engine.ErrCycleInProgress):
			logger.Info("cycle still running, skipping trigger")
		case err != nil:
			logger.Error("sync cycle failed to start", "error", err)
		default:
			printRunSummary(cmd, eng, run)
		}

		select {
		case <-ctx.Done():
			logger.Info("sync loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func printRunSummary(cmd *cobra.Command, eng *engine.Engine, run *core.SyncRun) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %s\n", run.ID, run.Status)

	results, err := eng.Store().GetSourceResults(run.ID)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "failed to load source results: %v\n", err)
		return
	}
	for _, res := range results {
		switch res.Status {
		case core.SourceStatusSuccess:
			fmt.Fprintf(out, "  %-12s %d synced, %d skipped, watermark %s\n",
				res.Source, res.RecordsSynced, res.RecordsSkipped, formatWatermark(res.WatermarkAfter))
		default:
			fmt.Fprintf(out, "  %-12s FAILED after %d synced: %s\n",
				res.Source, res.RecordsSynced, res.Error)
		}
	}
}

func formatWatermark(t time.Time) string {
	if t.IsZero() {
		return "(epoch)"
	}
	return t.UTC().Format(time.RFC3339)
}

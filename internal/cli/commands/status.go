package commands

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/brightpath-labs/mentorsync/internal/cli/config"
	"github.com/brightpath-labs/mentorsync/pkg/core"
)

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show checkpoints and recent sync runs",
		Long: `Display the current watermark and last outcome for every source,
followed by the most recent sync runs. Reads only the local checkpoint
database; no external services are contacted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of recent runs to show")
	return cmd
}

func runStatus(cmd *cobra.Command, limit int) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()

	checkpoints, err := store.ListCheckpoints()
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Checkpoints")
	t.AppendHeader(table.Row{"Source", "Watermark", "Last Status", "Synced", "Updated"})
	for _, cp := range checkpoints {
		t.AppendRow(table.Row{
			cp.Source,
			formatWatermark(cp.Watermark),
			string(cp.LastStatus),
			cp.RecordsSynced,
			formatTime(cp.UpdatedAt),
		})
	}
	t.Render()

	runs, err := store.ListRuns(limit)
	if err != nil {
		return err
	}
	t = table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Recent Runs")
	t.AppendHeader(table.Row{"Run", "Started", "Completed", "Status", "Error"})
	for _, run := range runs {
		t.AppendRow(table.Row{
			run.ID,
			formatTime(run.StartedAt),
			formatCompleted(run),
			string(run.Status),
			run.Error,
		})
	}
	t.Render()

	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatCompleted(run *core.SyncRun) string {
	if run.CompletedAt == nil {
		return "running"
	}
	return formatTime(*run.CompletedAt)
}

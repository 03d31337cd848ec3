package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/chatsync/internal/backfill"
)

func newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Import a data-export conversations.json through the sync pipeline",
		Long: `Import every conversation of a data-export archive. Conversations that
were already uploaded with the same content are skipped, so the command can be
re-run after an interruption.

Examples:
  chatsync backfill --export ~/Downloads/conversations.json
  chatsync backfill --export conversations.json --since 2024-01-01 --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			exportPath, _ := cmd.Flags().GetString("export")
			since, _ := cmd.Flags().GetString("since")
			until, _ := cmd.Flags().GetString("until")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			batchSize, _ := cmd.Flags().GetInt("batch-size")
			minMessages, _ := cmd.Flags().GetInt("min-messages")

			if exportPath == "" {
				return fmt.Errorf("--export is required")
			}
			cfg := backfill.Config{
				ExportPath:  exportPath,
				DryRun:      dryRun,
				BatchSize:   batchSize,
				MinMessages: minMessages,
			}
			var err error
			if cfg.Since, err = parseDate(since); err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			if cfg.Until, err = parseDate(until); err != nil {
				return fmt.Errorf("--until: %w", err)
			}
			if !cfg.Until.IsZero() {
				// Include the whole end day.
				cfg.Until = cfg.Until.Add(24*time.Hour - time.Nanosecond)
			}

			a, err := openApp(cmd, !dryRun)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := backfill.NewRunner(cfg, a.orch, a.state, a.logger).Run(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dryRun {
				fmt.Fprintf(out, "read=%d invalid=%d filtered=%d would_upload=%d unchanged=%d\n",
					rep.Read, rep.Invalid, rep.Filtered, rep.WouldUpload, rep.Unchanged)
				return nil
			}
			fmt.Fprintf(out, "read=%d invalid=%d filtered=%d succeeded=%d skipped=%d failed=%d\n",
				rep.Read, rep.Invalid, rep.Filtered, rep.Succeeded, rep.Skipped, rep.Failed)
			if rep.Failed > 0 {
				return errSyncFailed
			}
			return nil
		},
	}
	cmd.Flags().String("export", "", "path to conversations.json from a data export")
	cmd.Flags().String("since", "", "only conversations updated on or after this date (YYYY-MM-DD)")
	cmd.Flags().String("until", "", "only conversations updated on or before this date (YYYY-MM-DD)")
	cmd.Flags().Bool("dry-run", false, "report what would be uploaded without uploading")
	cmd.Flags().Int("batch-size", 50, "conversations per upload batch")
	cmd.Flags().Int("min-messages", 1, "skip conversations with fewer messages")
	cmd.Flags().Bool("no-prompt", false, "never prompt for missing connection settings")
	return cmd
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

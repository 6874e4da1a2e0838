package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mpeck/notion-backup/internal/api"
	"github.com/mpeck/notion-backup/internal/db"
	"github.com/mpeck/notion-backup/internal/downloader"
	"github.com/mpeck/notion-backup/internal/orchestrator"
	"github.com/mpeck/notion-backup/internal/watcher"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full export and archive workflow",
	Long: `Performs the complete backup pipeline for markdown and then HTML:
1. Submits an export job to the workspace API.
2. Polls the notification feed until the job's completion event appears.
3. Streams the export archive to disk.
4. Extracts the outer archive and any nested Part-<n>.zip chunks.
5. Atomically replaces the previous backup directory for that format.

A failed format is logged and skipped; the other format still runs, and
the previous backup for the failed format is left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		client := api.New(cfg, logger)
		w := watcher.New(client, cfg.PollInterval, cfg.MaxWait, logger)
		dl := downloader.New(logger)
		events := db.NewEventLog(getDB(), logger)
		runner := orchestrator.New(cfg, client, w, dl, events, logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Per-format failures are already isolated and logged inside the
		// runner; the process still exits zero so a partially failed run
		// does not break scheduled invocations.
		if err := runner.Run(ctx); err != nil {
			logger.Error("Backup run completed with errors", "error", err)
		}
		return nil
	},
}

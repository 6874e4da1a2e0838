package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mpeck/notion-backup/internal/db"
)

var stateLimit int
var stateFilterEvent string

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "View the event log history of past backup runs",
	Long: `Queries the DuckDB event log and displays what recent runs did:
submissions, feed matches, downloads, extractions and publishes, plus any
errors. Use flags to filter by event type and limit the output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := db.RecentEvents(context.Background(), getDB(), stateFilterEvent, stateLimit)
		if err != nil {
			return fmt.Errorf("query event log: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No recorded events.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIMESTAMP\tRUN\tFORMAT\tEVENT\tDURATION\tDETAIL")
		for _, ev := range events {
			duration := ""
			if ev.DurationMs.Valid {
				duration = fmt.Sprintf("%dms", ev.DurationMs.Int64)
			}
			detail := ev.Message
			if detail == "" {
				detail = ev.OutputPath
			}
			fmt.Fprintf(tw, "%s\t%.8s\t%s\t%s\t%s\t%s\n",
				ev.Timestamp.Format("2006-01-02 15:04:05"),
				ev.RunID, ev.Format, ev.Event, duration, detail)
		}
		return tw.Flush()
	},
}

func init() {
	stateCmd.Flags().IntVarP(&stateLimit, "limit", "n", 50, "Limit the number of log records displayed")
	stateCmd.Flags().StringVarP(&stateFilterEvent, "event", "e", "", "Filter records by event type (e.g. download_end, error, publish_end)")
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corpora-ai/corpora/internal/ticket"
)

func newTicketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Manage the external ticket source",
	}

	cmd.AddCommand(newTicketsSyncCmd())
	cmd.AddCommand(newTicketsPendingCmd())
	cmd.AddCommand(newTicketsHistoryCmd())

	return cmd
}

func newTicketsSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch the ticket source once, now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if app.Scheduler == nil {
				return fmt.Errorf("external ticket source is not enabled; set external_source.enabled in the config")
			}

			result, err := app.Scheduler.SyncOnce(ctx)
			if err != nil {
				return err
			}
			printSyncResult(cmd, result)
			return nil
		},
	}
}

func newTicketsPendingCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Ingest cached tickets that have not been indexed yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if app.Scheduler == nil {
				return fmt.Errorf("external ticket source is not enabled; set external_source.enabled in the config")
			}

			result, err := app.Scheduler.IngestPending(ctx, limit)
			if err != nil {
				return err
			}
			printSyncResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of tickets to ingest")
	return cmd
}

func newTicketsHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent fetch cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			records, err := app.Meta.ListFetchHistory(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No fetch history recorded.")
				return nil
			}
			for _, rec := range records {
				fmt.Fprintf(out, "%s  fetched=%d new=%d updated=%d skipped=%d (%.1fs)\n",
					rec.FetchTime.Format("2006-01-02 15:04:05"),
					rec.TotalFetched, rec.NewIncidents, rec.UpdatedIncidents,
					rec.SkippedIncidents, rec.DurationSeconds)
				if rec.Errors != "" {
					fmt.Fprintf(out, "    errors: %s\n", rec.Errors)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of records to show")
	return cmd
}

func printSyncResult(cmd *cobra.Command, result *ticket.SyncResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Fetched %d tickets in %s: %d new, %d updated, %d skipped, %d ingested\n",
		result.TotalFetched, result.Duration.Round(timeRounding),
		result.New, result.Updated, result.Skipped, result.Ingested)
	for _, e := range result.Errors {
		fmt.Fprintf(out, "  error: %s\n", e)
	}
}

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"upwatch/internal/app"
	"upwatch/internal/storage"

	"github.com/spf13/cobra"
)

func JobsCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs [chain id]",
		Short: "List pending jobs, or print one retry chain",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cfg, g.cliLogger())
			if err != nil {
				return err
			}
			defer store.Close()

			var jobs []storage.Job
			if len(args) == 1 {
				jobs, err = store.Chain(cmd.Context(), args[0])
				if err == nil && len(jobs) == 0 {
					return fmt.Errorf("chain %s: %w", args[0], storage.ErrNotFound)
				}
			} else {
				jobs, err = store.ListPending(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending jobs.")
				return nil
			}
			return printJobs(cmd.OutOrStdout(), jobs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum pending jobs to list")
	return cmd
}

func printJobs(w io.Writer, jobs []storage.Job) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tRUN AT\tTRIES\tDELAY\tOUTCOME\tTARGET\tURL")
	for _, j := range jobs {
		outcome := j.Outcome
		if outcome == "" {
			outcome = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			j.ID, j.Status, j.RunAt.Format(time.RFC3339), j.TriesRemaining, j.Delay, outcome, j.Target, j.URL)
	}
	return tw.Flush()
}

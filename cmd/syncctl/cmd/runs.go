package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newRunsCmd(opts *globalOptions) *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs (requires a server with run history)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be positive")
			}
			api, _, err := opts.client()
			if err != nil {
				return err
			}
			runs, err := api.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tRUN\tOUTCOME\tSTARTED\tDURATION\tEXIT")
			for _, run := range runs {
				outcome := run.Outcome
				if run.Stale {
					outcome += " (superseded)"
				}
				duration := "-"
				if run.FinishedAt != nil {
					duration = run.FinishedAt.Sub(run.StartedAt).Round(100 * time.Millisecond).String()
				}
				exit := "-"
				switch {
				case run.ExitCode != nil:
					exit = strconv.Itoa(*run.ExitCode)
				case run.Signal != "":
					exit = run.Signal
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					run.Seq,
					shortID(run.RunID),
					outcome,
					humanize.Time(run.StartedAt),
					duration,
					exit,
				)
			}
			return w.Flush()
		},
	}
	c.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return c
}

package cmd

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newTriggerCmd(opts *globalOptions) *cobra.Command {
	var (
		force bool
		watch bool
	)
	c := &cobra.Command{
		Use:   "trigger",
		Short: "Start a refresh run",
		Long: `Start a refresh run on the server.

A run that is already in progress is not interrupted; the request is
rejected unless --force is given. --force starts a new run alongside the
old one, which keeps running but no longer writes to the log.

Examples:
  syncctl trigger              # start a run if idle
  syncctl trigger --watch      # start and follow until it exits
  syncctl trigger --force      # start even if a run is active`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, s, err := opts.client()
			if err != nil {
				return err
			}
			res, err := api.Trigger(cmd.Context(), force)
			if err != nil {
				var apiErr *apiError
				if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
					return fmt.Errorf("%s (use --force to start anyway)", apiErr.Message)
				}
				return err
			}

			out := cmd.OutOrStdout()
			if res.Forced {
				fmt.Fprintf(out, "Sync started (seq %d, run %s, forced)\n", res.Seq, shortID(res.RunID))
			} else {
				fmt.Fprintf(out, "Sync started (seq %d, run %s)\n", res.Seq, shortID(res.RunID))
			}
			if !watch {
				return nil
			}
			return follow(cmd.Context(), api, out, s.PollInterval, res.Seq)
		},
	}
	c.Flags().BoolVarP(&force, "force", "f", false, "start even if a run is in progress")
	c.Flags().BoolVarP(&watch, "watch", "w", false, "follow the run log until the run finishes")
	return c
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

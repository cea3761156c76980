package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var (
		tail   int
		asJSON bool
	)
	c := &cobra.Command{
		Use:   "status",
		Short: "Show the current run and the end of its log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, _, err := opts.client()
			if err != nil {
				return err
			}
			st, err := api.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}

			state := "idle"
			if st.Running {
				state = "running"
			}
			fmt.Fprintf(out, "State:    %s\n", state)
			if st.Seq > 0 {
				fmt.Fprintf(out, "Run:      %s (seq %d)\n", st.RunID, st.Seq)
			}
			if st.StartedAt != nil {
				fmt.Fprintf(out, "Started:  %s\n", humanize.Time(*st.StartedAt))
			}
			if st.Forced {
				fmt.Fprintf(out, "Forced:   yes\n")
			}
			fmt.Fprintf(out, "Log size: %s\n", humanize.Bytes(uint64(len(st.Logs))))
			if !st.Running {
				if code, ok := exitCodeFromLog(st.Logs); ok {
					fmt.Fprintf(out, "Exit:     %d\n", code)
				}
			}

			if lines := lastLines(st.Logs, tail); lines != "" {
				fmt.Fprintln(out)
				fmt.Fprint(out, lines)
				if !strings.HasSuffix(lines, "\n") {
					fmt.Fprintln(out)
				}
			}
			return nil
		},
	}
	c.Flags().IntVarP(&tail, "tail", "n", 20, "number of log lines to show (0 for none)")
	c.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return c
}

// lastLines returns the final n lines of s, ignoring trailing blank lines.
func lastLines(s string, n int) string {
	if n <= 0 {
		return ""
	}
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n") + "\n"
}

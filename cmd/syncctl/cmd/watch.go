package cmd

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var exitLinePattern = regexp.MustCompile(`Process exited with code (-?\d+)\s*$`)

// jobFailedError is returned by watch when the run ended unsuccessfully.
type jobFailedError struct {
	Seq    uint64
	Detail string
}

func (e *jobFailedError) Error() string {
	return fmt.Sprintf("sync run %d failed: %s", e.Seq, e.Detail)
}

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var interval time.Duration
	c := &cobra.Command{
		Use:   "watch",
		Short: "Follow the current run log until the run finishes",
		Long: `Poll the server and print new log output as it arrives.

Exits 0 when the run exits with code 0, and 3 when it fails or could not
be started. If no run is active the current log is printed once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, s, err := opts.client()
			if err != nil {
				return err
			}
			if interval > 0 {
				s.PollInterval = interval
			}
			return follow(cmd.Context(), api, cmd.OutOrStdout(), s.PollInterval, 0)
		},
	}
	c.Flags().DurationVarP(&interval, "interval", "i", 0, "poll interval (default 2s)")
	return c
}

// follow prints the log suffix on every poll until the run is no longer
// active. seq pins the run to follow; 0 follows whatever run is current.
func follow(ctx context.Context, api *client, out io.Writer, interval time.Duration, seq uint64) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		printed    int
		currentSeq = seq
	)
	for {
		st, err := api.Status(ctx)
		if err != nil {
			return err
		}

		if currentSeq == 0 {
			currentSeq = st.Seq
		}
		if st.Seq != currentSeq {
			fmt.Fprintf(out, "\n-- run %d superseded by run %d --\n", currentSeq, st.Seq)
			currentSeq = st.Seq
			printed = 0
		}
		if len(st.Logs) < printed {
			printed = 0
		}
		if len(st.Logs) > printed {
			fmt.Fprint(out, st.Logs[printed:])
			printed = len(st.Logs)
		}

		if !st.Running {
			return outcomeFromLog(currentSeq, st.Logs)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func outcomeFromLog(seq uint64, logs string) error {
	if seq == 0 {
		return nil
	}
	if code, ok := exitCodeFromLog(logs); ok {
		if code == 0 {
			return nil
		}
		return &jobFailedError{Seq: seq, Detail: "exit code " + strconv.Itoa(code)}
	}
	trimmed := strings.TrimRight(logs, "\n")
	last := trimmed[strings.LastIndex(trimmed, "\n")+1:]
	switch {
	case strings.HasPrefix(last, "Spawn Failed:"):
		return &jobFailedError{Seq: seq, Detail: strings.TrimSpace(strings.TrimPrefix(last, "Spawn Failed:"))}
	case strings.HasPrefix(last, "Process terminated by signal"):
		return &jobFailedError{Seq: seq, Detail: strings.TrimPrefix(last, "Process terminated by ")}
	}
	return nil
}

func exitCodeFromLog(logs string) (int, bool) {
	m := exitLinePattern.FindStringSubmatch(logs)
	if m == nil {
		return 0, false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

type globalOptions struct {
	server     string
	configPath string
	timeout    time.Duration
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// ExitCode maps a command error to the process exit status. A watched job
// that failed exits 3 so scripts can tell it apart from usage errors.
func ExitCode(err error) int {
	var failed *jobFailedError
	if errors.As(err, &failed) {
		return 3
	}
	return 1
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "syncctl",
		Short: "Trigger and follow data refresh runs",
		Long: `syncctl talks to a running syncd server.

It starts refresh runs, shows the current run and its log, and follows a
run until it finishes.

Settings are read from flags, then SYNCCTL_SERVER, then the config file
(default: $XDG_CONFIG_HOME/syncctl/config.toml).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", "", "syncd base URL (default http://localhost:8090)")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "HTTP request timeout (default 10s)")

	root.Version = Version
	root.SetVersionTemplate("syncctl {{.Version}}\n")

	root.AddCommand(
		newTriggerCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(opts),
		newRunsCmd(opts),
	)
	return root
}

// client builds an API client from flags, environment and config file.
func (o *globalOptions) client() (*client, settings, error) {
	s, err := loadSettings(o)
	if err != nil {
		return nil, settings{}, err
	}
	return newClient(s.Server, s.Timeout), s, nil
}

package main

import (
	"fmt"
	"os"

	"github.com/animus-labs/refresh-go/cmd/syncctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cmd.ExitCode(err))
	}
}

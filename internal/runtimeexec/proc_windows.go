//go:build windows

package runtimeexec

import (
	"os"
	"os/exec"
)

func configureCommandProcess(cmd *exec.Cmd) {}

func signalName(state *os.ProcessState) string {
	return ""
}

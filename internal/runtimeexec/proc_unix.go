//go:build !windows

package runtimeexec

import (
	"os"
	"os/exec"
	"syscall"
)

// configureCommandProcess puts the job in its own process group so signals
// aimed at the server (Ctrl-C, SIGTERM to the group) do not reach it.
func configureCommandProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalName(state *os.ProcessState) string {
	if state == nil {
		return ""
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return ws.Signal().String()
}

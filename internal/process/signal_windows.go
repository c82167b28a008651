//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
)

// signalGroup terminates the child. Windows has no SIGTERM, so the graceful
// and forced paths are the same.
func signalGroup(cmd *exec.Cmd, _ bool) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	err := cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func exitCode(st *os.ProcessState) int {
	return st.ExitCode()
}

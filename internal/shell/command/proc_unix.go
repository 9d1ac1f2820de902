//go:build !windows

package command

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the child in its own group and makes
// cancellation kill the whole group.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

//go:build windows

package command

import "os/exec"

// configureProcessGroup keeps the default Kill on cancellation.
func configureProcessGroup(cmd *exec.Cmd) {}

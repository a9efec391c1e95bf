//go:build !windows

// Package procgroup runs helper processes in their own process group so they can be
// stopped together with anything they spawned.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
)

// Set makes cmd start a new process group.
func Set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Kill kills the process group of a started cmd. A group that is already gone is not
// an error.
func Kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	// Not a group leader, e.g. Set was not called.
	return cmd.Process.Kill()
}

//go:build unix

package worker

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the worker as the leader of a new process group,
// so that anything it spawns can be killed along with it.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to every process in the worker's group.
// A group that is already gone is not an error.
func killProcessGroup(cmd *exec.Cmd) error {
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

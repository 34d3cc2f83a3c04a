//go:build unix

package execout

import (
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	// A negative pid addresses the whole process group.
	return syscall.Kill(-cmd.Process.Pid, sig)
}

func suspendGroup(cmd *exec.Cmd) error  { return signalGroup(cmd, syscall.SIGSTOP) }
func continueGroup(cmd *exec.Cmd) error { return signalGroup(cmd, syscall.SIGCONT) }
func killGroup(cmd *exec.Cmd) error     { return signalGroup(cmd, syscall.SIGKILL) }

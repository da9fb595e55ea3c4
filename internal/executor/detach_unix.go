//go:build unix

package executor

import (
	"os/exec"
	"syscall"
)

// detach starts the command in a new session, away from the server's
// process group and controlling terminal.
func detach(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
}

//go:build !unix

package executor

import "os/exec"

func detach(cmd *exec.Cmd) {}

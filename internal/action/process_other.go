//go:build !unix

package action

import "os/exec"

func configureProcessGroup(cmd *exec.Cmd) {}

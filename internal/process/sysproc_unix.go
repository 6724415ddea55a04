//go:build unix

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// the tool gets its own process group so ffmpeg children die with it
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return os.ErrProcessDone
	}

	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}

	if err != nil {
		return cmd.Process.Kill()
	}

	return nil
}

//go:build windows

package engine

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

const _CREATE_NEW_PROCESS_GROUP = 0x00000200

func setPlatformProcessAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: _CREATE_NEW_PROCESS_GROUP,
	}
}

// terminateProcessPlatform kills the engine and its children with taskkill,
// falling back to TerminateProcess through os.Process.
func terminateProcessPlatform(proc *os.Process, pid int) error {
	// taskkill /F /T /PID <pid> → force kill + kill child processes
	if err := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run(); err == nil {
		return nil
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

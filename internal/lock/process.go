package lock

import (
	"errors"
	"os"
	"syscall"
)

// isProcessRunning checks if a process exists using signal 0.
// EPERM means the process exists but belongs to another user.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

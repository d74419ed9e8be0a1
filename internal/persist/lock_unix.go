//go:build unix

package persist

import (
	"os"
	"syscall"
)

func (l *fileLocker) tryLock() error {
	return syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
}

func (l *fileLocker) unlock() {
	if l.lockFile != nil {
		syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_UN)
	}
}

func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on unix; signal 0 probes for existence
	return process.Signal(syscall.Signal(0)) == nil
}

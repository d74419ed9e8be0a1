package persist

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultLockTimeout = 2 * time.Second
	initialBackoff     = 5 * time.Millisecond
	maxBackoff         = 50 * time.Millisecond
)

// fileLocker serializes snapshot writers across processes using OS file locks.
// The lock is released automatically when the process exits.
type fileLocker struct {
	lockPath string
	lockFile *os.File
}

func newFileLocker(path string) *fileLocker {
	return &fileLocker{lockPath: path + ".lock"}
}

// acquire tries to get an exclusive lock, retrying with capped exponential backoff.
func (l *fileLocker) acquire(timeout time.Duration) error {
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.lockFile = f

	deadline := time.Now().Add(timeout)
	backoff := initialBackoff

	for {
		if err := l.tryLock(); err == nil {
			l.writeHolder()
			return nil
		}

		if time.Now().After(deadline) {
			holder := l.readHolder()
			l.lockFile.Close()
			l.lockFile = nil
			return fmt.Errorf("snapshot lock timeout after %v (holder: %s)", timeout, holder)
		}

		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

func (l *fileLocker) release() {
	if l.lockFile == nil {
		return
	}
	l.lockFile.Truncate(0)
	l.unlock()
	l.lockFile.Close()
	l.lockFile = nil
}

func (l *fileLocker) writeHolder() {
	if l.lockFile == nil {
		return
	}
	l.lockFile.Truncate(0)
	l.lockFile.Seek(0, 0)
	fmt.Fprintf(l.lockFile, "pid:%d\ntime:%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
}

// readHolder reports who holds the lock, for timeout diagnostics.
func (l *fileLocker) readHolder() string {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		return "unknown"
	}

	var pid, ts string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		switch {
		case strings.HasPrefix(line, "pid:"):
			pid = strings.TrimPrefix(line, "pid:")
		case strings.HasPrefix(line, "time:"):
			ts = strings.TrimPrefix(line, "time:")
		}
	}
	if pid == "" {
		return "unknown"
	}
	if n, err := strconv.Atoi(pid); err == nil && !isProcessAlive(n) {
		return fmt.Sprintf("pid:%s since %s (stale)", pid, ts)
	}
	return fmt.Sprintf("pid:%s since %s", pid, ts)
}

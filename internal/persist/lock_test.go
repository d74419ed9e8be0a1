//go:build unix

package persist

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFileLocker_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote.json")
	l := newFileLocker(path)

	if err := l.acquire(500 * time.Millisecond); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	data, err := os.ReadFile(path + ".lock")
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if len(data) == 0 {
		t.Error("lock file should contain holder info")
	}
	l.release()
}

func TestFileLocker_Timeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote.json")
	holder := newFileLocker(path)
	if err := holder.acquire(time.Second); err != nil {
		t.Fatal(err)
	}
	defer holder.release()

	// flock is per open file description, so a second locker contends
	waiter := newFileLocker(path)
	if err := waiter.acquire(30 * time.Millisecond); err == nil {
		waiter.release()
		t.Fatal("expected timeout while lock is held")
	}
}

func TestFileLocker_Serializes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote.json")

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := newFileLocker(path)
			if err := l.acquire(2 * time.Second); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			l.release()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("lock held by %d goroutines at once", maxSeen)
	}
}

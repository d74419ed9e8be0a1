package sync

import (
	"testing"
	"time"
)

func TestBackoffDoublesToCeiling(t *testing.T) {
	base, max := time.Second, 5*time.Minute
	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 64 * time.Second, 128 * time.Second,
		256 * time.Second, 5 * time.Minute, 5 * time.Minute,
	}
	for failures, w := range want {
		if got := Backoff(base, max, failures); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", failures, got, w)
		}
	}
}

func TestBackoffMonotonicAndBounded(t *testing.T) {
	prev := time.Duration(0)
	for failures := 0; failures < 200; failures++ {
		d := Backoff(time.Second, 5*time.Minute, failures)
		if d < prev {
			t.Fatalf("Backoff(%d) = %v decreased from %v", failures, d, prev)
		}
		if d > 5*time.Minute {
			t.Fatalf("Backoff(%d) = %v exceeds ceiling", failures, d)
		}
		prev = d
	}
}

func TestBackoffNoCeilingDoesNotOverflow(t *testing.T) {
	if d := Backoff(time.Second, 0, 500); d <= 0 {
		t.Fatalf("Backoff overflowed to %v", d)
	}
	if d := Backoff(0, time.Minute, 3); d != 0 {
		t.Fatalf("zero base should give zero, got %v", d)
	}
}

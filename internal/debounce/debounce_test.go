package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWindowCoalescesWithinWindow(t *testing.T) {
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	window := New(time.Second, func() time.Time { return now })

	var calls int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = window.Do("topic-a", func() error {
				atomic.AddInt32(&calls, 1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one underlying call, got %d", got)
	}
}

func TestWindowDoesNotDropDistinctKeys(t *testing.T) {
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	window := New(time.Second, func() time.Time { return now })

	var calls int32
	_ = window.Do("topic-a", func() error { atomic.AddInt32(&calls, 1); return nil })
	_ = window.Do("topic-b", func() error { atomic.AddInt32(&calls, 1); return nil })

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected distinct keys to both run, got %d calls", got)
	}
}

func TestWindowRunsAgainAfterExpiry(t *testing.T) {
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	window := New(time.Second, func() time.Time { return now })

	var calls int32
	_ = window.Do("topic-a", func() error { atomic.AddInt32(&calls, 1); return nil })
	now = now.Add(2 * time.Second)
	_ = window.Do("topic-a", func() error { atomic.AddInt32(&calls, 1); return nil })

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected call to re-run after window expiry, got %d", got)
	}
}

func TestWindowDisabledRunsEveryCall(t *testing.T) {
	window := New(0, nil)
	var calls int32
	for i := 0; i < 3; i++ {
		_ = window.Do("topic-a", func() error { atomic.AddInt32(&calls, 1); return nil })
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected every call to run when disabled, got %d", got)
	}
}

package sync

import (
	"errors"
	stdsync "sync"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	locks := NewLockService()

	if err := locks.Acquire("sess-1", time.Minute); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !locks.IsLocked("sess-1") {
		t.Error("IsLocked() = false after acquire")
	}
	if locks.IsLocked("sess-2") {
		t.Error("IsLocked() = true for unheld session")
	}

	locks.Release("sess-1")
	if locks.IsLocked("sess-1") {
		t.Error("IsLocked() = true after release")
	}
	if err := locks.Acquire("sess-1", time.Minute); err != nil {
		t.Errorf("Acquire() after release error = %v", err)
	}
}

func TestAcquireHeldFailsImmediately(t *testing.T) {
	locks := NewLockService()

	if err := locks.Acquire("sess-1", time.Minute); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	start := time.Now()
	err := locks.Acquire("sess-1", time.Minute)
	if !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("second Acquire() error = %v, want ErrSyncInProgress", err)
	}
	// No blocking path: contention must fail immediately, not queue.
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("contended Acquire() took %v", elapsed)
	}
}

func TestConcurrentAcquireExactlyOneWinner(t *testing.T) {
	locks := NewLockService()

	const callers = 8
	var (
		wg       stdsync.WaitGroup
		mu       stdsync.Mutex
		acquired int
		rejected int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := locks.Acquire("sess-1", time.Minute)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				acquired++
			} else if errors.Is(err, ErrSyncInProgress) {
				rejected++
			}
		}()
	}
	close(start)
	wg.Wait()

	if acquired != 1 || rejected != callers-1 {
		t.Errorf("acquired = %d, rejected = %d, want 1 and %d", acquired, rejected, callers-1)
	}
}

func TestExpiredLockIsReacquirable(t *testing.T) {
	locks := NewLockService()

	if err := locks.Acquire("sess-1", 20*time.Millisecond); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if locks.IsLocked("sess-1") {
		t.Error("IsLocked() = true after expiry")
	}
	if err := locks.Acquire("sess-1", time.Minute); err != nil {
		t.Errorf("Acquire() after expiry error = %v", err)
	}
}

func TestStatsAndCleanup(t *testing.T) {
	locks := NewLockService()

	if err := locks.Acquire("held", time.Minute); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := locks.Acquire("expired", 10*time.Millisecond); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	stats := locks.Stats()
	if stats.Held != 1 || stats.Expired != 1 {
		t.Errorf("stats = %+v, want 1 held, 1 expired", stats)
	}

	if removed := locks.Cleanup(); removed != 1 {
		t.Errorf("Cleanup() = %d, want 1", removed)
	}
	stats = locks.Stats()
	if stats.Held != 1 || stats.Expired != 0 {
		t.Errorf("stats after cleanup = %+v", stats)
	}
}

func TestZeroTTLUsesDefault(t *testing.T) {
	locks := NewLockService()
	if err := locks.Acquire("sess-1", 0); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !locks.IsLocked("sess-1") {
		t.Error("IsLocked() = false; zero ttl should mean the default, not instant expiry")
	}
}

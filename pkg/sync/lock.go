// Package sync implements the cross-provider synchronization engine: the
// in-process per-session lock service and the orchestrator that probes for
// changes, computes deltas, converts them, and advances checkpoints.
package sync

import (
	"errors"
	stdsync "sync"
	"time"
)

// ErrSyncInProgress is returned by Acquire when a non-expired lock for the
// session is already held. Callers treat "already syncing" as "skip this
// cycle"; nothing queues behind a held lock.
var ErrSyncInProgress = errors.New("sync already in progress for session")

// DefaultLockTTL bounds how long a sync lock survives without release, so a
// sync that dies mid-flight cannot wedge its session forever.
const DefaultLockTTL = 30 * time.Second

type lockEntry struct {
	acquiredAt time.Time
	expiresAt  time.Time
}

// LockService provides in-process, per-session mutual exclusion for sync
// execution. Expiry is checked lazily on Acquire and IsLocked; Cleanup exists
// only for stats hygiene, not correctness.
type LockService struct {
	mu    stdsync.Mutex
	locks map[string]lockEntry
}

// NewLockService creates an empty lock service.
func NewLockService() *LockService {
	return &LockService{locks: make(map[string]lockEntry)}
}

// Acquire takes the lock for sessionID for at most ttl. It fails immediately
// with ErrSyncInProgress when a non-expired lock is held; there is no
// blocking path. A non-positive ttl means DefaultLockTTL.
func (s *LockService) Acquire(sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.locks[sessionID]; ok && now.Before(entry.expiresAt) {
		return ErrSyncInProgress
	}
	s.locks[sessionID] = lockEntry{acquiredAt: now, expiresAt: now.Add(ttl)}
	return nil
}

// Release drops the lock for sessionID. Releasing an unheld lock is a no-op.
func (s *LockService) Release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, sessionID)
}

// IsLocked reports whether a non-expired lock is held for sessionID.
func (s *LockService) IsLocked(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.locks[sessionID]
	return ok && time.Now().Before(entry.expiresAt)
}

// LockStats summarizes lock state for status reporting.
type LockStats struct {
	Held    int `json:"held"`
	Expired int `json:"expired"`
}

// Stats counts held and expired-but-unswept locks.
func (s *LockService) Stats() LockStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var stats LockStats
	for _, entry := range s.locks {
		if now.Before(entry.expiresAt) {
			stats.Held++
		} else {
			stats.Expired++
		}
	}
	return stats
}

// Cleanup sweeps expired entries and returns how many were removed.
func (s *LockService) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, entry := range s.locks {
		if !now.Before(entry.expiresAt) {
			delete(s.locks, id)
			removed++
		}
	}
	return removed
}

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/tandem-dev/tandem/internal/fsutil"
)

const (
	registryFileName = "registry.json"
	lockFileName     = "registry.lock"

	// lockRetryInterval paces the acquisition retry loop.
	lockRetryInterval = 50 * time.Millisecond
)

// lockMarker is the content of the lock file: enough to identify the owner
// and decide staleness.
type lockMarker struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// FileBackend stores the registry as a single JSON document with a sibling
// lock-marker file gating writes. The lock is taken by atomically creating
// the marker (O_CREATE|O_EXCL); a marker whose recorded owner PID is no
// longer alive is treated as stale and removed before retrying.
type FileBackend struct {
	path     string
	lockPath string
	timeout  time.Duration
	logger   *log.Logger

	mu     sync.Mutex
	closed bool
	held   bool
}

// FileBackendConfig configures a FileBackend.
type FileBackendConfig struct {
	// Dir is the state directory holding registry.json and registry.lock.
	Dir string

	// LockTimeout bounds lock acquisition. Zero means DefaultLockTimeout.
	LockTimeout time.Duration

	// Logger receives stale-lock warnings. Defaults to a prefixed stderr
	// logger.
	Logger *log.Logger
}

// NewFileBackend creates the backend and ensures the state directory exists.
func NewFileBackend(cfg FileBackendConfig) (*FileBackend, error) {
	if cfg.Dir == "" {
		return nil, errors.New("registry: state directory is required")
	}
	if err := fsutil.EnsureDir(cfg.Dir); err != nil {
		return nil, fmt.Errorf("init registry directory: %w", err)
	}
	timeout := cfg.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[registry] ", log.LstdFlags)
	}
	return &FileBackend{
		path:     filepath.Join(cfg.Dir, registryFileName),
		lockPath: filepath.Join(cfg.Dir, lockFileName),
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// AcquireLock takes the cross-process lock. On contention it inspects the
// recorded owner PID; a dead owner's marker is removed and acquisition
// retried within the same cycle.
func (f *FileBackend) AcquireLock(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrBackendClosed
	}
	f.mu.Unlock()

	deadline := time.Now().Add(f.timeout)
	for {
		ok, err := f.tryLock()
		if err != nil {
			return err
		}
		if ok {
			f.mu.Lock()
			f.held = true
			f.mu.Unlock()
			return nil
		}

		if f.reapStaleLock() {
			continue
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire registry lock: %w", ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}

// tryLock attempts one atomic lock-file creation. A false return with nil
// error means the lock is held by someone else.
func (f *FileBackend) tryLock() (bool, error) {
	file, err := os.OpenFile(f.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600) // #nosec G304 - path built from validated config
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create lock file: %w", err)
	}

	marker := lockMarker{PID: os.Getpid(), AcquiredAt: time.Now().UTC()}
	data, err := json.Marshal(marker)
	if err == nil {
		_, err = file.Write(data)
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.lockPath)
		return false, fmt.Errorf("write lock marker: %w", err)
	}
	return true, nil
}

// reapStaleLock removes the lock file when its recorded owner is no longer
// running. Returns true when a stale marker was removed and acquisition
// should be retried immediately.
func (f *FileBackend) reapStaleLock() bool {
	data, err := os.ReadFile(f.lockPath) // #nosec G304 - path built from validated config
	if err != nil {
		// Gone between the failed create and now; retry either way.
		return os.IsNotExist(err)
	}
	var marker lockMarker
	if err := json.Unmarshal(data, &marker); err != nil || marker.PID <= 0 {
		// Unreadable marker: treat as stale rather than deadlocking every
		// future writer behind a corrupt file.
		f.logger.Printf("warning: removing unreadable registry lock %s", f.lockPath)
		_ = os.Remove(f.lockPath)
		return true
	}
	if marker.PID == os.Getpid() || processAlive(marker.PID) {
		return false
	}
	f.logger.Printf("warning: removing stale registry lock held by dead pid %d", marker.PID)
	_ = os.Remove(f.lockPath)
	return true
}

// processAlive reports whether pid refers to a running process. Signal 0
// performs the existence check without delivering anything; EPERM still
// means the process exists.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// ReleaseLock removes the lock marker held by this process.
func (f *FileBackend) ReleaseLock() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.held {
		return nil
	}
	f.held = false
	if err := os.Remove(f.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Load reads the registry document. Missing or corrupt files yield an empty
// registry; corruption is logged, never fatal.
func (f *FileBackend) Load(ctx context.Context) (*Document, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrBackendClosed
	}
	f.mu.Unlock()

	data, err := os.ReadFile(f.path) // #nosec G304 - path built from validated config
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("read registry file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		f.logger.Printf("warning: corrupt registry file %s, starting empty: %v", f.path, err)
		return NewDocument(), nil
	}
	if doc.Sessions == nil {
		doc.Sessions = make(map[string]*Entry)
	}
	return &doc, nil
}

// Store writes the full document atomically.
func (f *FileBackend) Store(ctx context.Context, doc *Document) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrBackendClosed
	}
	f.mu.Unlock()

	doc.Version = DocumentVersion
	doc.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	if err := fsutil.WriteFileAtomic(f.path, data, 0600); err != nil {
		return fmt.Errorf("write registry file: %w", err)
	}
	return nil
}

// Close marks the backend closed and drops a still-held lock.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	held := f.held
	f.held = false
	f.closed = true
	f.mu.Unlock()

	if held {
		if err := os.Remove(f.lockPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove lock file: %w", err)
		}
	}
	return nil
}

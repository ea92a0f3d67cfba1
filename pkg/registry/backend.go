package registry

import (
	"context"
	"errors"
	"time"
)

// Common errors for registry operations.
var (
	// ErrSessionNotFound is returned when a tag has no registry entry.
	ErrSessionNotFound = errors.New("session not found")
	// ErrLockTimeout is returned when the cross-process lock could not be
	// acquired within the timeout. The caller must not assume the mutation
	// happened.
	ErrLockTimeout = errors.New("registry lock acquisition timed out")
	// ErrBackendClosed is returned when operating on a closed backend.
	ErrBackendClosed = errors.New("registry backend is closed")
)

// DefaultLockTimeout bounds cross-process lock acquisition.
const DefaultLockTimeout = 5 * time.Second

// Backend abstracts registry document storage plus its exclusive
// cross-process lock. Implementations must be safe for concurrent use within
// a process; exclusion across processes is what the lock provides.
type Backend interface {
	// AcquireLock takes the exclusive cross-process lock, retrying with
	// short backoff until the configured timeout. It fails closed with
	// ErrLockTimeout rather than blocking indefinitely.
	AcquireLock(ctx context.Context) error

	// ReleaseLock releases a lock held by this process.
	ReleaseLock() error

	// Load reads the full registry document. A corrupt or missing document
	// is treated as an empty registry, not an error.
	Load(ctx context.Context) (*Document, error)

	// Store writes the full registry document atomically.
	Store(ctx context.Context, doc *Document) error

	// Close releases any resources held by the backend.
	Close() error
}

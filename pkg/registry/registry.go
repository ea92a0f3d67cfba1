package registry

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"time"
)

// Registry is the backend-agnostic session directory. Every mutation runs
// the same discipline: acquire the exclusive cross-process lock, read the
// full document, mutate in memory, write the full document back, release.
type Registry struct {
	backend Backend
	pid     int
	logger  *log.Logger
}

// Config wires a Registry to its backend.
type Config struct {
	Backend Backend

	// Logger receives warnings. Defaults to a prefixed stderr logger.
	Logger *log.Logger
}

// New creates a Registry over the given backend.
func New(cfg Config) (*Registry, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("registry: backend is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[registry] ", log.LstdFlags)
	}
	return &Registry{backend: cfg.Backend, pid: os.Getpid(), logger: logger}, nil
}

// mutate runs fn against the current document under the cross-process lock
// and persists the result.
func (r *Registry) mutate(ctx context.Context, fn func(doc *Document) error) error {
	if err := r.backend.AcquireLock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := r.backend.ReleaseLock(); err != nil {
			r.logger.Printf("warning: release registry lock: %v", err)
		}
	}()

	doc, err := r.backend.Load(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return r.backend.Store(ctx, doc)
}

// Register creates an entry for tag owned by this process. Re-registering an
// existing tag reactivates it, takes ownership, and merges provider info.
func (r *Registry) Register(ctx context.Context, tag string, providers map[string]*ProviderInfo) error {
	now := time.Now().UTC()
	return r.mutate(ctx, func(doc *Document) error {
		entry, ok := doc.Sessions[tag]
		if !ok {
			entry = &Entry{
				Tag:       tag,
				CreatedAt: now,
				Providers: make(map[string]*ProviderInfo),
			}
			doc.Sessions[tag] = entry
		}
		entry.PID = r.pid
		entry.Status = StatusActive
		entry.LastActivity = now
		for name, info := range providers {
			entry.Providers[name] = info
		}
		return nil
	})
}

// UpdateProvider records a provider hand-off for tag: the new provider
// session info, ownership by this process, and fresh activity.
func (r *Registry) UpdateProvider(ctx context.Context, tag, provider string, info *ProviderInfo) error {
	return r.mutate(ctx, func(doc *Document) error {
		entry, ok := doc.Sessions[tag]
		if !ok {
			return fmt.Errorf("tag %s: %w", tag, ErrSessionNotFound)
		}
		if entry.Providers == nil {
			entry.Providers = make(map[string]*ProviderInfo)
		}
		entry.Providers[provider] = info
		entry.PID = r.pid
		entry.LastActivity = time.Now().UTC()
		return nil
	})
}

// Get returns the entry for tag.
func (r *Registry) Get(ctx context.Context, tag string) (*Entry, error) {
	doc, err := r.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := doc.Sessions[tag]
	if !ok {
		return nil, fmt.Errorf("tag %s: %w", tag, ErrSessionNotFound)
	}
	return entry, nil
}

// ListActive returns all active sessions, most recently active first.
func (r *Registry) ListActive(ctx context.Context) ([]*Entry, error) {
	return r.list(ctx, func(e *Entry) bool { return e.Status == StatusActive })
}

// ListAll returns every session, most recently active first.
func (r *Registry) ListAll(ctx context.Context) ([]*Entry, error) {
	return r.list(ctx, func(e *Entry) bool { return true })
}

func (r *Registry) list(ctx context.Context, keep func(*Entry) bool) ([]*Entry, error) {
	doc, err := r.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(doc.Sessions))
	for _, e := range doc.Sessions {
		if keep(e) {
			entries = append(entries, e)
		}
	}
	sortByActivity(entries)
	return entries, nil
}

// MostRecentActive returns the active session with the newest activity, or
// ErrSessionNotFound when none exists.
func (r *Registry) MostRecentActive(ctx context.Context) (*Entry, error) {
	entries, err := r.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrSessionNotFound
	}
	return entries[0], nil
}

// Touch refreshes tag's last-activity timestamp.
func (r *Registry) Touch(ctx context.Context, tag string) error {
	return r.mutate(ctx, func(doc *Document) error {
		entry, ok := doc.Sessions[tag]
		if !ok {
			return fmt.Errorf("tag %s: %w", tag, ErrSessionNotFound)
		}
		entry.LastActivity = time.Now().UTC()
		return nil
	})
}

// Archive marks tag archived. Archived sessions are excluded from active
// listings and from SyncAll fan-out but keep their providers recorded.
func (r *Registry) Archive(ctx context.Context, tag string) error {
	return r.mutate(ctx, func(doc *Document) error {
		entry, ok := doc.Sessions[tag]
		if !ok {
			return fmt.Errorf("tag %s: %w", tag, ErrSessionNotFound)
		}
		entry.Status = StatusArchived
		entry.LastActivity = time.Now().UTC()
		return nil
	})
}

// Remove deletes tag's entry entirely. This is the only physical deletion
// path.
func (r *Registry) Remove(ctx context.Context, tag string) error {
	return r.mutate(ctx, func(doc *Document) error {
		if _, ok := doc.Sessions[tag]; !ok {
			return fmt.Errorf("tag %s: %w", tag, ErrSessionNotFound)
		}
		delete(doc.Sessions, tag)
		return nil
	})
}

// IsOwner reports whether this process owns tag. Sync for a tag must only
// run in its owning process; this is the convention that keeps same-tag sync
// from racing across processes.
func (r *Registry) IsOwner(ctx context.Context, tag string) (bool, error) {
	entry, err := r.Get(ctx, tag)
	if err != nil {
		return false, err
	}
	return entry.PID == r.pid, nil
}

// Stats summarizes the registry.
func (r *Registry) Stats(ctx context.Context) (*Stats, error) {
	doc, err := r.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{Total: len(doc.Sessions)}
	for _, e := range doc.Sessions {
		switch e.Status {
		case StatusActive:
			stats.Active++
			if e.PID == r.pid {
				stats.Owned++
			}
		case StatusArchived:
			stats.Archived++
		}
	}
	return stats, nil
}

// Close closes the underlying backend.
func (r *Registry) Close() error {
	return r.backend.Close()
}

func sortByActivity(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastActivity.After(entries[j].LastActivity)
	})
}

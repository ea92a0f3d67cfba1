// Package watch provides the sync daemon that watches provider session
// stores and triggers synchronization when they change.
//
// The daemon:
// 1. Watches each provider's store directory for file changes
// 2. Debounces rapid writes into one sync per quiet period
// 3. Rate-limits sync triggers so a busy provider cannot thrash the engine
// 4. Runs a scheduled full sync as a safety net
// 5. Handles graceful shutdown
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/tandem-dev/tandem/pkg/observability"
	tandemsync "github.com/tandem-dev/tandem/pkg/sync"
)

// Syncer triggers synchronization for every owned active session. The
// production implementation is the sync engine.
type Syncer interface {
	SyncAll(ctx context.Context, from string) ([]*tandemsync.Result, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Dirs maps a provider name to the store directory to watch for it.
	Dirs map[string]string

	// Debounce is how long a provider's changes accumulate before one
	// sync is triggered for all of them.
	Debounce time.Duration

	// Schedule is a cron expression for the periodic full sync. Empty
	// disables it.
	Schedule string

	// RateLimit caps sync triggers per second; Burst is the ceiling.
	RateLimit float64
	Burst     int

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce:  2 * time.Second,
		Schedule:  "@every 5m",
		RateLimit: 2,
		Burst:     2,
		Logger:    log.New(os.Stderr, "[watch] ", log.LstdFlags),
	}
}

// Daemon orchestrates file watching and sync triggering.
type Daemon struct {
	syncer  Syncer
	config  *Config
	watcher *fsnotify.Watcher
	limiter *rate.Limiter
	cron    *cron.Cron

	// pending maps a provider to when its first unflushed change arrived.
	pending   map[string]time.Time
	pendingMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon over the given syncer.
func New(syncer Syncer, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if len(config.Dirs) == 0 {
		return nil, fmt.Errorf("at least one watch directory is required")
	}
	if config.Debounce <= 0 {
		config.Debounce = 2 * time.Second
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 2
	}
	if config.Burst <= 0 {
		config.Burst = 2
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[watch] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		syncer:  syncer,
		config:  config,
		watcher: watcher,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
		pending: make(map[string]time.Time),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins watching and blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	for provider, dir := range d.config.Dirs {
		if err := d.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s directory %s: %w", provider, dir, err)
		}
		d.config.Logger.Printf("Watching %s: %s", provider, dir)
	}

	if d.config.Schedule != "" {
		d.cron = cron.New()
		for provider := range d.config.Dirs {
			if _, err := d.cron.AddFunc(d.config.Schedule, func() {
				d.triggerSync(provider, "schedule")
			}); err != nil {
				return fmt.Errorf("invalid schedule %q: %w", d.config.Schedule, err)
			}
		}
		d.cron.Start()
	}

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.flushPending()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.cancel()
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()
	d.config.Logger.Println("Daemon stopped")
	return nil
}

// watchFileEvents monitors filesystem events and queues provider changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			provider, ok := d.providerFor(event.Name)
			if !ok {
				continue
			}
			observability.RecordWatchEvent(provider)
			d.queueChange(provider)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// providerFor maps a changed path back to the provider whose store it
// belongs to. Temp files from atomic writes are ignored.
func (d *Daemon) providerFor(path string) (string, bool) {
	if strings.Contains(filepath.Base(path), ".tmp-") {
		return "", false
	}
	for provider, dir := range d.config.Dirs {
		if strings.HasPrefix(path, dir+string(filepath.Separator)) || path == dir {
			return provider, true
		}
	}
	return "", false
}

// queueChange records the first unflushed change time for a provider.
// Later changes within the same quiet period do not push the flush out;
// a continuously-busy store still syncs once per debounce interval.
func (d *Daemon) queueChange(provider string) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	if _, ok := d.pending[provider]; !ok {
		d.pending[provider] = time.Now()
	}
}

// flushPending periodically flushes providers whose quiet period elapsed.
func (d *Daemon) flushPending() {
	defer d.wg.Done()

	tick := d.config.Debounce / 4
	if tick < 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			for _, provider := range d.takeElapsed() {
				d.triggerSync(provider, "watch")
			}
		}
	}
}

// takeElapsed removes and returns providers whose debounce window passed.
func (d *Daemon) takeElapsed() []string {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	now := time.Now()
	var due []string
	for provider, firstSeen := range d.pending {
		if now.Sub(firstSeen) >= d.config.Debounce {
			due = append(due, provider)
			delete(d.pending, provider)
		}
	}
	return due
}

// triggerSync runs SyncAll for the provider unless the rate limiter says the
// engine is already saturated; a throttled trigger is re-queued so the
// change is not lost.
func (d *Daemon) triggerSync(provider, reason string) {
	if !d.limiter.Allow() {
		observability.RecordThrottledSync()
		d.config.Logger.Printf("Sync for %s throttled (%s)", provider, reason)
		d.queueChange(provider)
		return
	}

	results, err := d.syncer.SyncAll(d.ctx, provider)
	if err != nil {
		d.config.Logger.Printf("Sync for %s failed (%s): %v", provider, reason, err)
		return
	}
	synced, failed := 0, 0
	for _, res := range results {
		if res.Success {
			synced += res.SyncedItems
		} else {
			failed++
		}
	}
	if synced > 0 || failed > 0 {
		d.config.Logger.Printf("Sync for %s (%s): %d items, %d failed sessions", provider, reason, synced, failed)
	}
}

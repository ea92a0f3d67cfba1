package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/tandem-dev/tandem/internal/observability"
	"github.com/tandem-dev/tandem/pkg/message"
	metrics "github.com/tandem-dev/tandem/pkg/observability"
	"github.com/tandem-dev/tandem/pkg/provider"
	"github.com/tandem-dev/tandem/pkg/registry"
)

// Result reports one sync execution. A sync never throws into the save path
// that triggered it: every failure lands in Errors instead.
type Result struct {
	Tag         string   `json:"tag"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Success     bool     `json:"success"`
	SyncedItems int      `json:"syncedItems"`
	Skipped     bool     `json:"skipped"`
	Errors      []string `json:"errors,omitempty"`
}

// EngineConfig wires the engine to its collaborators.
type EngineConfig struct {
	// Handlers are the wired providers, exactly one per provider name.
	// Sync needs at least two: a source and its counterpart.
	Handlers []provider.Handler

	// Registry scopes SyncAll to active sessions owned by this process.
	Registry *registry.Registry

	// Locks serializes same-tag syncs within the process.
	Locks *LockService

	// LockTTL bounds a single sync's lock hold. Zero means DefaultLockTTL.
	LockTTL time.Duration

	// MaxConcurrent bounds SyncAll fan-out. Zero means 4.
	MaxConcurrent int

	// Logger receives failure context. Defaults to a prefixed stderr
	// logger.
	Logger *log.Logger
}

// Engine orchestrates cross-provider synchronization: probe, delta, convert,
// write, checkpoint advance, in that order, with checkpoints advancing only
// after a confirmed destination write.
type Engine struct {
	handlers      map[string]provider.Handler
	reg           *registry.Registry
	locks         *LockService
	lockTTL       time.Duration
	maxConcurrent int
	logger        *log.Logger
}

// NewEngine validates the config and returns a ready engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if len(cfg.Handlers) < 2 {
		return nil, errors.New("sync engine: at least two provider handlers are required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("sync engine: registry is required")
	}
	handlers := make(map[string]provider.Handler, len(cfg.Handlers))
	for _, h := range cfg.Handlers {
		if _, dup := handlers[h.Name()]; dup {
			return nil, fmt.Errorf("sync engine: duplicate handler for provider %q", h.Name())
		}
		handlers[h.Name()] = h
	}
	locks := cfg.Locks
	if locks == nil {
		locks = NewLockService()
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{
		handlers:      handlers,
		reg:           cfg.Registry,
		locks:         locks,
		lockTTL:       cfg.LockTTL,
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}, nil
}

// Locks exposes the in-process lock service for status reporting.
func (e *Engine) Locks() *LockService { return e.locks }

// counterpart resolves the destination handler for a source provider. With
// exactly two providers wired, the destination is simply the other one.
func (e *Engine) counterpart(from string) (provider.Handler, error) {
	if _, ok := e.handlers[from]; !ok {
		return nil, fmt.Errorf("unknown source provider %q", from)
	}
	for name, h := range e.handlers {
		if name != from {
			return h, nil
		}
	}
	return nil, fmt.Errorf("no counterpart for provider %q", from)
}

// HasChangesToSync probes whether tag has unsynced changes on the from side
// by comparing before/after message counts. Any probe failure reads as "yes":
// silently skipping a real change is worse than a redundant no-op sync.
//
// The count compare cannot see a same-count rewrite (old messages deleted,
// the same number added); SyncSession itself diffs by source id, so a forced
// sync is always safe when the caller knows better.
func (e *Engine) HasChangesToSync(ctx context.Context, tag, from string) bool {
	src, ok := e.handlers[from]
	if !ok {
		e.logger.Printf("warning: change probe for unknown provider %q, assuming changes", from)
		return true
	}

	beforePath, err := src.BeforeFile(ctx, tag)
	if err != nil {
		e.logger.Printf("warning: change probe for tag %s: resolve before: %v, assuming changes", tag, err)
		return true
	}
	afterPath, err := src.AfterFile(ctx, tag)
	if err != nil {
		e.logger.Printf("warning: change probe for tag %s: resolve after: %v, assuming changes", tag, err)
		return true
	}

	before, err := src.ReadConversation(ctx, beforePath)
	if err != nil {
		return true
	}
	after, err := src.ReadConversation(ctx, afterPath)
	if err != nil {
		return true
	}
	return len(after) != len(before)
}

// SyncSession propagates tag's new messages from the named provider to its
// counterpart. It does not probe first: callers who already observed a
// structural change may force a sync, and an idempotent run is a cheap no-op.
// All failures are caught here, logged, and reported in the result.
func (e *Engine) SyncSession(ctx context.Context, tag, from string) *Result {
	start := time.Now()
	res := &Result{Tag: tag, From: from}

	ctx, span := observability.StartSpan(ctx, "tandem.sync.session",
		attribute.String("session.tag", tag),
		attribute.String("sync.from", from),
	)
	defer span.End()

	src, ok := e.handlers[from]
	if !ok {
		res.fail(e.logger, fmt.Errorf("unknown source provider %q", from))
		metrics.RecordSync(from, "", "error", time.Since(start))
		return res
	}
	dst, err := e.counterpart(from)
	if err != nil {
		res.fail(e.logger, err)
		metrics.RecordSync(from, "", "error", time.Since(start))
		return res
	}
	res.To = dst.Name()

	if err := e.locks.Acquire(tag, e.lockTTL); err != nil {
		// Another sync for this tag is mid-flight; this cycle's changes
		// are its problem.
		res.Success = true
		res.Skipped = true
		span.SetAttributes(attribute.Bool("sync.skipped", true))
		metrics.RecordSync(from, res.To, "skipped", time.Since(start))
		return res
	}
	defer e.locks.Release(tag)

	synced, err := e.execute(ctx, tag, src, dst)
	res.SyncedItems = synced
	if err != nil {
		res.fail(e.logger, err)
		span.RecordError(err)
		metrics.RecordSync(from, res.To, "error", time.Since(start))
		return res
	}

	res.Success = true
	span.SetAttributes(attribute.Int("sync.items", synced))
	metrics.RecordSync(from, res.To, "ok", time.Since(start))
	metrics.RecordSyncedItems(from, res.To, synced)
	return res
}

// execute runs the delta-propagation sequence. Checkpoints advance only on
// the success path after the destination write, never before.
func (e *Engine) execute(ctx context.Context, tag string, src, dst provider.Handler) (int, error) {
	beforePath, err := src.BeforeFile(ctx, tag)
	if err != nil {
		return 0, fmt.Errorf("resolve before file: %w", err)
	}
	afterPath, err := src.AfterFile(ctx, tag)
	if err != nil {
		return 0, fmt.Errorf("resolve after file: %w", err)
	}

	before, err := src.ReadConversation(ctx, beforePath)
	if err != nil {
		return 0, fmt.Errorf("read before conversation: %w", err)
	}
	after, err := src.ReadConversation(ctx, afterPath)
	if err != nil {
		return 0, fmt.Errorf("read after conversation: %w", err)
	}

	delta := newMessages(before, after)
	if len(delta) == 0 {
		// Nothing to propagate; checkpoints stay untouched so the next
		// diff still compares against the same baseline.
		return 0, nil
	}

	dstPath, err := dst.AfterFile(ctx, tag)
	if err != nil {
		return 0, fmt.Errorf("resolve destination file: %w", err)
	}
	existing, err := dst.ReadConversation(ctx, dstPath)
	if err != nil {
		return 0, fmt.Errorf("read destination conversation: %w", err)
	}

	combined := make([]message.Message, 0, len(existing)+len(delta))
	combined = append(combined, existing...)
	combined = append(combined, delta...)

	if err := dst.WriteConversation(ctx, dstPath, combined); err != nil {
		return 0, fmt.Errorf("write destination conversation: %w", err)
	}

	// The write is confirmed; now, and only now, both sides advance.
	if err := src.UpdateAfterSync(ctx, tag); err != nil {
		return len(delta), fmt.Errorf("advance source checkpoint: %w", err)
	}
	if err := dst.UpdateAfterSync(ctx, tag); err != nil {
		return len(delta), fmt.Errorf("advance destination checkpoint: %w", err)
	}
	return len(delta), nil
}

// newMessages returns the messages present in after but absent from before,
// keyed by the provider-native record id they were converted from. Canonical
// ids are fresh on every conversion, so only the source id is stable across
// the two reads.
func newMessages(before, after []message.Message) []message.Message {
	seen := make(map[string]struct{}, len(before))
	for i := range before {
		seen[before[i].Metadata.OriginalID] = struct{}{}
	}
	var delta []message.Message
	for i := range after {
		if _, ok := seen[after[i].Metadata.OriginalID]; !ok {
			delta = append(delta, after[i])
		}
	}
	return delta
}

// SyncAll syncs every active registry session owned by this process, fanning
// out under a bounded concurrency limit. Per-tag failures land in their own
// result; only a registry listing failure is returned as an error.
func (e *Engine) SyncAll(ctx context.Context, from string) ([]*Result, error) {
	entries, err := e.reg.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	metrics.SetActiveSessions(len(entries))

	var (
		g, gctx = errgroup.WithContext(ctx)
		mu      stdsync.Mutex
		results []*Result
	)
	g.SetLimit(e.maxConcurrent)

	for _, entry := range entries {
		owner, err := e.reg.IsOwner(ctx, entry.Tag)
		if err != nil || !owner {
			continue
		}
		g.Go(func() error {
			res := e.SyncSession(gctx, entry.Tag, from)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// fail records err on the result and logs it with context.
func (r *Result) fail(logger *log.Logger, err error) {
	r.Errors = append(r.Errors, err.Error())
	logger.Printf("sync %s -> %s for tag %s failed: %v", r.From, r.To, r.Tag, err)
}

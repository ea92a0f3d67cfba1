package claude

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/tandem-dev/tandem/internal/fsutil"
	"github.com/tandem-dev/tandem/pkg/message"
	"github.com/tandem-dev/tandem/pkg/provider"
	"github.com/tandem-dev/tandem/pkg/state"
)

// HandlerConfig wires a Handler to its store location and collaborators.
// Paths always come from configuration, never from the ambient working
// directory.
type HandlerConfig struct {
	// ProjectsDir is the root holding one directory per project.
	ProjectsDir string

	// Project is the directory name for this project's session files.
	Project string

	// Cwd and Version are stamped on records written by sync.
	Cwd     string
	Version string

	Refs        *state.RefStore
	Checkpoints *state.CheckpointStore

	// Logger receives warnings. Defaults to a prefixed stderr logger.
	Logger *log.Logger
}

// Handler reads and writes the append-only JSONL session store. "Before" for
// a tag is the file of the previous provider-session id recorded in the
// checkpoint; no backup copies are taken.
type Handler struct {
	cfg    HandlerConfig
	conv   *Converter
	logger *log.Logger
}

// NewHandler validates the config and returns a ready handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.ProjectsDir == "" {
		return nil, errors.New("claude handler: projects directory is required")
	}
	if err := fsutil.ValidatePathComponent(cfg.Project); err != nil {
		return nil, fmt.Errorf("claude handler: invalid project name: %w", err)
	}
	if cfg.Refs == nil || cfg.Checkpoints == nil {
		return nil, errors.New("claude handler: ref and checkpoint stores are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[claude] ", log.LstdFlags)
	}
	return &Handler{cfg: cfg, conv: NewConverter(), logger: logger}, nil
}

// Name returns the provider name.
func (h *Handler) Name() string { return ProviderName }

func (h *Handler) sessionFile(sessionID string) (string, error) {
	if err := fsutil.ValidatePathComponent(sessionID); err != nil {
		return "", fmt.Errorf("invalid session id: %w", err)
	}
	return filepath.Join(h.cfg.ProjectsDir, h.cfg.Project, sessionID+".jsonl"), nil
}

// BeforeFile resolves the previous session file from the checkpoint. On the
// first sync for a tag, or when the recorded file is gone, it reports no
// prior state.
func (h *Handler) BeforeFile(ctx context.Context, tag string) (string, error) {
	cp, err := h.cfg.Checkpoints.Load(ctx, ProviderName, tag)
	if errors.Is(err, state.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.LastSessionID == "" {
		return "", nil
	}
	path, err := h.sessionFile(cp.LastSessionID)
	if err != nil {
		return "", err
	}
	if !fsutil.FileExists(path) {
		h.logger.Printf("warning: baseline session file missing for tag %s: %s", tag, path)
		return "", nil
	}
	return path, nil
}

// AfterFile resolves the current session file from the reference store.
func (h *Handler) AfterFile(ctx context.Context, tag string) (string, error) {
	id, err := h.cfg.Refs.Current(ctx, ProviderName, tag)
	if errors.Is(err, state.ErrNotFound) {
		return "", fmt.Errorf("tag %s: %w", tag, provider.ErrNoCurrentSession)
	}
	if err != nil {
		return "", fmt.Errorf("read session ref: %w", err)
	}
	return h.sessionFile(id)
}

// ReadConversation parses path into canonical messages. Missing, empty, and
// unreadable files all yield an empty conversation; malformed content logs a
// warning. Callers treat "no prior state" and "unreadable state" identically.
func (h *Handler) ReadConversation(ctx context.Context, path string) ([]message.Message, error) {
	if path == "" {
		return []message.Message{}, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 - session paths are built from validated components
	if err != nil {
		if !os.IsNotExist(err) {
			h.logger.Printf("warning: read conversation %s: %v", path, err)
		}
		return []message.Message{}, nil
	}
	if len(data) == 0 {
		return []message.Message{}, nil
	}

	msgs, err := h.conv.ToCanonical(data, sessionIDFromPath(path))
	if err != nil {
		h.logger.Printf("warning: unreadable conversation %s: %v", path, err)
		return []message.Message{}, nil
	}
	return msgs, nil
}

// WriteConversation renders the messages and writes the file atomically. A
// non-empty input that renders to zero records is conversion loss and fails.
func (h *Handler) WriteConversation(ctx context.Context, path string, msgs []message.Message) error {
	data, err := h.conv.FromCanonical(msgs, sessionIDFromPath(path), h.cfg.Cwd, h.cfg.Version)
	if err != nil {
		return fmt.Errorf("convert conversation: %w", err)
	}
	if len(msgs) > 0 && countRecords(data) == 0 {
		return fmt.Errorf("write %s: %w", path, provider.ErrConversionLoss)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("write conversation: %w", err)
	}
	return nil
}

// UpdateAfterSync advances the checkpoint to the authoritative current
// session id from the reference store. Only the sync engine's success path
// calls this.
func (h *Handler) UpdateAfterSync(ctx context.Context, tag string) error {
	current, err := h.cfg.Refs.Current(ctx, ProviderName, tag)
	if errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("tag %s: %w", tag, provider.ErrNoCurrentSession)
	}
	if err != nil {
		return fmt.Errorf("read session ref: %w", err)
	}
	cp := &state.Checkpoint{LastSessionID: current, CurrentSessionID: current}
	if err := h.cfg.Checkpoints.Save(ctx, ProviderName, tag, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// FileExists reports whether path is a regular file.
func (h *Handler) FileExists(path string) bool {
	return fsutil.FileExists(path)
}

// InitializeState prepares the project directory and seeds the session ref
// and checkpoint for a tag. Seeding a fresh session id here stands in for the
// provider adapter's first save; existing state is left untouched.
func (h *Handler) InitializeState(ctx context.Context, tag string) error {
	if err := fsutil.EnsureDir(filepath.Join(h.cfg.ProjectsDir, h.cfg.Project)); err != nil {
		return fmt.Errorf("init project directory: %w", err)
	}

	current, err := h.cfg.Refs.Current(ctx, ProviderName, tag)
	if errors.Is(err, state.ErrNotFound) {
		current = uuid.New().String()
		if err := h.cfg.Refs.Set(ctx, ProviderName, tag, current); err != nil {
			return fmt.Errorf("seed session ref: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read session ref: %w", err)
	}

	if _, err := h.cfg.Checkpoints.Load(ctx, ProviderName, tag); errors.Is(err, state.ErrNotFound) {
		cp := &state.Checkpoint{CurrentSessionID: current}
		if err := h.cfg.Checkpoints.Save(ctx, ProviderName, tag, cp); err != nil {
			return fmt.Errorf("seed checkpoint: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	return nil
}

func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func countRecords(data []byte) int {
	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}

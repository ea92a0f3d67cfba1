package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/tandem-dev/tandem/internal/fsutil"
	"github.com/tandem-dev/tandem/pkg/message"
	"github.com/tandem-dev/tandem/pkg/provider"
	"github.com/tandem-dev/tandem/pkg/state"
)

const (
	documentName = "session.json"
	backupName   = "session.json.bak"
)

// HandlerConfig wires a Handler to its store location and collaborators.
type HandlerConfig struct {
	// SessionsDir is the root holding one directory per session tag.
	SessionsDir string

	// Cwd and Version are stamped on documents written by sync.
	Cwd     string
	Version string

	Refs        *state.RefStore
	Checkpoints *state.CheckpointStore

	// Logger receives warnings. Defaults to a prefixed stderr logger.
	Logger *log.Logger
}

// Handler reads and writes the snapshot session store. The live document is
// mutated in place by the provider, so "before" for a tag is an explicit
// backup copy refreshed on every successful sync.
type Handler struct {
	cfg    HandlerConfig
	conv   *Converter
	logger *log.Logger
}

// NewHandler validates the config and returns a ready handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.SessionsDir == "" {
		return nil, errors.New("gemini handler: sessions directory is required")
	}
	if cfg.Refs == nil || cfg.Checkpoints == nil {
		return nil, errors.New("gemini handler: ref and checkpoint stores are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[gemini] ", log.LstdFlags)
	}
	return &Handler{cfg: cfg, conv: NewConverter(), logger: logger}, nil
}

// Name returns the provider name.
func (h *Handler) Name() string { return ProviderName }

func (h *Handler) sessionDir(tag string) (string, error) {
	if err := fsutil.ValidatePathComponent(tag); err != nil {
		return "", fmt.Errorf("invalid session tag: %w", err)
	}
	return filepath.Join(h.cfg.SessionsDir, tag), nil
}

// BeforeFile resolves the pre-write backup copy. Absent backup means first
// sync: no prior state.
func (h *Handler) BeforeFile(ctx context.Context, tag string) (string, error) {
	dir, err := h.sessionDir(tag)
	if err != nil {
		return "", err
	}
	backup := filepath.Join(dir, backupName)
	if !fsutil.FileExists(backup) {
		return "", nil
	}
	return backup, nil
}

// AfterFile resolves the live session document.
func (h *Handler) AfterFile(ctx context.Context, tag string) (string, error) {
	dir, err := h.sessionDir(tag)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, documentName), nil
}

// ReadConversation parses the document at path into canonical messages.
// Missing, empty, and malformed documents all yield an empty conversation;
// malformed content logs a warning.
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

	msgs, err := h.conv.ToCanonical(data, h.docSessionID(ctx, path, data))
	if err != nil {
		h.logger.Printf("warning: unreadable conversation %s: %v", path, err)
		return []message.Message{}, nil
	}
	return msgs, nil
}

// WriteConversation renders the messages into a full document and writes it
// atomically. A non-empty input rendering to an empty document is conversion
// loss and fails.
func (h *Handler) WriteConversation(ctx context.Context, path string, msgs []message.Message) error {
	sessionID := h.docSessionID(ctx, path, nil)
	data, err := h.conv.FromCanonical(msgs, sessionID, h.cfg.Cwd, h.cfg.Version)
	if err != nil {
		return fmt.Errorf("convert conversation: %w", err)
	}
	if len(msgs) > 0 && countEntries(data) == 0 {
		return fmt.Errorf("write %s: %w", path, provider.ErrConversionLoss)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("write conversation: %w", err)
	}
	return nil
}

// UpdateAfterSync advances the checkpoint from the reference store and
// refreshes the backup copy to the just-synced live document, making it the
// next baseline. Only the sync engine's success path calls this.
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

	dir, err := h.sessionDir(tag)
	if err != nil {
		return err
	}
	live := filepath.Join(dir, documentName)
	if fsutil.FileExists(live) {
		if err := fsutil.CopyFile(live, filepath.Join(dir, backupName), 0600); err != nil {
			return fmt.Errorf("refresh backup: %w", err)
		}
	}
	return nil
}

// FileExists reports whether path is a regular file.
func (h *Handler) FileExists(path string) bool {
	return fsutil.FileExists(path)
}

// InitializeState prepares the session directory and seeds the session ref
// and checkpoint for a tag. Existing state is left untouched.
func (h *Handler) InitializeState(ctx context.Context, tag string) error {
	dir, err := h.sessionDir(tag)
	if err != nil {
		return err
	}
	if err := fsutil.EnsureDir(dir); err != nil {
		return fmt.Errorf("init session directory: %w", err)
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

// docSessionID resolves the document's session id: the id already in the
// document wins, then the reference store for the tag the path belongs to,
// then a fresh id. The document itself persists the result on write.
func (h *Handler) docSessionID(ctx context.Context, path string, data []byte) string {
	if data == nil {
		if existing, err := os.ReadFile(path); err == nil { // #nosec G304 - validated components
			data = existing
		}
	}
	if len(data) > 0 {
		var doc Document
		if err := json.Unmarshal(data, &doc); err == nil && doc.SessionID != "" {
			return doc.SessionID
		}
	}

	tag := filepath.Base(filepath.Dir(path))
	if id, err := h.cfg.Refs.Current(ctx, ProviderName, tag); err == nil && id != "" {
		return id
	}
	return uuid.New().String()
}

func countEntries(data []byte) int {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0
	}
	return len(doc.Messages)
}

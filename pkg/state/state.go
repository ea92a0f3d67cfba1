// Package state persists the two small per-session records the sync engine
// depends on: the provider reference (which provider-assigned session id is
// current for a tag, written by the provider adapter's save path) and the sync
// checkpoint (which session id was the baseline at the last successful sync,
// written only by the handlers' UpdateAfterSync).
//
// Each record is one JSON file under the state directory, written atomically.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tandem-dev/tandem/internal/fsutil"
)

// ErrNotFound is returned when no record exists for a (provider, tag) pair.
var ErrNotFound = errors.New("state entry not found")

// Checkpoint tracks sync baselines for one (provider, tag) pair.
// LastSessionID advances only after a sync completes successfully; advancing
// it eagerly would make the next diff compare a file against itself and
// silently lose deltas.
type Checkpoint struct {
	LastSessionID    string    `json:"lastSessionId"`
	CurrentSessionID string    `json:"currentSessionId"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Ref records the current provider-assigned session id for a tag. The sync
// engine only reads refs; the provider adapter's save path writes them.
type Ref struct {
	SessionID string    `json:"sessionId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CheckpointStore stores checkpoints under <dir>/<provider>/<tag>.json.
type CheckpointStore struct {
	dir string
}

// NewCheckpointStore creates the store rooted at dir.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("init checkpoint store: %w", err)
	}
	return &CheckpointStore{dir: dir}, nil
}

// Load returns the checkpoint for (provider, tag), or ErrNotFound.
func (s *CheckpointStore) Load(ctx context.Context, provider, tag string) (*Checkpoint, error) {
	path, err := s.path(provider, tag)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := readJSON(path, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Save writes the checkpoint for (provider, tag) atomically.
func (s *CheckpointStore) Save(ctx context.Context, provider, tag string, cp *Checkpoint) error {
	path, err := s.path(provider, tag)
	if err != nil {
		return err
	}
	cp.UpdatedAt = time.Now().UTC()
	return writeJSON(path, cp)
}

func (s *CheckpointStore) path(provider, tag string) (string, error) {
	if err := fsutil.ValidatePathComponent(provider); err != nil {
		return "", fmt.Errorf("invalid provider name: %w", err)
	}
	if err := fsutil.ValidatePathComponent(tag); err != nil {
		return "", fmt.Errorf("invalid session tag: %w", err)
	}
	return filepath.Join(s.dir, provider, tag+".json"), nil
}

// RefStore stores session references under <dir>/<provider>/<tag>.json.
type RefStore struct {
	dir string
}

// NewRefStore creates the store rooted at dir.
func NewRefStore(dir string) (*RefStore, error) {
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("init ref store: %w", err)
	}
	return &RefStore{dir: dir}, nil
}

// Current returns the current provider session id for (provider, tag), or
// ErrNotFound. It reads from disk on every call; checkpoint advancement must
// never act on a cached value across process restarts.
func (s *RefStore) Current(ctx context.Context, provider, tag string) (string, error) {
	path, err := s.path(provider, tag)
	if err != nil {
		return "", err
	}
	var ref Ref
	if err := readJSON(path, &ref); err != nil {
		return "", err
	}
	return ref.SessionID, nil
}

// Set records sessionID as current for (provider, tag). This is the provider
// adapter's write path; the engine itself never calls it during a sync.
func (s *RefStore) Set(ctx context.Context, provider, tag, sessionID string) error {
	path, err := s.path(provider, tag)
	if err != nil {
		return err
	}
	return writeJSON(path, &Ref{SessionID: sessionID, UpdatedAt: time.Now().UTC()})
}

func (s *RefStore) path(provider, tag string) (string, error) {
	if err := fsutil.ValidatePathComponent(provider); err != nil {
		return "", fmt.Errorf("invalid provider name: %w", err)
	}
	if err := fsutil.ValidatePathComponent(tag); err != nil {
		return "", fmt.Errorf("invalid session tag: %w", err)
	}
	return filepath.Join(s.dir, provider, tag+".json"), nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path) // #nosec G304 - path components validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read state file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse state file %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

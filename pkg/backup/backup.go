// Package backup snapshots and restores a session's conversation files
// across providers, together with its registry entry.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tandem-dev/tandem/internal/fsutil"
	"github.com/tandem-dev/tandem/pkg/provider"
	"github.com/tandem-dev/tandem/pkg/registry"
)

const manifestName = "manifest.json"

// timestampLayout names backup directories sortably.
const timestampLayout = "20060102T150405"

// ManifestFile records one captured conversation file.
type ManifestFile struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`   // file name inside the backup directory
	Source   string `json:"source"` // absolute path it was captured from
}

// Manifest describes one backup snapshot.
type Manifest struct {
	ID        string          `json:"id"`
	Tag       string          `json:"tag"`
	CreatedAt time.Time       `json:"createdAt"`
	Files     []ManifestFile  `json:"files"`
	Entry     *registry.Entry `json:"entry,omitempty"`
}

// Config wires a Service to its collaborators.
type Config struct {
	// StateDir is the root under which backups/<tag>/<timestamp>/ lives.
	StateDir string

	// Handlers are the providers whose conversation files are captured.
	Handlers []provider.Handler

	// Registry supplies the session entry snapshot. Optional.
	Registry *registry.Registry

	// Logger receives warnings. Defaults to a prefixed stderr logger.
	Logger *log.Logger
}

// Service creates and restores session backups.
type Service struct {
	stateDir string
	handlers []provider.Handler
	reg      *registry.Registry
	logger   *log.Logger
}

// New validates the config and returns a ready service.
func New(cfg Config) (*Service, error) {
	if cfg.StateDir == "" {
		return nil, errors.New("backup: state directory is required")
	}
	if len(cfg.Handlers) == 0 {
		return nil, errors.New("backup: at least one provider handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[backup] ", log.LstdFlags)
	}
	return &Service{
		stateDir: cfg.StateDir,
		handlers: cfg.Handlers,
		reg:      cfg.Registry,
		logger:   logger,
	}, nil
}

// Create captures every provider's current conversation file for tag into a
// fresh timestamped directory and returns its path. Providers with no
// current file are skipped, not failed: a tag may exist on one side only.
func (s *Service) Create(ctx context.Context, tag string) (string, error) {
	if err := fsutil.ValidatePathComponent(tag); err != nil {
		return "", fmt.Errorf("backup: invalid tag: %w", err)
	}

	dir := filepath.Join(s.stateDir, "backups", tag, time.Now().UTC().Format(timestampLayout))
	if err := fsutil.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("backup: create directory: %w", err)
	}

	manifest := &Manifest{
		ID:        uuid.New().String(),
		Tag:       tag,
		CreatedAt: time.Now().UTC(),
	}

	var (
		g, gctx = errgroup.WithContext(ctx)
		files   = make([]ManifestFile, len(s.handlers))
	)
	for i, h := range s.handlers {
		g.Go(func() error {
			src, err := h.AfterFile(gctx, tag)
			if errors.Is(err, provider.ErrNoCurrentSession) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s: resolve conversation file: %w", h.Name(), err)
			}
			if !h.FileExists(src) {
				return nil
			}
			name := h.Name() + "-" + filepath.Base(src)
			if err := fsutil.CopyFile(src, filepath.Join(dir, name), 0600); err != nil {
				return fmt.Errorf("%s: capture conversation file: %w", h.Name(), err)
			}
			files[i] = ManifestFile{Provider: h.Name(), Name: name, Source: src}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	for _, f := range files {
		if f.Name != "" {
			manifest.Files = append(manifest.Files, f)
		}
	}

	if s.reg != nil {
		entry, err := s.reg.Get(ctx, tag)
		if err == nil {
			manifest.Entry = entry
		} else if !errors.Is(err, registry.ErrSessionNotFound) {
			s.logger.Printf("warning: snapshot registry entry for tag %s: %v", tag, err)
		}
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("backup: encode manifest: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, manifestName), data, 0600); err != nil {
		return "", fmt.Errorf("backup: write manifest: %w", err)
	}
	return dir, nil
}

// Restore copies a snapshot's conversation files back to their captured
// source paths and re-registers the session when an entry snapshot exists.
func (s *Service) Restore(ctx context.Context, dir string) (*Manifest, error) {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	for _, f := range manifest.Files {
		if err := fsutil.CopyFile(filepath.Join(dir, f.Name), f.Source, 0600); err != nil {
			return nil, fmt.Errorf("backup: restore %s conversation file: %w", f.Provider, err)
		}
	}

	if s.reg != nil && manifest.Entry != nil {
		if err := s.reg.Register(ctx, manifest.Tag, manifest.Entry.Providers); err != nil {
			return nil, fmt.Errorf("backup: re-register session: %w", err)
		}
	}
	return manifest, nil
}

// List returns the snapshot directories for tag, newest first.
func (s *Service) List(tag string) ([]string, error) {
	if err := fsutil.ValidatePathComponent(tag); err != nil {
		return nil, fmt.Errorf("backup: invalid tag: %w", err)
	}
	root := filepath.Join(s.stateDir, "backups", tag)
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backup: list snapshots: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	// Timestamped names sort lexically; reverse for newest first.
	for i, j := 0, len(dirs)-1; i < j; i, j = i+1, j-1 {
		dirs[i], dirs[j] = dirs[j], dirs[i]
	}
	return dirs, nil
}

// ReadManifest loads and validates the manifest in a snapshot directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName)) // #nosec G304 - operator-supplied snapshot directory
	if err != nil {
		return nil, fmt.Errorf("backup: read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("backup: decode manifest: %w", err)
	}
	if manifest.Tag == "" {
		return nil, errors.New("backup: manifest has no session tag")
	}
	return &manifest, nil
}

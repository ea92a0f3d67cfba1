package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckpointStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewCheckpointStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewCheckpointStore() error = %v", err)
	}

	if _, err := store.Load(ctx, "claude", "work"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() on empty store error = %v, want ErrNotFound", err)
	}

	cp := &Checkpoint{LastSessionID: "s1", CurrentSessionID: "s2"}
	if err := store.Save(ctx, "claude", "work", cp); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load(ctx, "claude", "work")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.LastSessionID != "s1" || got.CurrentSessionID != "s2" {
		t.Errorf("Load() = %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("Save() must stamp UpdatedAt")
	}
}

func TestCheckpointStoreIsolatesProviders(t *testing.T) {
	ctx := context.Background()
	store, err := NewCheckpointStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewCheckpointStore() error = %v", err)
	}

	if err := store.Save(ctx, "claude", "work", &Checkpoint{CurrentSessionID: "c1"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, "gemini", "work", &Checkpoint{CurrentSessionID: "g1"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	c, err := store.Load(ctx, "claude", "work")
	if err != nil {
		t.Fatalf("Load(claude) error = %v", err)
	}
	g, err := store.Load(ctx, "gemini", "work")
	if err != nil {
		t.Fatalf("Load(gemini) error = %v", err)
	}
	if c.CurrentSessionID == g.CurrentSessionID {
		t.Error("providers must not share checkpoint state")
	}
}

func TestCheckpointStoreRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	store, err := NewCheckpointStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewCheckpointStore() error = %v", err)
	}

	if err := store.Save(ctx, "claude", "../escape", &Checkpoint{}); err == nil {
		t.Error("Save() with traversal tag expected error")
	}
	if _, err := store.Load(ctx, "a/b", "tag"); err == nil {
		t.Error("Load() with separator in provider expected error")
	}
}

func TestRefStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewRefStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewRefStore() error = %v", err)
	}

	if _, err := store.Current(ctx, "claude", "work"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Current() on empty store error = %v, want ErrNotFound", err)
	}

	if err := store.Set(ctx, "claude", "work", "sess-abc"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	id, err := store.Current(ctx, "claude", "work")
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if id != "sess-abc" {
		t.Errorf("Current() = %q, want sess-abc", id)
	}

	// Set overwrites.
	if err := store.Set(ctx, "claude", "work", "sess-def"); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	id, _ = store.Current(ctx, "claude", "work")
	if id != "sess-def" {
		t.Errorf("Current() after overwrite = %q, want sess-def", id)
	}
}

func TestCorruptStateFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewRefStore(dir)
	if err != nil {
		t.Fatalf("NewRefStore() error = %v", err)
	}

	path := filepath.Join(dir, "claude", "work.json")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := store.Current(ctx, "claude", "work"); err == nil {
		t.Error("Current() on corrupt file expected error")
	}
}

package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"plate/api/internal/model"
)

func TestGitStoreLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewGitStore(tempDir)
	if err != nil {
		t.Fatalf("NewGitStore() error = %v", err)
	}
	clock := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }
	ctx := context.Background()

	plate := model.Plate{ID: "plt-1", Name: "Launch", Headers: []*model.Header{
		{ID: "hdr-1", PlateID: "plt-1", Name: "To Do", Items: []*model.PlateItem{{ID: "itm-1", Title: "Write notes"}}},
	}}
	first, err := store.Put(ctx, plate)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "plt-1", ".git")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}
	if !strings.HasPrefix(first.Key, "plates/plt-1/") || first.Size == 0 || !first.TakenAt.Equal(clock) {
		t.Fatalf("unexpected info %+v", first)
	}

	clock = clock.Add(24 * time.Hour)
	plate.Name = "Launch v2"
	second, err := store.Put(ctx, plate)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	history, err := store.List(ctx, "plt-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(history) != 2 || history[0].Key != second.Key || history[1].Key != first.Key {
		t.Fatalf("expected newest first, got %+v", history)
	}

	old, err := store.Get(ctx, first.Key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if old.Name != "Launch" || len(old.Headers) != 1 || old.Headers[0].Items[0].Title != "Write notes" {
		t.Fatalf("unexpected plate %+v", old)
	}
}

func TestGitStoreUnchangedPlateReusesCommit(t *testing.T) {
	store, err := NewGitStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewGitStore() error = %v", err)
	}
	ctx := context.Background()
	plate := model.Plate{ID: "plt-1", Name: "Launch"}

	first, err := store.Put(ctx, plate)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	again, err := store.Put(ctx, plate)
	if err != nil {
		t.Fatalf("second Put() error = %v", err)
	}
	if again.Key != first.Key {
		t.Fatalf("expected same commit, got %s and %s", first.Key, again.Key)
	}
	history, err := store.List(ctx, "plt-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one entry, got %d", len(history))
	}
}

func TestGitStoreMissingPlate(t *testing.T) {
	store, err := NewGitStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewGitStore() error = %v", err)
	}
	ctx := context.Background()

	history, err := store.List(ctx, "plt-none")
	if err != nil || len(history) != 0 {
		t.Fatalf("expected empty history, got %v %v", history, err)
	}
	_, err = store.Get(ctx, "plates/plt-none/"+strings.Repeat("a", 40))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Get(ctx, "plates/../etc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed key, got %v", err)
	}
	if _, err := store.Put(ctx, model.Plate{ID: "../escape"}); err == nil {
		t.Fatal("expected invalid plate id error")
	}
}

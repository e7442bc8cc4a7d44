package provision

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestWatcherTriggersOnManifestWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	manifest := filepath.Join(dir, "requirements.txt")
	if err := os.WriteFile(manifest, []byte("python-can\n"), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	triggered := make(chan struct{}, 1)
	w, err := NewWatcher(manifest, func(context.Context) {
		select {
		case triggered <- struct{}{}:
		default:
		}
	}, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	w.debounceDur = 50 * time.Millisecond // keep the test fast

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	if !w.IsWatching() {
		t.Fatalf("expected watcher running")
	}

	if err := os.WriteFile(manifest, []byte("python-can\ncantools\n"), 0644); err != nil {
		t.Fatalf("edit manifest: %v", err)
	}

	select {
	case <-triggered:
	case <-time.After(5 * time.Second):
		t.Fatalf("watcher did not trigger on manifest edit")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	manifest := filepath.Join(dir, "requirements.txt")
	if err := os.WriteFile(manifest, []byte("python-can\n"), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	triggered := make(chan struct{}, 1)
	w, err := NewWatcher(manifest, func(context.Context) {
		triggered <- struct{}{}
	}, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	w.debounceDur = 50 * time.Millisecond

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0644); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}

	select {
	case <-triggered:
		t.Fatalf("watcher must not trigger for unrelated files")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherStartFailureLeavesStopSafe(t *testing.T) {
	defer goleak.VerifyNone(t)

	// Manifest in a directory that does not exist: Add must fail.
	missing := filepath.Join(t.TempDir(), "absent", "requirements.txt")
	w, err := NewWatcher(missing, func(context.Context) {}, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	if err := w.Start(context.Background()); err == nil {
		t.Fatalf("expected start error for missing directory")
	}
	if w.IsWatching() {
		t.Fatalf("failed start must not mark the watcher running")
	}

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop blocked after failed start")
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	manifest := filepath.Join(dir, "requirements.txt")
	if err := os.WriteFile(manifest, []byte(""), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	w, err := NewWatcher(manifest, func(context.Context) {}, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	w.Stop()
	w.Stop() // second stop must not panic or block
	if w.IsWatching() {
		t.Fatalf("expected watcher stopped")
	}
}

package watcher

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func supported(path string) bool {
	return strings.HasSuffix(path, ".txt")
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func collect(t *testing.T, changes <-chan Change, want int) []Change {
	t.Helper()
	got := make([]Change, 0, want)
	timeout := time.After(10 * time.Second)
	for len(got) < want {
		select {
		case change, ok := <-changes:
			if !ok {
				t.Fatalf("channel closed after %d of %d changes", len(got), want)
			}
			got = append(got, change)
		case <-timeout:
			t.Fatalf("timed out after %d of %d changes: %v", len(got), want, got)
		}
	}
	return got
}

func TestDiffStates(t *testing.T) {
	previous := map[string]string{
		"kept.txt":     "h1",
		"modified.txt": "h2",
		"removed.txt":  "h3",
	}
	current := map[string]string{
		"kept.txt":     "h1",
		"modified.txt": "h2-new",
		"added.txt":    "h4",
	}

	changes := diffStates(previous, current)
	byPath := make(map[string]Kind, len(changes))
	for _, change := range changes {
		byPath[change.Path] = change.Kind
	}

	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d: %v", len(changes), changes)
	}
	if byPath["added.txt"] != KindAdded {
		t.Fatalf("added.txt = %s", byPath["added.txt"])
	}
	if byPath["modified.txt"] != KindModified {
		t.Fatalf("modified.txt = %s", byPath["modified.txt"])
	}
	if byPath["removed.txt"] != KindRemoved {
		t.Fatalf("removed.txt = %s", byPath["removed.txt"])
	}
	if _, ok := byPath["kept.txt"]; ok {
		t.Fatal("unchanged file must not be reported")
	}
}

func TestHashFileStable(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.txt", "content")

	h1, err := HashFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, _ := HashFile(filepath.Join(dir, "a.txt"))
	if h1 != h2 {
		t.Fatal("hash must be stable for unchanged content")
	}

	write(t, dir, "a.txt", "different content")
	h3, _ := HashFile(filepath.Join(dir, "a.txt"))
	if h1 == h3 {
		t.Fatal("hash must change with content")
	}
}

func TestWatcherReportsInitialCorpus(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.txt", "first")
	write(t, dir, "sub/b.txt", "second")
	write(t, dir, "skip.bin", "ignored")

	w := New(dir, time.Hour, supported, nil, log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	changes := collect(t, w.Changes(), 2)
	paths := map[string]Kind{}
	for _, change := range changes {
		paths[change.Path] = change.Kind
	}
	if paths["a.txt"] != KindAdded || paths[filepath.Join("sub", "b.txt")] != KindAdded {
		t.Fatalf("unexpected initial changes: %v", paths)
	}
}

func TestWatcherSeededStateSuppressesKnownFiles(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.txt", "stable")

	hash, err := HashFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	w := New(dir, 50*time.Millisecond, supported, map[string]string{"a.txt": hash}, log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	select {
	case change := <-w.Changes():
		t.Fatalf("known unchanged file reported: %+v", change)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherDetectsModificationAndRemoval(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.txt", "v1")
	write(t, dir, "b.txt", "will be removed")

	w := New(dir, 50*time.Millisecond, supported, nil, log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	collect(t, w.Changes(), 2) // initial adds

	write(t, dir, "a.txt", "v2")
	if err := os.Remove(filepath.Join(dir, "b.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	changes := collect(t, w.Changes(), 2)
	byPath := map[string]Kind{}
	for _, change := range changes {
		byPath[change.Path] = change.Kind
	}
	if byPath["a.txt"] != KindModified {
		t.Fatalf("a.txt = %s, want modified", byPath["a.txt"])
	}
	if byPath["b.txt"] != KindRemoved {
		t.Fatalf("b.txt = %s, want removed", byPath["b.txt"])
	}
}

func TestWatcherClosesChannelOnCancel(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, time.Hour, supported, nil, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if _, ok := <-w.Changes(); ok {
		// Drain until closed; a buffered change is fine.
		for range w.Changes() {
		}
	}
}

// Package watcher observes the corpus directory and reports document
// additions, modifications and removals keyed by content hash, so a
// rewrite that leaves bytes identical never triggers a change.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Kind classifies a corpus change.
type Kind string

const (
	KindAdded    Kind = "added"
	KindModified Kind = "modified"
	KindRemoved  Kind = "removed"
)

// Change reports one document-level difference against the last known
// corpus state. Path is relative to the corpus root.
type Change struct {
	Path string
	Kind Kind
}

// SupportedFunc filters which files count as corpus documents.
type SupportedFunc func(path string) bool

// Watcher combines filesystem notifications with a periodic rescan.
// Notifications give low latency; the rescan catches events lost to
// editors that replace files or to network filesystems.
type Watcher struct {
	root      string
	interval  time.Duration
	supported SupportedFunc
	logger    *log.Logger

	mu    sync.Mutex
	known map[string]string

	changes chan Change
}

// New creates a Watcher over root. known seeds the path-to-hash state,
// usually from the vector store, so a restart does not re-report every
// document as added.
func New(root string, interval time.Duration, supported SupportedFunc, known map[string]string, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.Default()
	}
	state := make(map[string]string, len(known))
	for path, hash := range known {
		state[path] = hash
	}
	return &Watcher{
		root:      root,
		interval:  interval,
		supported: supported,
		logger:    logger,
		known:     state,
		changes:   make(chan Change, 64),
	}
}

// Changes returns the stream of detected corpus changes. The channel is
// closed when Run returns.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Run watches until ctx is cancelled. Filesystem events are debounced
// into a rescan rather than trusted individually; the rescan compares
// content hashes and is the single source of emitted changes.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.changes)

	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer notifier.Close()

	if err := w.watchTree(notifier); err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// debounce holds a pending rescan after a burst of fs events.
	var debounce *time.Timer
	var debounceC <-chan time.Time

	w.rescan(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-notifier.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := notifier.Add(event.Name); err != nil {
						w.logger.Printf("watch new directory %s: %v", event.Name, err)
					}
				}
			}
			if debounce == nil {
				debounce = time.NewTimer(500 * time.Millisecond)
				debounceC = debounce.C
			} else {
				debounce.Reset(500 * time.Millisecond)
			}

		case err, ok := <-notifier.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("fs watcher: %v", err)

		case <-debounceC:
			debounce = nil
			debounceC = nil
			w.rescan(ctx)

		case <-ticker.C:
			w.rescan(ctx)
		}
	}
}

func (w *Watcher) watchTree(notifier *fsnotify.Watcher) error {
	return filepath.WalkDir(w.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if err := notifier.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}

// rescan hashes every supported file under root, diffs against the
// known state and emits one Change per difference.
func (w *Watcher) rescan(ctx context.Context) {
	current, err := w.snapshot(ctx)
	if err != nil {
		w.logger.Printf("corpus scan: %v", err)
		return
	}

	w.mu.Lock()
	changes := diffStates(w.known, current)
	w.known = current
	w.mu.Unlock()

	for _, change := range changes {
		select {
		case w.changes <- change:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) snapshot(ctx context.Context) (map[string]string, error) {
	current := make(map[string]string)
	err := filepath.WalkDir(w.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			// A file deleted mid-walk is not an error; the diff will
			// pick it up on the next pass.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() || !w.supported(path) {
			return nil
		}

		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}

		hash, err := HashFile(path)
		if err != nil {
			w.logger.Printf("hash %s: %v", rel, err)
			return nil
		}
		current[rel] = hash
		return nil
	})
	if err != nil {
		return nil, err
	}
	return current, nil
}

// Known returns a copy of the current path-to-hash state.
func (w *Watcher) Known() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]string, len(w.known))
	for path, hash := range w.known {
		out[path] = hash
	}
	return out
}

func diffStates(previous, current map[string]string) []Change {
	changes := make([]Change, 0)
	for path, hash := range current {
		old, ok := previous[path]
		switch {
		case !ok:
			changes = append(changes, Change{Path: path, Kind: KindAdded})
		case old != hash:
			changes = append(changes, Change{Path: path, Kind: KindModified})
		}
	}
	for path := range previous {
		if _, ok := current[path]; !ok {
			changes = append(changes, Change{Path: path, Kind: KindRemoved})
		}
	}
	return changes
}

// HashFile returns the hex SHA-256 of a file's contents.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

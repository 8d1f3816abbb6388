// Package index coordinates corpus indexing passes: it diffs the corpus
// directory against the vector store by content hash and re-embeds only
// what changed. At most one pass runs at a time; triggers that arrive
// during a pass coalesce into a single follow-up pass.
package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/neuralstark/neuralstark/embeddings"
	"github.com/neuralstark/neuralstark/ingestion"
	"github.com/neuralstark/neuralstark/vectorstore"
	"github.com/neuralstark/neuralstark/watcher"
)

// Mode selects how much of the corpus a pass rebuilds.
type Mode string

const (
	// ModeIncremental indexes only documents whose content hash differs
	// from the stored one, and removes documents gone from disk.
	ModeIncremental Mode = "incremental"
	// ModeFull clears the store first and rebuilds everything.
	ModeFull Mode = "full"
)

// ErrIndexingInProgress is returned by Reindex when a pass is already
// running.
var ErrIndexingInProgress = errors.New("indexing already in progress")

// GraphSyncer mirrors indexed documents into a knowledge graph. A nil
// syncer disables graph updates.
type GraphSyncer interface {
	SyncDocument(ctx context.Context, doc vectorstore.DocumentRecord, chunks []vectorstore.Chunk) error
	RemoveDocument(ctx context.Context, path string) error
	Clear(ctx context.Context) error
}

// Options carries the orchestrator's collaborators.
type Options struct {
	CorpusDir string
	Store     vectorstore.Index
	Extractor ingestion.Extractor
	Chunker   *ingestion.Chunker
	Embedder  embeddings.Embedder
	Graph     GraphSyncer
	Workers   int
	Logger    *log.Logger
}

// Orchestrator runs indexing passes over the corpus directory.
type Orchestrator struct {
	corpusDir string
	store     vectorstore.Index
	extractor ingestion.Extractor
	chunker   *ingestion.Chunker
	embedder  embeddings.Embedder
	graph     GraphSyncer
	workers   int
	logger    *log.Logger

	state State

	// busy is 0 when idle, 1 while a pass runs. pendingFull upgrades a
	// coalesced follow-up pass to a full rebuild.
	busy        atomic.Int32
	pending     atomic.Bool
	pendingFull atomic.Bool
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Orchestrator{
		corpusDir: opts.CorpusDir,
		store:     opts.Store,
		extractor: opts.Extractor,
		chunker:   opts.Chunker,
		embedder:  opts.Embedder,
		graph:     opts.Graph,
		workers:   opts.Workers,
		logger:    opts.Logger,
	}
}

// Snapshot reports current indexing progress.
func (o *Orchestrator) Snapshot() Snapshot {
	return o.state.Snapshot()
}

// Reindex runs one pass synchronously. It fails fast with
// ErrIndexingInProgress when another pass already holds the slot.
func (o *Orchestrator) Reindex(ctx context.Context, mode Mode) error {
	if !o.busy.CompareAndSwap(0, 1) {
		return ErrIndexingInProgress
	}
	defer o.busy.Store(0)
	return o.run(ctx, mode)
}

// Trigger requests a pass without waiting for it. If a pass is already
// running the request is remembered and a single follow-up pass runs
// when the current one finishes, no matter how many triggers piled up.
func (o *Orchestrator) Trigger(ctx context.Context, mode Mode) {
	if mode == ModeFull {
		o.pendingFull.Store(true)
	}
	if !o.busy.CompareAndSwap(0, 1) {
		o.pending.Store(true)
		return
	}

	go func() {
		defer o.busy.Store(0)
		for {
			runMode := mode
			if o.pendingFull.Swap(false) {
				runMode = ModeFull
			}
			if err := o.run(ctx, runMode); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Printf("indexing pass: %v", err)
			}
			if !o.pending.Swap(false) {
				return
			}
			mode = ModeIncremental
		}
	}()
}

// Watch consumes corpus change events and triggers incremental passes
// until ctx is cancelled or the channel closes.
func (o *Orchestrator) Watch(ctx context.Context, changes <-chan watcher.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			o.logger.Printf("corpus change: %s %s", change.Kind, change.Path)
			o.Trigger(ctx, ModeIncremental)
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, mode Mode) error {
	o.state.setInProgress(true)
	defer o.state.setInProgress(false)

	if mode == ModeFull {
		if err := o.store.Clear(ctx); err != nil {
			return fmt.Errorf("clear store: %w", err)
		}
		if o.graph != nil {
			if err := o.graph.Clear(ctx); err != nil {
				o.logger.Printf("clear graph: %v", err)
			}
		}
	}

	known, err := o.store.Documents(ctx)
	if err != nil {
		return fmt.Errorf("load indexed documents: %w", err)
	}

	onDisk, unreadable, err := o.scanCorpus(ctx)
	if err != nil {
		return fmt.Errorf("scan corpus: %w", err)
	}

	var stale []string
	for path, record := range known {
		hash, present := onDisk[path]
		if present && hash == record.SHA256 {
			delete(onDisk, path)
			continue
		}
		if !present {
			// A file that failed to hash is still on disk. Keeping its
			// chunks means a transient read error costs nothing.
			if _, failed := unreadable[path]; failed {
				continue
			}
			stale = append(stale, path)
		}
	}

	changed := make([]string, 0, len(onDisk))
	for path := range onDisk {
		changed = append(changed, path)
	}
	sort.Strings(changed)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.workers)
	for _, path := range changed {
		path := path
		group.Go(func() error {
			if err := o.indexDocument(groupCtx, path, onDisk[path]); err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				// One broken document must not sink the pass.
				o.logger.Printf("index %s: %v", path, err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for _, path := range stale {
		if err := o.store.DeleteDocument(ctx, path); err != nil {
			o.logger.Printf("remove %s: %v", path, err)
			continue
		}
		if o.graph != nil {
			if err := o.graph.RemoveDocument(ctx, path); err != nil {
				o.logger.Printf("remove %s from graph: %v", path, err)
			}
		}
		if err := o.refreshState(ctx); err != nil {
			o.logger.Printf("refresh state: %v", err)
		}
		o.logger.Printf("removed %s", path)
	}

	return o.refreshState(ctx)
}

// scanCorpus returns relative path to content hash for every supported
// file under the corpus directory, plus the set of files that could not
// be hashed this pass.
func (o *Orchestrator) scanCorpus(ctx context.Context) (map[string]string, map[string]struct{}, error) {
	onDisk := make(map[string]string)
	unreadable := make(map[string]struct{})
	err := filepath.WalkDir(o.corpusDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() || !ingestion.Supported(path) {
			return nil
		}

		rel, err := filepath.Rel(o.corpusDir, path)
		if err != nil {
			return err
		}
		hash, err := watcher.HashFile(path)
		if err != nil {
			o.logger.Printf("hash %s: %v", rel, err)
			unreadable[rel] = struct{}{}
			return nil
		}
		onDisk[rel] = hash
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return onDisk, unreadable, nil
}

// indexDocument runs the extract, chunk, embed, upsert pipeline for one
// file. Any failure leaves the stored hash untouched, so the document is
// retried on the next pass.
func (o *Orchestrator) indexDocument(ctx context.Context, relPath, hash string) error {
	absPath := filepath.Join(o.corpusDir, relPath)
	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	text, err := o.extractor.Extract(ctx, relPath, data)
	if err != nil {
		return err
	}

	chunks := o.chunker.Chunk(relPath, text)
	if len(chunks) == 0 {
		o.logger.Printf("skipping %s: no extractable text", relPath)
		if err := o.store.DeleteDocument(ctx, relPath); err != nil {
			return err
		}
		if err := o.refreshState(ctx); err != nil {
			o.logger.Printf("refresh state: %v", err)
		}
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := o.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	doc := vectorstore.DocumentRecord{
		Path:       relPath,
		SHA256:     hash,
		Format:     string(ingestion.DetectFormat(relPath)),
		ByteSize:   info.Size(),
		ModifiedAt: info.ModTime().UTC(),
	}
	if err := o.store.UpsertDocument(ctx, doc, chunks); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}

	if o.graph != nil {
		if err := o.graph.SyncDocument(ctx, doc, chunks); err != nil {
			o.logger.Printf("sync %s to graph: %v", relPath, err)
		}
	}

	// Status queries see progress while the pass is still running.
	if err := o.refreshState(ctx); err != nil {
		o.logger.Printf("refresh state: %v", err)
	}
	o.logger.Printf("indexed %s (%d chunks)", relPath, len(chunks))
	return nil
}

func (o *Orchestrator) refreshState(ctx context.Context) error {
	docs, err := o.store.Documents(ctx)
	if err != nil {
		return fmt.Errorf("count documents: %w", err)
	}
	chunkCount, err := o.store.ChunkCount(ctx)
	if err != nil {
		return fmt.Errorf("count chunks: %w", err)
	}
	o.state.update(len(docs), chunkCount)
	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/neuralstark/neuralstark/api"
	"github.com/neuralstark/neuralstark/chat"
	"github.com/neuralstark/neuralstark/config"
	"github.com/neuralstark/neuralstark/database"
	"github.com/neuralstark/neuralstark/embeddings"
	"github.com/neuralstark/neuralstark/index"
	"github.com/neuralstark/neuralstark/ingestion"
	"github.com/neuralstark/neuralstark/knowledge"
	"github.com/neuralstark/neuralstark/llm"
	"github.com/neuralstark/neuralstark/vectorstore"
	"github.com/neuralstark/neuralstark/watcher"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("load .env: %v", err)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	switch os.Args[1] {
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "index":
		indexCmd(cfg, logger, os.Args[2:])
	case "ask":
		askCmd(cfg, logger, os.Args[2:])
	case "clear":
		clearCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// deps holds the wired service graph shared by every subcommand.
type deps struct {
	store    vectorstore.Index
	graph    *knowledge.Graph
	embedder embeddings.Embedder
	indexer  *index.Orchestrator
	cleanup  func(context.Context)
}

func buildDeps(ctx context.Context, cfg config.Config, logger *log.Logger) (*deps, error) {
	var cleanups []func(context.Context)
	cleanup := func(ctx context.Context) {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i](ctx)
		}
	}

	var store vectorstore.Index
	switch cfg.VectorStore.Type {
	case config.StoreMemory:
		store = vectorstore.NewMemoryIndex()
	case config.StorePostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		cleanups = append(cleanups, func(context.Context) { pool.Close() })
		if err := database.EnsureCorpusSchema(ctx, pool, cfg.Embeddings.Dimension); err != nil {
			cleanup(ctx)
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		store = vectorstore.NewPostgresIndex(pool)
	default:
		return nil, fmt.Errorf("unknown vector store type %q", cfg.VectorStore.Type)
	}

	var graph *knowledge.Graph
	if cfg.Neo4jURI != "" {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			cleanup(ctx)
			return nil, fmt.Errorf("neo4j connection: %w", err)
		}
		cleanups = append(cleanups, func(ctx context.Context) { _ = driver.Close(ctx) })
		graph = knowledge.NewGraph(driver)
	}

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		cleanup(ctx)
		return nil, fmt.Errorf("embedder setup: %w", err)
	}

	var ocr *ingestion.OCR
	if cfg.OCR.Enabled {
		ocr = ingestion.NewOCR(cfg.OCR.Languages, cfg.OCR.MinTextDensity)
	}

	var graphSyncer index.GraphSyncer
	if graph != nil {
		graphSyncer = graph
	}

	indexer := index.NewOrchestrator(index.Options{
		CorpusDir: cfg.CorpusDir,
		Store:     store,
		Extractor: ingestion.NewService(ocr, logger),
		Chunker:   ingestion.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap, cfg.Chunking.MinSize),
		Embedder:  embedder,
		Graph:     graphSyncer,
		Workers:   cfg.Index.Workers,
		Logger:    logger,
	})

	return &deps{
		store:    store,
		graph:    graph,
		embedder: embedder,
		indexer:  indexer,
		cleanup:  cleanup,
	}, nil
}

func buildChat(cfg config.Config, d *deps, sessions *chat.SessionStore, logger *log.Logger) (*chat.Service, error) {
	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	var graphStore chat.GraphStore
	if d.graph != nil {
		graphStore = d.graph
	}

	return chat.NewService(d.store, graphStore, d.embedder, llmClient, sessions, chat.Options{
		TopK:          cfg.Retrieval.TopK,
		MinSimilarity: cfg.Retrieval.MinSimilarity,
		ContextBudget: cfg.Retrieval.ContextBudget,
		OnNoContext:   cfg.Retrieval.OnNoContext,
	}, logger), nil
}

func serveCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.ListenAddr, "address to listen on")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	defer d.cleanup(context.Background())

	sessions := chat.NewSessionStore(10)
	chatSvc, err := buildChat(cfg, d, sessions, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}

	// Initial pass brings the store in line with the corpus before the
	// watcher takes over.
	d.indexer.Trigger(ctx, index.ModeIncremental)

	if !cfg.Watch.Disabled {
		known := make(map[string]string)
		if docs, err := d.store.Documents(ctx); err != nil {
			logger.Printf("seed watcher state: %v", err)
		} else {
			for path, record := range docs {
				known[path] = record.SHA256
			}
		}

		w := watcher.New(
			cfg.CorpusDir,
			time.Duration(cfg.Watch.PollIntervalSecs)*time.Second,
			ingestion.Supported,
			known,
			logger,
		)
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("watcher stopped: %v", err)
			}
		}()
		go d.indexer.Watch(ctx, w.Changes())
	}

	var graphCleaner api.GraphCleaner
	if d.graph != nil {
		graphCleaner = d.graph
	}
	server := api.New(chatSvc, d.indexer, d.store, sessions, graphCleaner, logger)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("shutdown: %v", err)
		}
	}()

	logger.Printf("serving on %s (corpus: %s, store: %s)", *addr, cfg.CorpusDir, cfg.VectorStore.Type)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("serve: %v", err)
	}
}

func indexCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("index", flag.ExitOnError)
	full := flags.Bool("full", false, "clear the store and rebuild everything")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse index flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	defer d.cleanup(context.Background())

	mode := index.ModeIncremental
	if *full {
		mode = index.ModeFull
	}

	if err := d.indexer.Reindex(ctx, mode); err != nil {
		logger.Fatalf("indexing failed: %v", err)
	}

	snapshot := d.indexer.Snapshot()
	logger.Printf("indexed %d documents (%d chunks)", snapshot.TotalDocuments, snapshot.IndexedChunks)
}

func askCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ask", flag.ExitOnError)
	question := flags.String("question", "", "question to ask about the corpus")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ask flags: %v", err)
	}
	if *question == "" && flags.NArg() > 0 {
		*question = flags.Arg(0)
	}
	if *question == "" {
		logger.Fatal("a question is required: ask -question \"...\"")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	defer d.cleanup(context.Background())

	chatSvc, err := buildChat(cfg, d, chat.NewSessionStore(10), logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}

	// The memory store starts empty on every run, so the corpus must be
	// indexed before a question can be answered against it.
	if cfg.VectorStore.Type == config.StoreMemory {
		if err := d.indexer.Reindex(ctx, index.ModeIncremental); err != nil {
			logger.Fatalf("indexing failed: %v", err)
		}
	}

	resp, err := chatSvc.Answer(ctx, "cli", *question)
	if err != nil {
		logger.Fatalf("ask failed: %v", err)
	}

	fmt.Println(resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Println("\nSources:")
		for i, source := range resp.Sources {
			fmt.Printf("%d. %s (score %.3f, %d chunks)\n", i+1, source.Path, source.Score, source.ChunksUsed)
		}
	}
}

func clearCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	confirm := flags.Bool("confirm", false, "confirm removal of all indexed data")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse clear flags: %v", err)
	}
	if !*confirm {
		logger.Fatal("refusing to clear without -confirm")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	defer d.cleanup(context.Background())

	if err := d.store.Clear(ctx); err != nil {
		logger.Fatalf("clear vector store: %v", err)
	}
	if d.graph != nil {
		if err := d.graph.Clear(ctx); err != nil {
			logger.Fatalf("clear knowledge graph: %v", err)
		}
	}
	logger.Println("indexed data cleared")
}

func printUsage() {
	fmt.Println(`Usage: neuralstark <command> [flags]

Commands:
  serve   start the HTTP API, corpus watcher and indexer
  index   run one indexing pass (-full rebuilds from scratch)
  ask     answer a single question from the command line
  clear   remove all indexed data (-confirm required)`)
}

// Package embeddings converts text into fixed-dimension vectors through an
// external provider. The same client serves chunk embedding on the write
// path and query embedding on the read path, so both live in one vector
// space.
package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/neuralstark/neuralstark/config"
)

var (
	// ErrProviderFailed marks a batch that exhausted its retries. Callers
	// defer the affected chunks to the next indexing pass.
	ErrProviderFailed = errors.New("embedding provider failed")
)

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

type Options struct {
	Provider  string
	Model     string
	Dimension int

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// NewEmbedder builds the configured provider wrapped with batching,
// retry, and an LRU cache keyed by content hash.
func NewEmbedder(cfg config.Config) (Embedder, error) {
	opts := Options{
		Provider:      cfg.Embeddings.Provider,
		Model:         cfg.Embeddings.Model,
		Dimension:     cfg.Embeddings.Dimension,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	var provider Embedder
	switch opts.Provider {
	case config.ProviderOllama:
		provider = NewOllamaEmbedder(opts)
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		provider = NewOpenAIEmbedder(opts)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}

	return NewBatchingEmbedder(provider, cfg.Embeddings.BatchSize, cfg.Embeddings.CacheSize), nil
}

type batchingEmbedder struct {
	provider  Embedder
	batchSize int
	cache     *lru.Cache[string, []float32]
	retry     RetryConfig
}

// NewBatchingEmbedder splits inputs into provider-sized batches, retries
// each batch with exponential backoff, and caches vectors by content hash.
func NewBatchingEmbedder(provider Embedder, batchSize, cacheSize int) Embedder {
	if batchSize <= 0 {
		batchSize = 64
	}
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		cache, _ = lru.New[string, []float32](10000)
	}
	return &batchingEmbedder{
		provider:  provider,
		batchSize: batchSize,
		cache:     cache,
		retry:     DefaultRetryConfig(),
	}
}

func (e *batchingEmbedder) Dimension() int {
	return e.provider.Dimension()
}

func (e *batchingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	missing := make([]int, 0, len(texts))
	hashes := make([]string, len(texts))

	for i, text := range texts {
		hashes[i] = ComputeHash(text)
		if vec, ok := e.cache.Get(hashes[i]); ok {
			results[i] = cloneVector(vec)
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += e.batchSize {
		end := start + e.batchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		inputs := make([]string, len(batch))
		for i, idx := range batch {
			inputs[i] = texts[idx]
		}

		vectors, err := retryWithBackoff(ctx, e.retry, func() ([][]float32, error) {
			return e.provider.Embed(ctx, inputs)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
		}
		if len(vectors) != len(inputs) {
			return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrProviderFailed, len(vectors), len(inputs))
		}

		for i, idx := range batch {
			results[idx] = vectors[i]
			e.cache.Add(hashes[idx], cloneVector(vectors[i]))
		}
	}

	return results, nil
}

// ComputeHash returns the SHA-256 hex digest of text, the cache key.
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func cloneVector(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}

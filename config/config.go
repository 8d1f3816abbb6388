// Package config loads application configuration from an optional YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type EmbeddingsConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
	CacheSize int    `yaml:"cache_size"`
}

type LLMConfig struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
	MinSize int `yaml:"min_size"`
}

type RetrievalConfig struct {
	TopK          int     `yaml:"top_k"`
	MinSimilarity float64 `yaml:"min_similarity"`
	ContextBudget int     `yaml:"context_budget"`
	// OnNoContext selects what happens when no chunk clears MinSimilarity:
	// "answer" forwards the question without document context, "refuse"
	// returns a no-relevant-documents response without calling the LLM.
	OnNoContext string `yaml:"on_no_context"`
}

// WatchConfig controls the corpus watcher. Watching is on unless
// explicitly disabled.
type WatchConfig struct {
	Disabled         bool `yaml:"disabled"`
	PollIntervalSecs int  `yaml:"poll_interval_secs"`
}

type IndexConfig struct {
	Workers int `yaml:"workers"`
}

type VectorStoreConfig struct {
	Type string `yaml:"type"`
}

type OCRConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Languages []string `yaml:"languages"`
	// MinTextDensity is the minimum number of non-whitespace characters a
	// PDF page's text layer must carry before OCR is skipped for it.
	MinTextDensity int `yaml:"min_text_density"`
}

type Config struct {
	CorpusDir  string `yaml:"corpus_dir"`
	ListenAddr string `yaml:"listen_addr"`

	PostgresDSN string `yaml:"postgres_dsn"`
	Neo4jURI    string `yaml:"neo4j_uri"`
	Neo4jUser   string `yaml:"neo4j_user"`
	Neo4jPass   string `yaml:"neo4j_pass"`

	OllamaHost    string `yaml:"ollama_host"`
	OpenAIAPIKey  string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	Embeddings  EmbeddingsConfig  `yaml:"embeddings"`
	LLM         LLMConfig         `yaml:"llm"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Watch       WatchConfig       `yaml:"watch"`
	Index       IndexConfig       `yaml:"index"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	OCR         OCRConfig         `yaml:"ocr"`
}

// Load builds the configuration in three layers: defaults, then the YAML
// file at path (skipped when the file does not exist), then environment
// variables. Path may be empty to use ./config.yaml.
func Load(path string) (Config, error) {
	cfg := Config{}

	if path == "" {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

// Default returns the configuration with no file or environment applied.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	setEnv(&cfg.CorpusDir, "CORPUS_DIR")
	setEnv(&cfg.ListenAddr, "LISTEN_ADDR")
	setEnv(&cfg.PostgresDSN, "POSTGRES_DSN")
	setEnv(&cfg.Neo4jURI, "NEO4J_URI")
	setEnv(&cfg.Neo4jUser, "NEO4J_USERNAME")
	setEnv(&cfg.Neo4jPass, "NEO4J_PASSWORD")
	setEnv(&cfg.OllamaHost, "OLLAMA_HOST")
	setEnv(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setEnv(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	setEnv(&cfg.Embeddings.Provider, "EMBEDDINGS_PROVIDER")
	setEnv(&cfg.Embeddings.Model, "EMBEDDINGS_MODEL")
	setEnvInt(&cfg.Embeddings.Dimension, "EMBEDDINGS_DIMENSION")
	setEnv(&cfg.LLM.Provider, "LLM_PROVIDER")
	setEnv(&cfg.LLM.Model, "LLM_MODEL")
	setEnv(&cfg.VectorStore.Type, "VECTOR_STORE")
}

func applyDefaults(cfg *Config) {
	if cfg.CorpusDir == "" {
		cfg.CorpusDir = "./files"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8001"
	}
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "postgres://localhost:5432/neuralstark?sslmode=disable"
	}
	if cfg.Neo4jUser == "" {
		cfg.Neo4jUser = "neo4j"
	}
	if cfg.OllamaHost == "" {
		cfg.OllamaHost = "http://localhost:11434"
	}
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = ProviderOllama
	}
	if cfg.Embeddings.Model == "" {
		if cfg.Embeddings.Provider == ProviderOpenAI {
			cfg.Embeddings.Model = "text-embedding-3-small"
		} else {
			cfg.Embeddings.Model = "nomic-embed-text"
		}
	}
	if cfg.Embeddings.Dimension <= 0 {
		if cfg.Embeddings.Provider == ProviderOpenAI {
			cfg.Embeddings.Dimension = 1536
		} else {
			cfg.Embeddings.Dimension = 768
		}
	}
	if cfg.Embeddings.BatchSize <= 0 {
		cfg.Embeddings.BatchSize = 64
	}
	if cfg.Embeddings.CacheSize <= 0 {
		cfg.Embeddings.CacheSize = 10000
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = ProviderOllama
	}
	if cfg.LLM.Model == "" {
		if cfg.LLM.Provider == ProviderOpenAI {
			cfg.LLM.Model = "gpt-4o-mini"
		} else {
			cfg.LLM.Model = "llama3.1"
		}
	}
	if cfg.LLM.TimeoutSecs <= 0 {
		cfg.LLM.TimeoutSecs = 60
	}
	if cfg.Chunking.Size <= 0 {
		cfg.Chunking.Size = 800
	}
	if cfg.Chunking.Overlap <= 0 {
		cfg.Chunking.Overlap = 150
	}
	if cfg.Chunking.Overlap >= cfg.Chunking.Size {
		cfg.Chunking.Overlap = cfg.Chunking.Size / 4
	}
	if cfg.Chunking.MinSize <= 0 {
		cfg.Chunking.MinSize = 100
	}
	if cfg.Chunking.MinSize > cfg.Chunking.Size {
		cfg.Chunking.MinSize = cfg.Chunking.Size
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.MinSimilarity <= 0 {
		cfg.Retrieval.MinSimilarity = 0.2
	}
	if cfg.Retrieval.ContextBudget <= 0 {
		cfg.Retrieval.ContextBudget = 6000
	}
	if cfg.Retrieval.OnNoContext == "" {
		cfg.Retrieval.OnNoContext = "answer"
	}
	if cfg.Watch.PollIntervalSecs <= 0 {
		cfg.Watch.PollIntervalSecs = 5
	}
	if cfg.Index.Workers <= 0 {
		cfg.Index.Workers = 4
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = StorePostgres
	}
	if len(cfg.OCR.Languages) == 0 {
		cfg.OCR.Languages = []string{"eng", "fra"}
	}
	if cfg.OCR.MinTextDensity <= 0 {
		cfg.OCR.MinTextDensity = 32
	}
}

func setEnv(dst *string, key string) {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		*dst = value
	}
}

func setEnvInt(dst *int, key string) {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			*dst = parsed
		}
	}
}

// Package llm wraps the external generative text providers. The provider
// is treated as an opaque completion service: prompt in, text out, with a
// single bounded timeout and no retries.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/neuralstark/neuralstark/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

type Options struct {
	Provider string
	Model    string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func NewClient(cfg config.Config) (Client, error) {
	opts := Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	var client Client
	switch opts.Provider {
	case config.ProviderOllama:
		client = NewOllamaClient(opts)
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		client = NewOpenAIClient(opts)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}

	timeout := time.Duration(cfg.LLM.TimeoutSecs) * time.Second
	return WithTimeout(client, timeout), nil
}

type timeoutClient struct {
	inner   Client
	timeout time.Duration
}

// WithTimeout bounds every Generate call with a deadline.
func WithTimeout(client Client, timeout time.Duration) Client {
	if timeout <= 0 {
		return client
	}
	return &timeoutClient{inner: client, timeout: timeout}
}

func (c *timeoutClient) Generate(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.inner.Generate(ctx, messages)
}

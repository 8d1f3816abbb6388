// Package chat answers questions over the indexed corpus: it embeds the
// question, retrieves the closest chunks, assembles a budgeted context
// prompt and asks the LLM, returning the answer with ranked sources.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/neuralstark/neuralstark/embeddings"
	"github.com/neuralstark/neuralstark/knowledge"
	"github.com/neuralstark/neuralstark/llm"
	"github.com/neuralstark/neuralstark/vectorstore"
)

// OnNoContext policies for questions with no relevant chunks.
const (
	PolicyAnswer = "answer"
	PolicyRefuse = "refuse"
)

const refusalAnswer = "I could not find anything in the indexed documents that answers this question."

// ErrGeneration wraps LLM failures so the API layer can map them to a
// distinct status.
var ErrGeneration = errors.New("answer generation failed")

// Retriever finds the chunks nearest to a query vector.
type Retriever interface {
	Query(ctx context.Context, vector []float32, k int) ([]vectorstore.Match, error)
}

// GraphStore enriches sources with knowledge graph context.
type GraphStore interface {
	Insights(ctx context.Context, path string) (knowledge.DocumentInsights, error)
}

// Options tunes retrieval and prompting.
type Options struct {
	TopK          int
	MinSimilarity float64
	ContextBudget int
	OnNoContext   string
}

// Service wires retrieval, prompting and generation together.
type Service struct {
	retriever Retriever
	graph     GraphStore
	embedder  embeddings.Embedder
	llm       llm.Client
	sessions  *SessionStore
	opts      Options
	logger    *log.Logger
}

func NewService(retriever Retriever, graph GraphStore, embedder embeddings.Embedder, llmClient llm.Client, sessions *SessionStore, opts Options, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.ContextBudget <= 0 {
		opts.ContextBudget = 6000
	}
	if opts.OnNoContext == "" {
		opts.OnNoContext = PolicyAnswer
	}
	return &Service{
		retriever: retriever,
		graph:     graph,
		embedder:  embedder,
		llm:       llmClient,
		sessions:  sessions,
		opts:      opts,
		logger:    logger,
	}
}

// Answer handles one question for a session. On success the completed
// turn is appended to the session history.
func (s *Service) Answer(ctx context.Context, sessionID, question string) (Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Response{}, fmt.Errorf("question cannot be empty")
	}

	vectors, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return Response{}, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) == 0 {
		return Response{}, fmt.Errorf("embedder returned no vectors")
	}

	matches, err := s.retriever.Query(ctx, vectors[0], s.opts.TopK)
	if err != nil {
		return Response{}, fmt.Errorf("vector search: %w", err)
	}
	matches = filterByScore(matches, s.opts.MinSimilarity)

	if len(matches) == 0 {
		s.logger.Printf("no relevant context for question in session %s", sessionID)
		if s.opts.OnNoContext == PolicyRefuse {
			return Response{Answer: refusalAnswer, Sources: []Source{}}, nil
		}
	}

	matches = s.applyBudget(matches)
	sources := s.buildSources(ctx, matches)

	history := s.sessions.History(sessionID)
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt()})
	messages = append(messages, history...)
	userMessage := llm.Message{Role: llm.RoleUser, Content: formatUserPrompt(question, buildContextPrompt(sources, matches))}
	messages = append(messages, userMessage)

	answer, err := s.llm.Generate(ctx, messages)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	answer = strings.TrimSpace(answer)

	s.sessions.Append(sessionID, userMessage, llm.Message{Role: llm.RoleAssistant, Content: answer})

	return Response{Answer: answer, Sources: sources}, nil
}

func filterByScore(matches []vectorstore.Match, minScore float64) []vectorstore.Match {
	filtered := make([]vectorstore.Match, 0, len(matches))
	for _, match := range matches {
		if match.Score >= minScore {
			filtered = append(filtered, match)
		}
	}
	return filtered
}

// applyBudget keeps matches in score order until their combined text
// length exceeds the context budget. The first chunk is always kept so
// a single oversized chunk cannot empty the context.
func (s *Service) applyBudget(matches []vectorstore.Match) []vectorstore.Match {
	used := 0
	kept := make([]vectorstore.Match, 0, len(matches))
	for i, match := range matches {
		size := len(match.Chunk.Text)
		if i > 0 && used+size > s.opts.ContextBudget {
			break
		}
		kept = append(kept, match)
		used += size
	}
	return kept
}

// buildSources groups matches by document, keeping each document's best
// score, its first snippet and the number of chunks it contributed.
func (s *Service) buildSources(ctx context.Context, matches []vectorstore.Match) []Source {
	grouped := make(map[string]*Source, len(matches))
	order := make([]string, 0, len(matches))
	for _, match := range matches {
		path := match.Chunk.DocumentPath
		source, ok := grouped[path]
		if !ok {
			source = &Source{
				Path:    path,
				Score:   match.Score,
				Snippet: snippet(match.Chunk.Text),
			}
			grouped[path] = source
			order = append(order, path)
		} else if match.Score > source.Score {
			source.Score = match.Score
		}
		source.ChunksUsed++
	}

	sources := make([]Source, 0, len(grouped))
	for _, path := range order {
		source := grouped[path]
		if s.graph != nil {
			insights, err := s.graph.Insights(ctx, path)
			if err != nil {
				s.logger.Printf("graph insights for %s: %v", path, err)
			} else {
				source.Folders = insights.Folders
				source.RelatedDocuments = insights.RelatedDocuments
			}
		}
		sources = append(sources, *source)
	}

	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Score > sources[j].Score
	})
	return sources
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > 300 {
		return string(runes[:300]) + "..."
	}
	return text
}

func buildContextPrompt(sources []Source, matches []vectorstore.Match) string {
	if len(matches) == 0 {
		return ""
	}

	sourceIndex := make(map[string]int, len(sources))
	for i, source := range sources {
		sourceIndex[source.Path] = i + 1
	}

	builder := &strings.Builder{}
	for _, match := range matches {
		fmt.Fprintf(builder, "[Source %d: %s]\n", sourceIndex[match.Chunk.DocumentPath], match.Chunk.DocumentPath)
		builder.WriteString(strings.TrimSpace(match.Chunk.Text))
		builder.WriteString("\n\n")
	}
	return builder.String()
}

func systemPrompt() string {
	return "You are a document assistant answering questions about an indexed document collection. Ground your answer in the supplied context and cite Source numbers in brackets (e.g., [Source 1]) when you draw from it. If the context does not cover the question, say so plainly before answering from general knowledge. Answer the question directly before adding detail."
}

func formatUserPrompt(question, context string) string {
	builder := &strings.Builder{}
	builder.WriteString("Question:\n")
	builder.WriteString(question)
	if strings.TrimSpace(context) != "" {
		builder.WriteString("\n\nContext from the document collection:\n")
		builder.WriteString(context)
	}
	return builder.String()
}

// Package api exposes the HTTP surface: question answering, session
// history, corpus status and listing, reindex triggers and data reset.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/neuralstark/neuralstark/chat"
	"github.com/neuralstark/neuralstark/index"
	"github.com/neuralstark/neuralstark/ingestion"
	"github.com/neuralstark/neuralstark/vectorstore"
)

// GraphCleaner is the slice of the knowledge graph the server needs for
// the clear endpoint. Nil disables graph clearing.
type GraphCleaner interface {
	Clear(ctx context.Context) error
}

// Server wires the HTTP handlers to long-lived service dependencies.
type Server struct {
	chat     *chat.Service
	indexer  *index.Orchestrator
	store    vectorstore.Index
	sessions *chat.SessionStore
	graph    GraphCleaner
	logger   *log.Logger
	handler  http.Handler
	started  time.Time
}

type messageResponse struct {
	Message string `json:"message"`
}

type healthResponse struct {
	Status         string  `json:"status"`
	UptimeSecs     float64 `json:"uptime_secs"`
	TotalDocuments int     `json:"total_documents"`
	IndexedChunks  int     `json:"indexed_chunks"`
	Indexing       bool    `json:"indexing"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type chatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Answer    string        `json:"answer"`
	Sources   []chat.Source `json:"sources"`
	SessionID string        `json:"session_id"`
}

type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type historyResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []historyMessage `json:"messages"`
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

type documentEntry struct {
	Name          string    `json:"name"`
	Path          string    `json:"path"`
	Extension     string    `json:"extension"`
	Size          int64     `json:"size"`
	SizeFormatted string    `json:"size_formatted"`
	ModifiedAt    time.Time `json:"modified_at"`
}

type documentListResponse struct {
	Total      int                        `json:"total"`
	Categories map[string][]documentEntry `json:"categories"`
}

// New constructs a Server over already-connected services.
func New(chatSvc *chat.Service, indexer *index.Orchestrator, store vectorstore.Index, sessions *chat.SessionStore, graph GraphCleaner, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		chat:     chatSvc,
		indexer:  indexer,
		store:    store,
		sessions: sessions,
		graph:    graph,
		logger:   logger,
		started:  time.Now(),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/chat/history/", s.handleHistory)
	mux.HandleFunc("/api/documents/status", s.handleStatus)
	mux.HandleFunc("/api/documents/list", s.handleList)
	mux.HandleFunc("/api/documents/reindex", s.handleReindex)
	mux.HandleFunc("/api/clear", s.handleClear)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	snapshot := s.indexer.Snapshot()
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		UptimeSecs:     time.Since(s.started).Seconds(),
		TotalDocuments: snapshot.TotalDocuments,
		IndexedChunks:  snapshot.IndexedChunks,
		Indexing:       snapshot.InProgress,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}

	resp, err := s.chat.Answer(r.Context(), req.SessionID, req.Question)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chat.ErrGeneration) {
			status = http.StatusBadGateway
		}
		s.writeError(w, status, err)
		return
	}

	s.writeJSON(w, http.StatusOK, chatResponse{
		Answer:    resp.Answer,
		Sources:   resp.Sources,
		SessionID: req.SessionID,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/api/chat/history/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("session id is required"))
		return
	}

	history := s.sessions.History(sessionID)
	messages := make([]historyMessage, len(history))
	for i, msg := range history {
		messages[i] = historyMessage{Role: msg.Role, Content: msg.Content}
	}

	s.writeJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, Messages: messages})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, s.indexer.Snapshot())
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	docs, err := s.store.Documents(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("list documents: %w", err))
		return
	}

	categories := make(map[string][]documentEntry)
	for path, record := range docs {
		category := ingestion.Category(ingestion.Format(record.Format))
		categories[category] = append(categories[category], documentEntry{
			Name:          filepath.Base(path),
			Path:          path,
			Extension:     strings.ToLower(filepath.Ext(path)),
			Size:          record.ByteSize,
			SizeFormatted: formatFileSize(record.ByteSize),
			ModifiedAt:    record.ModifiedAt,
		})
	}
	for _, entries := range categories {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	}

	s.writeJSON(w, http.StatusOK, documentListResponse{Total: len(docs), Categories: categories})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	mode := index.ModeIncremental
	if r.URL.Query().Get("full") == "true" {
		mode = index.ModeFull
	}

	// Reindexing can outlive the request, so the pass detaches from the
	// request context and the endpoint replies immediately.
	s.indexer.Trigger(context.WithoutCancel(r.Context()), mode)
	s.writeJSON(w, http.StatusAccepted, messageResponse{Message: fmt.Sprintf("%s reindex started", mode)})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if !req.Confirm {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("confirm must be true to clear data"))
		return
	}

	ctx := r.Context()
	if err := s.store.Clear(ctx); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("clear vector store: %w", err))
		return
	}
	if s.graph != nil {
		if err := s.graph.Clear(ctx); err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("clear knowledge graph: %w", err))
			return
		}
	}
	s.sessions.Clear()

	s.logger.Println("corpus data cleared")
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "corpus data cleared"})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

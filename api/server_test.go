package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/neuralstark/neuralstark/chat"
	"github.com/neuralstark/neuralstark/index"
	"github.com/neuralstark/neuralstark/ingestion"
	"github.com/neuralstark/neuralstark/llm"
	"github.com/neuralstark/neuralstark/vectorstore"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

func (fixedEmbedder) Dimension() int { return 3 }

type fixedLLM struct{ answer string }

func (f fixedLLM) Generate(_ context.Context, _ []llm.Message) (string, error) {
	return f.answer, nil
}

func newTestServer(t *testing.T) (*Server, vectorstore.Index, string) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	dir := t.TempDir()

	store := vectorstore.NewMemoryIndex()
	sessions := chat.NewSessionStore(10)
	chatSvc := chat.NewService(store, nil, fixedEmbedder{}, fixedLLM{answer: "the answer"}, sessions, chat.Options{}, logger)
	indexer := index.NewOrchestrator(index.Options{
		CorpusDir: dir,
		Store:     store,
		Extractor: ingestion.NewService(nil, logger),
		Chunker:   ingestion.NewChunker(200, 40, 20),
		Embedder:  fixedEmbedder{},
		Workers:   1,
		Logger:    logger,
	})

	return New(chatSvc, indexer, store, sessions, nil, logger), store, dir
}

func doJSON(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var health healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" {
		t.Fatalf("status field = %q", health.Status)
	}

	rec = doJSON(t, server, http.MethodPost, "/api/health", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method status = %d", rec.Code)
	}
}

func TestChatEndpoint(t *testing.T) {
	server, store, _ := newTestServer(t)
	seedDocument(t, store)

	rec := doJSON(t, server, http.MethodPost, "/api/chat", `{"question":"what is indexed?","session_id":"s1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "the answer" || resp.SessionID != "s1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.Sources) == 0 {
		t.Fatal("expected at least one source")
	}
}

func TestChatEndpointValidation(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodPost, "/api/chat", `{"question":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank question status = %d", rec.Code)
	}

	rec = doJSON(t, server, http.MethodPost, "/api/chat", `{"question":"q","unknown_field":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	server, store, _ := newTestServer(t)
	seedDocument(t, store)

	doJSON(t, server, http.MethodPost, "/api/chat", `{"question":"first?","session_id":"s9"}`)

	rec := doJSON(t, server, http.MethodGet, "/api/chat/history/s9", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp historyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(resp.Messages))
	}
	if resp.Messages[0].Role != llm.RoleUser || resp.Messages[1].Role != llm.RoleAssistant {
		t.Fatalf("unexpected roles: %+v", resp.Messages)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/chat/history/", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing session status = %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/api/documents/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var snapshot index.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snapshot.InProgress {
		t.Fatal("fresh server should be idle")
	}
}

func TestListEndpointGroupsByCategory(t *testing.T) {
	server, store, _ := newTestServer(t)
	seedDocument(t, store)

	rec := doJSON(t, server, http.MethodGet, "/api/documents/list", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp documentListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 {
		t.Fatalf("total = %d", resp.Total)
	}
	entries, ok := resp.Categories["Text"]
	if !ok || len(entries) != 1 {
		t.Fatalf("expected one Text entry, got %+v", resp.Categories)
	}
	if entries[0].SizeFormatted == "" {
		t.Fatal("size_formatted missing")
	}
}

func TestReindexEndpoint(t *testing.T) {
	server, store, dir := newTestServer(t)
	if err := os.WriteFile(filepath.Join(dir, "doc.txt"), []byte("Some corpus file content."), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rec := doJSON(t, server, http.MethodPost, "/api/documents/reindex", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	deadline := time.After(5 * time.Second)
	for {
		docs, err := store.Documents(context.Background())
		if err != nil {
			t.Fatalf("documents: %v", err)
		}
		if len(docs) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("reindex never indexed the corpus file")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestClearEndpointRequiresConfirm(t *testing.T) {
	server, store, _ := newTestServer(t)
	seedDocument(t, store)

	rec := doJSON(t, server, http.MethodPost, "/api/clear", `{"confirm":false}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unconfirmed clear status = %d", rec.Code)
	}

	rec = doJSON(t, server, http.MethodPost, "/api/clear", `{"confirm":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirmed clear status = %d", rec.Code)
	}

	docs, _ := store.Documents(context.Background())
	if len(docs) != 0 {
		t.Fatalf("store not cleared, %d documents remain", len(docs))
	}
}

func TestFormatFileSize(t *testing.T) {
	cases := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tc := range cases {
		if got := formatFileSize(tc.size); got != tc.want {
			t.Fatalf("formatFileSize(%d) = %q, want %q", tc.size, got, tc.want)
		}
	}
}

func seedDocument(t *testing.T, store vectorstore.Index) {
	t.Helper()
	err := store.UpsertDocument(context.Background(), vectorstore.DocumentRecord{
		Path:       "notes.txt",
		SHA256:     "abc",
		Format:     string(ingestion.FormatText),
		ByteSize:   42,
		ModifiedAt: time.Now().UTC(),
	}, []vectorstore.Chunk{{
		ID:           vectorstore.ChunkID("notes.txt", 0),
		DocumentPath: "notes.txt",
		Index:        0,
		Text:         "Indexed note content about the corpus.",
		Embedding:    []float32{1, 0, 0},
	}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

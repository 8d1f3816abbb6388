package chat

import (
	"sync"

	"github.com/neuralstark/neuralstark/llm"
)

// SessionStore keeps per-session conversation history in memory. Only a
// bounded window of recent turns is retained and replayed to the LLM.
type SessionStore struct {
	mu       sync.Mutex
	window   int
	sessions map[string][]llm.Message
}

// NewSessionStore returns a store that replays at most window messages
// per session.
func NewSessionStore(window int) *SessionStore {
	if window <= 0 {
		window = 10
	}
	return &SessionStore{
		window:   window,
		sessions: make(map[string][]llm.Message),
	}
}

// History returns a copy of the retained messages for a session.
func (s *SessionStore) History(sessionID string) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.sessions[sessionID]
	out := make([]llm.Message, len(history))
	copy(out, history)
	return out
}

// Append records a completed turn and trims the session to the window.
func (s *SessionStore) Append(sessionID string, messages ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := append(s.sessions[sessionID], messages...)
	if len(history) > s.window {
		history = history[len(history)-s.window:]
	}
	s.sessions[sessionID] = history
}

// Clear drops every session.
func (s *SessionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string][]llm.Message)
}

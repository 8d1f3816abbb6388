package index

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of indexing progress for the status
// endpoint and CLI.
type Snapshot struct {
	TotalDocuments int       `json:"total_documents"`
	IndexedChunks  int       `json:"indexed_chunks"`
	LastUpdated    time.Time `json:"last_updated"`
	InProgress     bool      `json:"in_progress"`
}

// State tracks indexing progress under a mutex so handlers can read it
// while a pass runs.
type State struct {
	mu             sync.Mutex
	totalDocuments int
	indexedChunks  int
	lastUpdated    time.Time
	inProgress     bool
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		TotalDocuments: s.totalDocuments,
		IndexedChunks:  s.indexedChunks,
		LastUpdated:    s.lastUpdated,
		InProgress:     s.inProgress,
	}
}

func (s *State) setInProgress(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress = v
}

func (s *State) update(totalDocuments, indexedChunks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalDocuments = totalDocuments
	s.indexedChunks = indexedChunks
	s.lastUpdated = time.Now().UTC()
}

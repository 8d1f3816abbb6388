package chat

// Source is a document that contributed context to an answer, ranked by
// its best chunk score.
type Source struct {
	Path       string  `json:"path"`
	Format     string  `json:"format"`
	Score      float64 `json:"score"`
	ChunksUsed int     `json:"chunks_used"`
	Snippet    string  `json:"snippet"`

	// Graph enrichment, present only when the knowledge graph is wired.
	Folders          []string `json:"folders,omitempty"`
	RelatedDocuments []string `json:"related_documents,omitempty"`
}

// Response is a complete answer to one question.
type Response struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

package models

import "time"

// Chunk is a bounded slice of a document's content, sized for embedding
// and retrieval. Index is the ordinal position within the parent document
// and is assigned at chunk-creation time, so ordering survives concurrent
// embedding.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	SourceID   string    `json:"source_id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Index      int       `json:"index"`
	Content    string    `json:"content"`
	CharLen    int       `json:"char_len"`
	WordCount  int       `json:"word_count"`
	HasCode    bool      `json:"has_code"`
	CreatedAt  time.Time `json:"created_at"`
}

// Embedding is a dense vector for one chunk at one dimensionality.
// A chunk may hold at most one vector per dimension it has been embedded
// with; the dimension comes from the active embedding capability and is
// never assumed by the pipeline.
type Embedding struct {
	ChunkID   string    `json:"chunk_id"`
	SourceID  string    `json:"source_id"`
	HasCode   bool      `json:"has_code"` // denormalized from the chunk for filtered vector search
	Dimension int       `json:"dimension"`
	Vector    []float32 `json:"vector"`
}

// CodeExample is a fenced code block extracted from a document that passed
// the minimum length and code-indicator thresholds.
type CodeExample struct {
	ID         string `json:"id"`
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	SourceID   string `json:"source_id"`
	Language   string `json:"language"`
	Code       string `json:"code"`
	Summary    string `json:"summary,omitempty"`
}

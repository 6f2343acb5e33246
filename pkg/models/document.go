package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Source represents a logical origin of documents: a crawled site, an
// upload, or a folder group. Aggregate counts are derived from chunks and
// can always be recomputed; they are cached here for display only.
type Source struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	DocCount    int       `json:"doc_count"`
	ChunkCount  int       `json:"chunk_count"`
	WordCount   int       `json:"word_count"`
	CreatedAt   time.Time `json:"created_at"`
	LastCrawlAt time.Time `json:"last_crawl_at"`
}

// Document represents one fetched or uploaded page.
type Document struct {
	ID          string            `json:"id"`
	SourceID    string            `json:"source_id"`
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	ContentType string            `json:"content_type"` // HTTP Content-Type header
	Mode        string            `json:"mode"`         // extraction mode used
	Metadata    map[string]string `json:"metadata,omitempty"`
	ScrapedAt   time.Time         `json:"scraped_at"`
}

// ClassificationResult is the output of mode detection for one page.
// It is recomputable from the page, so it is never treated as authoritative
// persisted state.
type ClassificationResult struct {
	Mode              string   `json:"mode"`
	Confidence        float64  `json:"confidence"`
	MatchedIndicators []string `json:"matched_indicators,omitempty"`
	Fallbacks         []string `json:"fallbacks,omitempty"`
}

// GenerateDocumentID creates a deterministic ID from URL.
// The ID is a SHA-256 hash (first 16 chars) of the URL.
func GenerateDocumentID(url string) string {
	hash := sha256.Sum256([]byte(url))
	return hex.EncodeToString(hash[:])[:16]
}

// GenerateChunkID creates a deterministic ID for a chunk from its parent
// document ID and ordinal index. Re-chunking unchanged content yields the
// same IDs, which makes re-ingestion an upsert rather than a duplicate.
func GenerateChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s-%04d", documentID, index)
}

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quarrydocs/quarry/pkg/models"
)

// Completer is the LLM capability the summarizer needs.
type Completer interface {
	SummarizeDocument(ctx context.Context, title, content string) (string, error)
}

// Summarizer caches per-document summaries and hands them out as chunk
// context for contextual embedding. Prime a document once, then every
// chunk of that document gets the same summary prefix.
type Summarizer struct {
	completer Completer

	mu        sync.RWMutex
	summaries map[string]string // document ID -> summary
}

// NewSummarizer creates a summarizer backed by the given completer.
func NewSummarizer(completer Completer) *Summarizer {
	return &Summarizer{
		completer: completer,
		summaries: make(map[string]string),
	}
}

// Prime generates and caches the summary for a document. Safe to call
// more than once; the cached summary wins.
func (s *Summarizer) Prime(ctx context.Context, doc *models.Document) error {
	s.mu.RLock()
	_, ok := s.summaries[doc.ID]
	s.mu.RUnlock()
	if ok {
		return nil
	}

	summary, err := s.completer.SummarizeDocument(ctx, doc.Title, doc.Content)
	if err != nil {
		return fmt.Errorf("failed to summarize document %s: %w", doc.ID, err)
	}

	slog.Debug("cached document summary", "document_id", doc.ID, "summary_len", len(summary))

	s.mu.Lock()
	s.summaries[doc.ID] = summary
	s.mu.Unlock()
	return nil
}

// ContextFor returns the cached summary for the chunk's document.
// A document that was never primed yields an empty context, which
// disables augmentation for that chunk.
func (s *Summarizer) ContextFor(_ context.Context, chunk models.Chunk) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaries[chunk.DocumentID], nil
}

// Forget drops the cached summary for a document. Used after a document
// is re-ingested with new content.
func (s *Summarizer) Forget(documentID string) {
	s.mu.Lock()
	delete(s.summaries, documentID)
	s.mu.Unlock()
}

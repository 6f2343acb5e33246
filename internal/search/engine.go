// Package search fuses vector and keyword retrieval into one ranked
// result set, with optional LLM reranking on top.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/quarrydocs/quarry/internal/store"
	"github.com/quarrydocs/quarry/pkg/models"
)

// Embedder turns query text into a query vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, int, error)
}

// Reranker rescores fused results against the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []models.RankedResult) ([]models.RankedResult, error)
}

// Config tunes fusion.
type Config struct {
	TopK          int
	MinSimilarity float64
	VectorWeight  float64
	KeywordWeight float64
}

// Engine runs hybrid search: both legs are queried with the same filters,
// results are fused by chunk ID, and the combined ranking is truncated to
// TopK. One leg failing degrades the response to the other leg;
// a query-vector dimension the store does not hold fails the query.
type Engine struct {
	store    store.Store
	embedder Embedder // nil disables text-to-vector embedding
	reranker Reranker // nil disables reranking
	config   Config
}

// New creates a search engine. Zero config fields get working defaults.
func New(st store.Store, embedder Embedder, reranker Reranker, config Config) *Engine {
	if config.TopK <= 0 {
		config.TopK = 10
	}
	// Each weight defaults independently so setting one never silently
	// zeroes the other leg's contribution.
	if config.VectorWeight <= 0 {
		config.VectorWeight = 0.6
	}
	if config.KeywordWeight <= 0 {
		config.KeywordWeight = 0.4
	}
	return &Engine{store: st, embedder: embedder, reranker: reranker, config: config}
}

// Query is one search request. Vector takes precedence over Text for the
// vector leg; when Vector is nil the engine embeds Text. Empty Text with a
// Vector skips the keyword leg entirely.
type Query struct {
	Text    string
	Vector  []float32
	Filters models.SearchFilters
	TopK    int  // 0 uses the engine default
	Rerank  bool // rescore the fused head with the reranker
}

// Search runs both retrieval legs and fuses them.
func (e *Engine) Search(ctx context.Context, q Query) (*models.SearchResponse, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = e.config.TopK
	}
	// Fetch more than topK per leg so fusion has overlap to work with.
	legLimit := topK * 2

	vector := q.Vector
	degraded := false

	if vector == nil && q.Text != "" && e.embedder != nil {
		vectors, _, err := e.embedder.Embed(ctx, []string{q.Text})
		if err != nil {
			slog.Warn("query embedding failed, keyword-only search", "error", err)
			degraded = true
		} else {
			vector = vectors[0]
		}
	}

	var vectorResults, keywordResults []models.RankedResult
	var vectorErr, keywordErr error

	if vector != nil {
		vectorResults, vectorErr = e.store.VectorSearch(ctx, vector, q.Filters, legLimit, e.config.MinSimilarity)
		if vectorErr != nil {
			var dm *models.DimensionMismatch
			if errors.As(vectorErr, &dm) {
				return nil, vectorErr
			}
			slog.Warn("vector search failed, degrading to keyword", "error", vectorErr)
			degraded = true
		}
	}

	if q.Text != "" {
		keywordResults, keywordErr = e.store.KeywordSearch(ctx, q.Text, q.Filters, legLimit)
		if keywordErr != nil {
			slog.Warn("keyword search failed, degrading to vector", "error", keywordErr)
			degraded = true
		}
	}

	if vectorErr != nil && keywordErr != nil {
		return nil, fmt.Errorf("both search legs failed: %w", keywordErr)
	}
	if vectorErr != nil && q.Text == "" {
		return nil, vectorErr
	}
	if vectorErr != nil {
		vectorResults = nil
	}
	if keywordErr != nil {
		keywordResults = nil
	}

	results := e.fuse(vectorResults, keywordResults)
	if len(results) > topK {
		results = results[:topK]
	}

	resp := &models.SearchResponse{Results: results, Degraded: degraded}

	if q.Rerank && e.reranker != nil && len(results) > 0 {
		reranked, err := e.reranker.Rerank(ctx, q.Text, results)
		if err != nil {
			slog.Warn("rerank failed, keeping fused order", "error", err)
		} else {
			resp.Results = reranked
			resp.Reranked = true
		}
	}

	return resp, nil
}

// fuse merges the two legs by chunk ID (full outer join). A chunk present
// in both legs becomes a hybrid match carrying both leg scores; the
// combined score is the weighted sum of the normalized leg scores.
// Keyword BM25 scores are normalized by the leg maximum; vector scores
// are already in [0,1].
func (e *Engine) fuse(vector, keyword []models.RankedResult) []models.RankedResult {
	var maxKeyword float64
	for _, r := range keyword {
		if r.KeywordScore > maxKeyword {
			maxKeyword = r.KeywordScore
		}
	}

	merged := make(map[string]models.RankedResult, len(vector)+len(keyword))
	for _, r := range vector {
		r.Score = e.config.VectorWeight * r.VectorScore
		merged[r.Chunk.ID] = r
	}
	for _, r := range keyword {
		norm := 0.0
		if maxKeyword > 0 {
			norm = r.KeywordScore / maxKeyword
		}
		if existing, ok := merged[r.Chunk.ID]; ok {
			existing.KeywordScore = r.KeywordScore
			existing.MatchType = models.MatchHybrid
			existing.Score = e.config.VectorWeight*existing.VectorScore + e.config.KeywordWeight*norm
			merged[r.Chunk.ID] = existing
		} else {
			r.Score = e.config.KeywordWeight * norm
			merged[r.Chunk.ID] = r
		}
	}

	results := make([]models.RankedResult, 0, len(merged))
	for _, r := range merged {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	return results
}

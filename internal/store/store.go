// Package store persists and retrieves the corpus: sources, documents,
// chunks, code examples, embeddings, and crawl jobs. The Store interface
// is what the rest of the system programs against; Elasticsearch is the
// provided implementation.
package store

import (
	"context"

	"github.com/quarrydocs/quarry/pkg/models"
)

// Store is the persistence and retrieval contract.
//
// Embeddings are keyed by (chunk ID, dimension): the same chunk may hold
// vectors in several dimensions at once, and writing a vector for an
// existing (chunk, dimension) pair replaces it.
type Store interface {
	// EnsureReady creates any missing indices. Idempotent.
	EnsureReady(ctx context.Context) error

	UpsertSource(ctx context.Context, source models.Source) error
	GetSource(ctx context.Context, id string) (*models.Source, error)
	ListSources(ctx context.Context) ([]models.Source, error)

	UpsertDocument(ctx context.Context, doc models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)

	// UpsertChunks writes a document's chunks in one bulk request, so a
	// document's chunk set lands atomically or the call errors.
	UpsertChunks(ctx context.Context, chunks []models.Chunk) error
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)

	UpsertEmbeddings(ctx context.Context, embeddings []models.Embedding) error
	// StoredDimensions lists the vector dimensions the store currently holds.
	StoredDimensions(ctx context.Context) ([]int, error)

	UpsertCodeExamples(ctx context.Context, examples []models.CodeExample) error

	// KeywordSearch runs a BM25 query over chunk content and titles.
	// Scores are raw BM25 relevance, unbounded.
	KeywordSearch(ctx context.Context, query string, filters models.SearchFilters, limit int) ([]models.RankedResult, error)

	// VectorSearch runs a similarity query against vectors whose dimension
	// equals len(vector). A dimension the store does not hold yields
	// *models.DimensionMismatch. Scores are normalized cosine similarity
	// in [0,1]; hits below minSimilarity are dropped.
	VectorSearch(ctx context.Context, vector []float32, filters models.SearchFilters, limit int, minSimilarity float64) ([]models.RankedResult, error)

	// RecomputeSourceStats rederives a source's document, chunk, and word
	// counts from the stored chunks and writes them onto the source.
	RecomputeSourceStats(ctx context.Context, sourceID string) error

	SaveJob(ctx context.Context, job *models.CrawlJob) error
	GetJob(ctx context.Context, id string) (*models.CrawlJob, error)
}

package embed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/quarrydocs/quarry/internal/retry"
	"github.com/quarrydocs/quarry/pkg/models"
)

// Embedder is the capability the pipeline drives. *Client implements it;
// tests substitute fakes.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, int, error)
}

// ContextProvider augments a chunk's text with document-level context
// before embedding ("contextual embedding"). It is a pluggable step: a nil
// provider disables augmentation without touching pipeline logic.
type ContextProvider interface {
	ContextFor(ctx context.Context, chunk models.Chunk) (string, error)
}

// PipelineConfig bounds batching and concurrency.
type PipelineConfig struct {
	BatchSize  int
	Workers    int
	MaxRetries int
}

// Pipeline batches chunks, issues batches concurrently, and isolates
// per-item failures: a rejected chunk is retried individually with backoff
// and then recorded as a permanent failure without blocking siblings.
type Pipeline struct {
	embedder Embedder
	context  ContextProvider // nil disables contextual embedding
	config   PipelineConfig
	policy   retry.Policy
}

// NewPipeline creates a Pipeline around an embedding capability.
func NewPipeline(embedder Embedder, contextProvider ContextProvider, config PipelineConfig) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 16
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = config.MaxRetries
	return &Pipeline{
		embedder: embedder,
		context:  contextProvider,
		config:   config,
		policy:   policy,
	}
}

// Result is one successfully embedded chunk.
type Result struct {
	ChunkID   string
	Dimension int
	Vector    []float32
}

// ItemError records a chunk whose embedding permanently failed.
type ItemError struct {
	ChunkID string
	Err     error
}

// EmbedBatch embeds all chunks. Results preserve chunk order; failures are
// reported per item and never abort the batch.
func (p *Pipeline) EmbedBatch(ctx context.Context, chunks []models.Chunk) ([]Result, []ItemError) {
	if len(chunks) == 0 {
		return nil, nil
	}

	type batchOut struct {
		offset  int
		results []Result
		errors  []ItemError
	}

	var batches [][]models.Chunk
	for i := 0; i < len(chunks); i += p.config.BatchSize {
		end := i + p.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[i:end])
	}

	sem := make(chan struct{}, p.config.Workers)
	outs := make([]batchOut, len(batches))
	var wg sync.WaitGroup

	offset := 0
	for bi, batch := range batches {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(bi, offset int, batch []models.Chunk) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results, errs := p.embedOne(ctx, batch)
			outs[bi] = batchOut{offset: offset, results: results, errors: errs}
		}(bi, offset, batch)
		offset += len(batch)
	}
	wg.Wait()

	var results []Result
	var errors []ItemError
	for _, out := range outs {
		results = append(results, out.results...)
		errors = append(errors, out.errors...)
	}
	return results, errors
}

// embedOne embeds a single batch; when the whole batch fails, items fall
// back to individual embedding with retries so one poisoned chunk cannot
// sink its siblings.
func (p *Pipeline) embedOne(ctx context.Context, batch []models.Chunk) ([]Result, []ItemError) {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = p.textFor(ctx, chunk)
	}

	vectors, dimension, err := p.embedder.Embed(ctx, texts)
	if err == nil {
		results := make([]Result, len(batch))
		for i, chunk := range batch {
			results[i] = Result{ChunkID: chunk.ID, Dimension: dimension, Vector: vectors[i]}
		}
		return results, nil
	}

	slog.Warn("batch embedding failed, retrying items individually",
		"batch_size", len(batch), "error", err)

	var results []Result
	var errors []ItemError
	for i, chunk := range batch {
		if ctx.Err() != nil {
			errors = append(errors, ItemError{ChunkID: chunk.ID, Err: ctx.Err()})
			continue
		}
		vec, dim, itemErr := p.embedItem(ctx, texts[i])
		if itemErr != nil {
			slog.Warn("chunk embedding permanently failed", "chunk_id", chunk.ID, "error", itemErr)
			errors = append(errors, ItemError{
				ChunkID: chunk.ID,
				Err:     &models.EmbeddingError{ChunkID: chunk.ID, Err: itemErr},
			})
			continue
		}
		results = append(results, Result{ChunkID: chunk.ID, Dimension: dim, Vector: vec})
	}
	return results, errors
}

func (p *Pipeline) embedItem(ctx context.Context, text string) ([]float32, int, error) {
	var vec []float32
	var dim int
	err := p.policy.Do(ctx, func() error {
		vectors, dimension, err := p.embedder.Embed(ctx, []string{text})
		if err != nil {
			return err
		}
		vec, dim = vectors[0], dimension
		return nil
	})
	return vec, dim, err
}

// textFor applies the contextual-embedding augmentation when a provider is
// configured. Augmentation failures degrade to the bare chunk text.
func (p *Pipeline) textFor(ctx context.Context, chunk models.Chunk) string {
	if p.context == nil {
		return chunk.Content
	}
	prefix, err := p.context.ContextFor(ctx, chunk)
	if err != nil {
		slog.Warn("context augmentation failed, embedding bare chunk",
			"chunk_id", chunk.ID, "error", err)
		return chunk.Content
	}
	if prefix == "" {
		return chunk.Content
	}
	return prefix + "\n\n" + chunk.Content
}

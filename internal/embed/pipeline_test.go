package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/quarrydocs/quarry/pkg/models"
)

// fakeEmbedder embeds deterministically and can reject specific texts.
type fakeEmbedder struct {
	mu        sync.Mutex
	dimension int
	reject    map[string]bool // texts that always fail
	calls     int
	maxBatch  int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, int, error) {
	f.mu.Lock()
	f.calls++
	if len(texts) > f.maxBatch {
		f.maxBatch = len(texts)
	}
	f.mu.Unlock()

	for _, t := range texts {
		if f.reject[t] {
			return nil, 0, errors.New("provider rejected content")
		}
	}

	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, f.dimension)
		vectors[i][0] = float32(len(texts[i]))
	}
	return vectors, f.dimension, nil
}

func makeChunks(n int) []models.Chunk {
	chunks := make([]models.Chunk, n)
	for i := range chunks {
		chunks[i] = models.Chunk{
			ID:      fmt.Sprintf("chunk-%03d", i),
			Index:   i,
			Content: fmt.Sprintf("content of chunk %d", i),
		}
	}
	return chunks
}

func fastPipeline(e Embedder, cp ContextProvider, batchSize, workers int) *Pipeline {
	p := NewPipeline(e, cp, PipelineConfig{BatchSize: batchSize, Workers: workers, MaxRetries: 2})
	p.policy.BaseDelay = 1
	return p
}

func TestEmbedBatch_AllSucceed(t *testing.T) {
	e := &fakeEmbedder{dimension: 8}
	p := fastPipeline(e, nil, 4, 2)

	results, errs := p.EmbedBatch(context.Background(), makeChunks(10))

	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(results) != 10 {
		t.Fatalf("len(results) = %d, want 10", len(results))
	}
	for i, r := range results {
		if r.ChunkID != fmt.Sprintf("chunk-%03d", i) {
			t.Errorf("results[%d].ChunkID = %q, order not preserved", i, r.ChunkID)
		}
		if r.Dimension != 8 {
			t.Errorf("results[%d].Dimension = %d, want 8", i, r.Dimension)
		}
		if len(r.Vector) != 8 {
			t.Errorf("results[%d] vector length = %d, want 8", i, len(r.Vector))
		}
	}
}

func TestEmbedBatch_RespectsBatchSize(t *testing.T) {
	e := &fakeEmbedder{dimension: 4}
	p := fastPipeline(e, nil, 3, 1)

	p.EmbedBatch(context.Background(), makeChunks(10))

	if e.maxBatch > 3 {
		t.Errorf("max batch size sent = %d, want <= 3", e.maxBatch)
	}
	if e.calls != 4 {
		t.Errorf("calls = %d, want 4 batches for 10 chunks of 3", e.calls)
	}
}

func TestEmbedBatch_PerItemFailureIsolation(t *testing.T) {
	chunks := makeChunks(6)
	e := &fakeEmbedder{
		dimension: 4,
		reject:    map[string]bool{chunks[2].Content: true},
	}
	p := fastPipeline(e, nil, 3, 1)

	results, errs := p.EmbedBatch(context.Background(), chunks)

	// The poisoned chunk fails; its batch siblings succeed individually.
	if len(errs) != 1 {
		t.Fatalf("len(errs) = %d, want 1: %v", len(errs), errs)
	}
	if errs[0].ChunkID != "chunk-002" {
		t.Errorf("failed chunk = %q, want chunk-002", errs[0].ChunkID)
	}
	var embErr *models.EmbeddingError
	if !errors.As(errs[0].Err, &embErr) {
		t.Errorf("item error should be an EmbeddingError, got %T", errs[0].Err)
	}
	if len(results) != 5 {
		t.Errorf("len(results) = %d, want 5", len(results))
	}
	for _, r := range results {
		if r.ChunkID == "chunk-002" {
			t.Error("failed chunk should not appear in results")
		}
	}
}

// flakyEmbedder fails a text a fixed number of times, then succeeds.
type flakyEmbedder struct {
	mu       sync.Mutex
	failures map[string]int
}

func (f *flakyEmbedder) Embed(_ context.Context, texts []string) ([][]float32, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range texts {
		if f.failures[t] > 0 {
			f.failures[t]--
			return nil, 0, errors.New("transient failure")
		}
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1}
	}
	return vectors, 1, nil
}

func TestEmbedBatch_RetriesTransientItemFailures(t *testing.T) {
	chunks := makeChunks(2)
	e := &flakyEmbedder{failures: map[string]int{chunks[0].Content: 1}}
	p := fastPipeline(e, nil, 2, 1)

	results, errs := p.EmbedBatch(context.Background(), chunks)

	if len(errs) != 0 {
		t.Fatalf("transient failure should be retried away, got %v", errs)
	}
	if len(results) != 2 {
		t.Errorf("len(results) = %d, want 2", len(results))
	}
}

// recordingEmbedder captures the exact texts it was asked to embed.
type recordingEmbedder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recordingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, int, error) {
	r.mu.Lock()
	r.seen = append(r.seen, texts...)
	r.mu.Unlock()
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1, 2}
	}
	return vectors, 2, nil
}

type staticContext struct{ prefix string }

func (s *staticContext) ContextFor(_ context.Context, _ models.Chunk) (string, error) {
	return s.prefix, nil
}

func TestEmbedBatch_ContextualAugmentation(t *testing.T) {
	e := &recordingEmbedder{}
	p := fastPipeline(e, &staticContext{prefix: "Document: install guide"}, 4, 1)

	p.EmbedBatch(context.Background(), makeChunks(3))

	if len(e.seen) != 3 {
		t.Fatalf("embedder saw %d texts, want 3", len(e.seen))
	}
	for _, text := range e.seen {
		if !strings.HasPrefix(text, "Document: install guide\n\n") {
			t.Errorf("text should be augmented with context, got %q", text)
		}
	}
}

type failingContext struct{}

func (f *failingContext) ContextFor(_ context.Context, _ models.Chunk) (string, error) {
	return "", errors.New("llm unavailable")
}

func TestEmbedBatch_ContextFailureDegradesToBareChunk(t *testing.T) {
	e := &recordingEmbedder{}
	p := fastPipeline(e, &failingContext{}, 4, 1)

	results, errs := p.EmbedBatch(context.Background(), makeChunks(2))

	if len(errs) != 0 {
		t.Fatalf("context failure must not fail embedding: %v", errs)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for _, text := range e.seen {
		if strings.Contains(text, "\n\n") && strings.HasPrefix(text, "Document") {
			t.Errorf("text should be bare chunk content, got %q", text)
		}
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	p := fastPipeline(&fakeEmbedder{dimension: 4}, nil, 4, 2)
	results, errs := p.EmbedBatch(context.Background(), nil)
	if results != nil || errs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", results, errs)
	}
}

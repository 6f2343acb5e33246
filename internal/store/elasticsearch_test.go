package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/quarrydocs/quarry/pkg/models"
)

func skipIfNoES(t *testing.T) {
	if os.Getenv("SKIP_ES_TESTS") == "1" {
		t.Skip("Skipping ES tests (SKIP_ES_TESTS=1)")
	}

	s, err := NewES(Config{
		Addresses:   []string{"http://localhost:9200"},
		IndexPrefix: "quarry-skip-check",
	})
	if err != nil {
		t.Skipf("Skipping ES tests: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !s.Ping(ctx) {
		t.Skip("Skipping ES tests: Elasticsearch not available")
	}
}

// testStore creates a store under a throwaway prefix and tears it down.
func testStore(t *testing.T, prefix string) *ES {
	t.Helper()
	s, err := NewES(Config{
		Addresses:   []string{"http://localhost:9200"},
		IndexPrefix: prefix,
	})
	if err != nil {
		t.Fatalf("NewES() error = %v", err)
	}
	ctx := context.Background()
	if err := s.EnsureReady(ctx); err != nil {
		t.Fatalf("EnsureReady() error = %v", err)
	}
	t.Cleanup(func() { s.DeleteAll(context.Background()) })
	return s
}

func testChunk(id, docID, sourceID, content string, hasCode bool) models.Chunk {
	return models.Chunk{
		ID:         id,
		DocumentID: docID,
		SourceID:   sourceID,
		URL:        "https://example.com/page",
		Title:      "Example Page",
		Content:    content,
		CharLen:    len(content),
		WordCount:  3,
		HasCode:    hasCode,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestES_ChunkRoundTrip(t *testing.T) {
	skipIfNoES(t)
	s := testStore(t, "quarry-test-chunks")
	ctx := context.Background()

	chunks := []models.Chunk{
		testChunk("doc1-0000", "doc1", "src1", "installing the widget service", false),
		testChunk("doc1-0001", "doc1", "src1", "configuring widget retries", true),
	}
	if err := s.UpsertChunks(ctx, chunks); err != nil {
		t.Fatalf("UpsertChunks() error = %v", err)
	}

	got, err := s.GetChunk(ctx, "doc1-0001")
	if err != nil {
		t.Fatalf("GetChunk() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetChunk() returned nil for stored chunk")
	}
	if got.Content != "configuring widget retries" || !got.HasCode {
		t.Errorf("chunk fields lost in round trip: %+v", got)
	}

	missing, err := s.GetChunk(ctx, "nope")
	if err != nil {
		t.Fatalf("GetChunk(missing) error = %v", err)
	}
	if missing != nil {
		t.Error("GetChunk(missing) should return nil")
	}
}

func TestES_KeywordSearchWithFilters(t *testing.T) {
	skipIfNoES(t)
	s := testStore(t, "quarry-test-keyword")
	ctx := context.Background()

	hasCode := true
	chunks := []models.Chunk{
		testChunk("a-0000", "a", "src1", "kubernetes deployment rollout guide", false),
		testChunk("a-0001", "a", "src1", "kubernetes service yaml example", true),
		testChunk("b-0000", "b", "src2", "kubernetes ingress controller notes", false),
	}
	if err := s.UpsertChunks(ctx, chunks); err != nil {
		t.Fatalf("UpsertChunks() error = %v", err)
	}
	s.Refresh(ctx)

	results, err := s.KeywordSearch(ctx, "kubernetes", models.SearchFilters{}, 10)
	if err != nil {
		t.Fatalf("KeywordSearch() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if r.MatchType != models.MatchKeyword || r.KeywordScore <= 0 {
			t.Errorf("bad result shape: %+v", r)
		}
	}

	results, err = s.KeywordSearch(ctx, "kubernetes", models.SearchFilters{
		SourceIDs: []string{"src1"},
		HasCode:   &hasCode,
	}, 10)
	if err != nil {
		t.Fatalf("KeywordSearch(filtered) error = %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "a-0001" {
		t.Fatalf("filter mismatch: %+v", results)
	}
}

func TestES_VectorSearchDimensionRouting(t *testing.T) {
	skipIfNoES(t)
	s := testStore(t, "quarry-test-vectors")
	ctx := context.Background()

	chunks := []models.Chunk{
		testChunk("a-0000", "a", "src1", "first chunk", false),
		testChunk("a-0001", "a", "src1", "second chunk", false),
	}
	if err := s.UpsertChunks(ctx, chunks); err != nil {
		t.Fatalf("UpsertChunks() error = %v", err)
	}

	// Same chunk embedded at two dimensions.
	embeddings := []models.Embedding{
		{ChunkID: "a-0000", SourceID: "src1", Dimension: 3, Vector: []float32{1, 0, 0}},
		{ChunkID: "a-0001", SourceID: "src1", Dimension: 3, Vector: []float32{0, 1, 0}},
		{ChunkID: "a-0000", SourceID: "src1", Dimension: 4, Vector: []float32{1, 0, 0, 0}},
	}
	if err := s.UpsertEmbeddings(ctx, embeddings); err != nil {
		t.Fatalf("UpsertEmbeddings() error = %v", err)
	}
	s.Refresh(ctx)

	dims, err := s.StoredDimensions(ctx)
	if err != nil {
		t.Fatalf("StoredDimensions() error = %v", err)
	}
	if len(dims) != 2 || dims[0] != 3 || dims[1] != 4 {
		t.Fatalf("StoredDimensions() = %v, want [3 4]", dims)
	}

	results, err := s.VectorSearch(ctx, []float32{1, 0, 0}, models.SearchFilters{}, 10, 0)
	if err != nil {
		t.Fatalf("VectorSearch() error = %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected vector hits")
	}
	if results[0].Chunk.ID != "a-0000" {
		t.Errorf("closest chunk = %s, want a-0000", results[0].Chunk.ID)
	}
	if results[0].MatchType != models.MatchVector {
		t.Errorf("match type = %s", results[0].MatchType)
	}

	// Dimension nobody ever stored.
	_, err = s.VectorSearch(ctx, []float32{1, 0, 0, 0, 0}, models.SearchFilters{}, 10, 0)
	var dm *models.DimensionMismatch
	if !errors.As(err, &dm) {
		t.Fatalf("expected DimensionMismatch, got %v", err)
	}
	if dm.Got != 5 {
		t.Errorf("DimensionMismatch.Got = %d, want 5", dm.Got)
	}
	if len(dm.Want) != 2 {
		t.Errorf("DimensionMismatch.Want = %v, want the stored dimensions", dm.Want)
	}
}

func TestES_VectorSearchCodeFilterBeforeTruncation(t *testing.T) {
	skipIfNoES(t)
	s := testStore(t, "quarry-test-codefilter")
	ctx := context.Background()

	// Three prose chunks sit closer to the query than the one code
	// chunk. With limit 2, a filter applied after nearest-neighbour
	// truncation would never see the code chunk.
	chunks := []models.Chunk{
		testChunk("d-0000", "d", "src1", "prose one", false),
		testChunk("d-0001", "d", "src1", "prose two", false),
		testChunk("d-0002", "d", "src1", "prose three", false),
		testChunk("d-0003", "d", "src1", "code sample", true),
	}
	if err := s.UpsertChunks(ctx, chunks); err != nil {
		t.Fatalf("UpsertChunks() error = %v", err)
	}

	embeddings := []models.Embedding{
		{ChunkID: "d-0000", SourceID: "src1", Dimension: 3, Vector: []float32{1, 0, 0}},
		{ChunkID: "d-0001", SourceID: "src1", Dimension: 3, Vector: []float32{0.99, 0.1, 0}},
		{ChunkID: "d-0002", SourceID: "src1", Dimension: 3, Vector: []float32{0.98, 0.15, 0}},
		{ChunkID: "d-0003", SourceID: "src1", HasCode: true, Dimension: 3, Vector: []float32{0, 1, 0}},
	}
	if err := s.UpsertEmbeddings(ctx, embeddings); err != nil {
		t.Fatalf("UpsertEmbeddings() error = %v", err)
	}
	s.Refresh(ctx)

	wantCode := true
	results, err := s.VectorSearch(ctx, []float32{1, 0, 0}, models.SearchFilters{HasCode: &wantCode}, 2, 0)
	if err != nil {
		t.Fatalf("VectorSearch() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want exactly the code chunk", len(results))
	}
	if results[0].Chunk.ID != "d-0003" || !results[0].Chunk.HasCode {
		t.Errorf("got %s, want the code chunk", results[0].Chunk.ID)
	}
}

func TestES_EmbeddingReplacedPerDimension(t *testing.T) {
	skipIfNoES(t)
	s := testStore(t, "quarry-test-replace")
	ctx := context.Background()

	if err := s.UpsertChunks(ctx, []models.Chunk{testChunk("a-0000", "a", "src1", "chunk", false)}); err != nil {
		t.Fatalf("UpsertChunks() error = %v", err)
	}

	first := models.Embedding{ChunkID: "a-0000", SourceID: "src1", Dimension: 3, Vector: []float32{1, 0, 0}}
	if err := s.UpsertEmbeddings(ctx, []models.Embedding{first}); err != nil {
		t.Fatalf("UpsertEmbeddings() error = %v", err)
	}
	second := models.Embedding{ChunkID: "a-0000", SourceID: "src1", Dimension: 3, Vector: []float32{0, 0, 1}}
	if err := s.UpsertEmbeddings(ctx, []models.Embedding{second}); err != nil {
		t.Fatalf("UpsertEmbeddings(rewrite) error = %v", err)
	}
	s.Refresh(ctx)

	results, err := s.VectorSearch(ctx, []float32{0, 0, 1}, models.SearchFilters{}, 10, 0.99)
	if err != nil {
		t.Fatalf("VectorSearch() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected the rewritten vector to be the only one, got %d hits", len(results))
	}
}

func TestES_SourceStatsRecompute(t *testing.T) {
	skipIfNoES(t)
	s := testStore(t, "quarry-test-stats")
	ctx := context.Background()

	source := models.Source{ID: "src1", Name: "Example Docs", Status: "active", CreatedAt: time.Now().UTC()}
	if err := s.UpsertSource(ctx, source); err != nil {
		t.Fatalf("UpsertSource() error = %v", err)
	}

	chunks := []models.Chunk{
		testChunk("a-0000", "a", "src1", "one two three", false),
		testChunk("a-0001", "a", "src1", "four five six", false),
		testChunk("b-0000", "b", "src1", "seven eight nine", false),
	}
	if err := s.UpsertChunks(ctx, chunks); err != nil {
		t.Fatalf("UpsertChunks() error = %v", err)
	}
	s.Refresh(ctx)

	if err := s.RecomputeSourceStats(ctx, "src1"); err != nil {
		t.Fatalf("RecomputeSourceStats() error = %v", err)
	}
	s.Refresh(ctx)

	got, err := s.GetSource(ctx, "src1")
	if err != nil {
		t.Fatalf("GetSource() error = %v", err)
	}
	if got.ChunkCount != 3 || got.DocCount != 2 || got.WordCount != 9 {
		t.Errorf("stats = chunks %d, docs %d, words %d; want 3, 2, 9",
			got.ChunkCount, got.DocCount, got.WordCount)
	}
}

func TestES_JobRoundTrip(t *testing.T) {
	skipIfNoES(t)
	s := testStore(t, "quarry-test-jobs")
	ctx := context.Background()

	job := &models.CrawlJob{
		ID:          "job-1",
		SourceID:    "src1",
		URLs:        []string{"https://example.com/a"},
		State:       models.JobRunning,
		SubmittedAt: time.Now().UTC().Truncate(time.Second),
		Outcomes: []models.PageOutcome{
			{URL: "https://example.com/a", Success: true, DocumentID: "a", Chunks: 4},
		},
	}
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob() error = %v", err)
	}

	got, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetJob() returned nil")
	}
	if got.State != models.JobRunning || len(got.Outcomes) != 1 || !got.Outcomes[0].Success {
		t.Errorf("job lost fields in round trip: %+v", got)
	}
}

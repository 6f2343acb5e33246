package crawl

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/quarrydocs/quarry/internal/chunker"
	"github.com/quarrydocs/quarry/internal/embed"
	"github.com/quarrydocs/quarry/internal/extract"
	"github.com/quarrydocs/quarry/internal/retry"
	"github.com/quarrydocs/quarry/internal/storage"
	"github.com/quarrydocs/quarry/pkg/models"
)

// memStore is an in-memory Store with an optional hook on document writes.
type memStore struct {
	mu         sync.Mutex
	sources    map[string]models.Source
	documents  map[string]models.Document
	chunks     map[string]models.Chunk
	embeddings []models.Embedding
	examples   []models.CodeExample
	jobs       map[string]models.CrawlJob
	statsCalls int

	onDocument func(doc models.Document)
}

func newMemStore() *memStore {
	return &memStore{
		sources:   make(map[string]models.Source),
		documents: make(map[string]models.Document),
		chunks:    make(map[string]models.Chunk),
		jobs:      make(map[string]models.CrawlJob),
	}
}

func (m *memStore) EnsureReady(context.Context) error { return nil }

func (m *memStore) UpsertSource(_ context.Context, s models.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[s.ID] = s
	return nil
}

func (m *memStore) GetSource(_ context.Context, id string) (*models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sources[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *memStore) ListSources(context.Context) ([]models.Source, error) { return nil, nil }

func (m *memStore) UpsertDocument(_ context.Context, doc models.Document) error {
	m.mu.Lock()
	m.documents[doc.ID] = doc
	hook := m.onDocument
	m.mu.Unlock()
	if hook != nil {
		hook(doc)
	}
	return nil
}

func (m *memStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.documents[id]; ok {
		return &d, nil
	}
	return nil, nil
}

func (m *memStore) UpsertChunks(_ context.Context, chunks []models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.ID] = c
	}
	return nil
}

func (m *memStore) GetChunk(_ context.Context, id string) (*models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.chunks[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *memStore) UpsertEmbeddings(_ context.Context, embeddings []models.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings = append(m.embeddings, embeddings...)
	return nil
}

func (m *memStore) StoredDimensions(context.Context) ([]int, error) { return nil, nil }

func (m *memStore) UpsertCodeExamples(_ context.Context, examples []models.CodeExample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.examples = append(m.examples, examples...)
	return nil
}

func (m *memStore) KeywordSearch(context.Context, string, models.SearchFilters, int) ([]models.RankedResult, error) {
	return nil, nil
}

func (m *memStore) VectorSearch(context.Context, []float32, models.SearchFilters, int, float64) ([]models.RankedResult, error) {
	return nil, nil
}

func (m *memStore) RecomputeSourceStats(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsCalls++
	return nil
}

func (m *memStore) SaveJob(_ context.Context, job *models.CrawlJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memStore) GetJob(_ context.Context, id string) (*models.CrawlJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return &j, nil
	}
	return nil, nil
}

func (m *memStore) documentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.documents)
}

func (m *memStore) embeddingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.embeddings)
}

// fakeFetcher serves scripted pages per start URL.
type fakeFetcher struct {
	pages map[string][]Page
	fail  map[string]bool
}

func (f *fakeFetcher) Fetch(_ context.Context, startURL string) ([]Page, error) {
	if f.fail[startURL] {
		return nil, &models.FetchError{URL: startURL, StatusCode: 503, Err: fmt.Errorf("unavailable")}
	}
	return f.pages[startURL], nil
}

// flakyFetcher fails a scripted number of times per URL before serving
// its pages, counting every attempt.
type flakyFetcher struct {
	mu       sync.Mutex
	pages    map[string][]Page
	failures map[string]int
	attempts map[string]int
	status   int
}

func (f *flakyFetcher) Fetch(_ context.Context, startURL string) ([]Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[startURL]++
	if f.failures[startURL] > 0 {
		f.failures[startURL]--
		return nil, &models.FetchError{URL: startURL, StatusCode: f.status, Err: fmt.Errorf("status %d", f.status)}
	}
	return f.pages[startURL], nil
}

func (f *flakyFetcher) attemptCount(startURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[startURL]
}

// partialFetcher returns some pages together with an error, the shape a
// crawl takes when it dies partway through a site.
type partialFetcher struct {
	pages []Page
	err   error
}

func (f *partialFetcher) Fetch(context.Context, string) ([]Page, error) {
	return f.pages, f.err
}

// recordingSink captures progress events, flagging any that arrive after
// markCancelled was called.
type recordingSink struct {
	mu         sync.Mutex
	events     []models.ProgressEvent
	cancelled  bool
	postCancel int
}

func (s *recordingSink) Progress(event models.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if s.cancelled {
		s.postCancel++
	}
}

func (s *recordingSink) markCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// fakePipeline embeds every chunk with a fixed dimension.
type fakePipeline struct {
	dimension int
	failIDs   map[string]bool
}

func (f *fakePipeline) EmbedBatch(_ context.Context, chunks []models.Chunk) ([]embed.Result, []embed.ItemError) {
	var results []embed.Result
	var errs []embed.ItemError
	for _, c := range chunks {
		if f.failIDs[c.ID] {
			errs = append(errs, embed.ItemError{ChunkID: c.ID, Err: fmt.Errorf("rejected")})
			continue
		}
		results = append(results, embed.Result{
			ChunkID:   c.ID,
			Dimension: f.dimension,
			Vector:    make([]float32, f.dimension),
		})
	}
	return results, errs
}

func htmlPage(url, title, body string) Page {
	return Page{
		URL:         url,
		Content:     fmt.Sprintf("<html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>", title, title, body),
		ContentType: "text/html",
		FetchedAt:   time.Now(),
	}
}

func testOrchestrator(st *memStore, fetcher Fetcher, sink ProgressSink, pipeline EmbeddingPipeline) *Orchestrator {
	return New(Deps{
		Fetcher:  fetcher,
		Registry: extract.NewRegistry(0.3),
		Chunker:  chunker.New(chunker.Config{MaxChunkSize: 400, MinChunkSize: 40, ExtractCode: true}),
		Pipeline: pipeline,
		Store:    st,
		Sink:     sink,
	}, Config{Workers: 1, Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}})
}

func TestRunHappyPath(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{pages: map[string][]Page{
		"https://example.com/a": {htmlPage("https://example.com/a", "Page A", "Content about widgets and how to configure them.")},
		"https://example.com/b": {htmlPage("https://example.com/b", "Page B", "More content about widget deployment strategies.")},
	}}
	sink := &recordingSink{}
	o := testOrchestrator(st, fetcher, sink, &fakePipeline{dimension: 4})

	ctx := context.Background()
	job, err := o.Submit(ctx, "src1", []string{"https://example.com/a", "https://example.com/b"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final, err := o.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if final.State != models.JobCompleted {
		t.Fatalf("state = %s, want completed", final.State)
	}
	if len(final.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(final.Outcomes))
	}
	for _, outcome := range final.Outcomes {
		if !outcome.Success || outcome.DocumentID == "" || outcome.Chunks == 0 {
			t.Errorf("bad outcome: %+v", outcome)
		}
	}

	if st.documentCount() != 2 {
		t.Errorf("documents persisted = %d, want 2", st.documentCount())
	}
	if st.embeddingCount() == 0 {
		t.Error("no embeddings persisted")
	}
	for _, e := range st.embeddings {
		if e.Dimension != 4 || e.SourceID != "src1" {
			t.Errorf("bad embedding: %+v", e)
		}
	}
	if st.statsCalls != 1 {
		t.Errorf("source stats recomputed %d times, want 1", st.statsCalls)
	}

	// Persisted job matches the in-memory terminal state.
	stored, err := o.Status(context.Background(), job.ID)
	if err != nil || stored == nil {
		t.Fatalf("Status() = %v, %v", stored, err)
	}
	if stored.State != models.JobCompleted {
		t.Errorf("stored state = %s", stored.State)
	}
}

func TestRunPartialFailureStillCompletes(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{
		pages: map[string][]Page{
			"https://example.com/ok": {htmlPage("https://example.com/ok", "OK", "This page fetches fine.")},
		},
		fail: map[string]bool{"https://example.com/broken": true},
	}
	o := testOrchestrator(st, fetcher, nil, nil)

	ctx := context.Background()
	job, _ := o.Submit(ctx, "src1", []string{"https://example.com/ok", "https://example.com/broken"})
	final, err := o.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if final.State != models.JobCompleted {
		t.Errorf("state = %s, want completed with one page up", final.State)
	}
	var failed *models.PageOutcome
	for i := range final.Outcomes {
		if !final.Outcomes[i].Success {
			failed = &final.Outcomes[i]
		}
	}
	if failed == nil || failed.URL != "https://example.com/broken" || failed.Error == "" {
		t.Errorf("failed outcome not recorded: %+v", final.Outcomes)
	}
}

func TestRunTotalFailureFails(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{fail: map[string]bool{"https://example.com/a": true}}
	o := testOrchestrator(st, fetcher, nil, nil)

	ctx := context.Background()
	job, _ := o.Submit(ctx, "src1", []string{"https://example.com/a"})
	final, err := o.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if final.State != models.JobFailed {
		t.Errorf("state = %s, want failed", final.State)
	}
}

func TestRunRetriesTransientFetch(t *testing.T) {
	st := newMemStore()
	url := "https://example.com/a"
	fetcher := &flakyFetcher{
		pages:    map[string][]Page{url: {htmlPage(url, "Page A", "Content served after two hiccups.")}},
		failures: map[string]int{url: 2},
		status:   503,
	}
	o := testOrchestrator(st, fetcher, nil, &fakePipeline{dimension: 4})

	ctx := context.Background()
	job, _ := o.Submit(ctx, "src1", []string{url})
	final, err := o.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if final.State != models.JobCompleted {
		t.Fatalf("state = %s, want completed after retries", final.State)
	}
	if got := fetcher.attemptCount(url); got != 3 {
		t.Errorf("fetch attempts = %d, want 3", got)
	}
	if st.documentCount() != 1 {
		t.Errorf("documents persisted = %d, want 1", st.documentCount())
	}
}

func TestRunDoesNotRetryPermanentFetch(t *testing.T) {
	st := newMemStore()
	url := "https://example.com/gone"
	fetcher := &flakyFetcher{
		failures: map[string]int{url: 1},
		status:   404,
	}
	o := testOrchestrator(st, fetcher, nil, nil)

	ctx := context.Background()
	job, _ := o.Submit(ctx, "src1", []string{url})
	final, err := o.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if final.State != models.JobFailed {
		t.Errorf("state = %s, want failed", final.State)
	}
	if got := fetcher.attemptCount(url); got != 1 {
		t.Errorf("fetch attempts = %d, want 1 for a 404", got)
	}
}

func TestRunRecordsFetchErrorAlongsidePages(t *testing.T) {
	st := newMemStore()
	url := "https://example.com/site"
	fetcher := &partialFetcher{
		pages: []Page{htmlPage(url+"/page1", "Page 1", "The one page fetched before the crawl died.")},
		err:   fmt.Errorf("connection reset after first page"),
	}
	o := testOrchestrator(st, fetcher, nil, &fakePipeline{dimension: 4})

	ctx := context.Background()
	job, _ := o.Submit(ctx, "src1", []string{url})
	final, err := o.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// The fetched page still flows through, and the truncated fetch shows
	// up as a failure outcome for the start URL.
	if final.State != models.JobCompleted {
		t.Errorf("state = %s, want completed", final.State)
	}
	if st.documentCount() != 1 {
		t.Errorf("documents persisted = %d, want 1", st.documentCount())
	}
	var fetchFailure *models.PageOutcome
	for i := range final.Outcomes {
		if !final.Outcomes[i].Success && final.Outcomes[i].URL == url {
			fetchFailure = &final.Outcomes[i]
		}
	}
	if fetchFailure == nil || fetchFailure.Error == "" {
		t.Errorf("fetch error not recorded in outcomes: %+v", final.Outcomes)
	}
}

func TestRunEmbeddingsCarryCodeFlag(t *testing.T) {
	st := newMemStore()
	url := "https://example.com/code"
	page := Page{
		URL: url,
		Content: `<html><head><title>Code</title></head><body>
<h1>Code</h1>
<p>A prose paragraph introducing the example below in some detail.</p>
<pre><code class="language-go">func main() {
	fmt.Println("hello")
}</code></pre>
</body></html>`,
		ContentType: "text/html",
		FetchedAt:   time.Now(),
	}
	fetcher := &fakeFetcher{pages: map[string][]Page{url: {page}}}
	o := testOrchestrator(st, fetcher, nil, &fakePipeline{dimension: 4})

	ctx := context.Background()
	job, _ := o.Submit(ctx, "src1", []string{url})
	if _, err := o.Run(ctx, job.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	codeChunks := map[string]bool{}
	st.mu.Lock()
	for id, c := range st.chunks {
		if c.HasCode {
			codeChunks[id] = true
		}
	}
	st.mu.Unlock()
	if len(codeChunks) == 0 {
		t.Fatal("no code-bearing chunk produced")
	}
	matched := false
	for _, e := range st.embeddings {
		if e.HasCode != codeChunks[e.ChunkID] {
			t.Errorf("embedding %s HasCode = %v, chunk says %v", e.ChunkID, e.HasCode, codeChunks[e.ChunkID])
		}
		if e.HasCode {
			matched = true
		}
	}
	if !matched {
		t.Error("code flag not carried onto any embedding")
	}
}

func TestRunCancellation(t *testing.T) {
	// Fifteen pages behind one URL; cancel once ten documents are stored.
	// The run must stop, finish cancelled, and emit nothing afterwards.
	var pages []Page
	for i := 0; i < 15; i++ {
		url := fmt.Sprintf("https://example.com/p%02d", i)
		pages = append(pages, htmlPage(url, fmt.Sprintf("Page %d", i), "Some content to process and persist."))
	}
	st := newMemStore()
	fetcher := &fakeFetcher{pages: map[string][]Page{"https://example.com/p00": pages}}
	sink := &recordingSink{}
	o := testOrchestrator(st, fetcher, sink, &fakePipeline{dimension: 4})

	ctx := context.Background()
	job, _ := o.Submit(ctx, "src1", []string{"https://example.com/p00"})

	st.onDocument = func(models.Document) {
		if st.documentCount() >= 10 {
			sink.markCancelled()
			o.Cancel(context.Background(), job.ID)
		}
	}

	final, err := o.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if final.State != models.JobCancelled {
		t.Fatalf("state = %s, want cancelled", final.State)
	}
	if got := st.documentCount(); got != 10 {
		t.Errorf("documents persisted = %d, want exactly 10", got)
	}
	if sink.postCancel != 0 {
		t.Errorf("%d progress events emitted after cancellation", sink.postCancel)
	}
	if st.embeddingCount() != 0 {
		t.Error("embedding must not run after cancellation")
	}
}

func TestRunEmbeddingItemFailuresCount(t *testing.T) {
	st := newMemStore()
	page := htmlPage("https://example.com/a", "Page A", "Content that will become at least one chunk.")
	fetcher := &fakeFetcher{pages: map[string][]Page{"https://example.com/a": {page}}}
	sink := &recordingSink{}

	docID := models.GenerateDocumentID("https://example.com/a")
	pipeline := &fakePipeline{
		dimension: 4,
		failIDs:   map[string]bool{models.GenerateChunkID(docID, 0): true},
	}
	o := testOrchestrator(st, fetcher, sink, pipeline)

	ctx := context.Background()
	job, _ := o.Submit(ctx, "src1", []string{"https://example.com/a"})
	final, err := o.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if final.State != models.JobCompleted {
		t.Errorf("an embedding item failure must not fail the job: %s", final.State)
	}

	var last models.ProgressEvent
	for _, e := range sink.events {
		if e.Phase == models.PhaseEmbedding {
			last = e
		}
	}
	if last.ErrorsSoFar == 0 {
		t.Error("embedding item failure not reflected in progress")
	}
}

func TestProgressCountersMonotonic(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{pages: map[string][]Page{
		"https://example.com/a": {
			htmlPage("https://example.com/a", "A", "First page content."),
			htmlPage("https://example.com/a/2", "A2", "Second page content."),
			htmlPage("https://example.com/a/3", "A3", "Third page content."),
		},
	}}
	sink := &recordingSink{}
	o := testOrchestrator(st, fetcher, sink, &fakePipeline{dimension: 4})

	ctx := context.Background()
	job, _ := o.Submit(ctx, "src1", []string{"https://example.com/a"})
	if _, err := o.Run(ctx, job.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	lastByPhase := map[models.CrawlPhase]models.ProgressEvent{}
	for _, e := range sink.events {
		if e.JobID != job.ID {
			t.Errorf("event for wrong job: %+v", e)
		}
		if prev, ok := lastByPhase[e.Phase]; ok {
			if e.Processed < prev.Processed || e.ErrorsSoFar < prev.ErrorsSoFar {
				t.Errorf("counters went backwards: %+v after %+v", e, prev)
			}
		}
		lastByPhase[e.Phase] = e
	}
	if len(lastByPhase) == 0 {
		t.Fatal("no progress events emitted")
	}
	for _, phase := range []models.CrawlPhase{
		models.PhaseFetching, models.PhaseExtracting, models.PhaseChunking, models.PhaseEmbedding,
	} {
		if _, ok := lastByPhase[phase]; !ok {
			t.Errorf("no %s events emitted", phase)
		}
	}
}

// fakeArchive is an in-memory Archiver.
type fakeArchive struct {
	mu       sync.Mutex
	pages    map[string]storage.ArchivedPage // key: prefix/name
	puts     int
	manifest *storage.Manifest
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{pages: make(map[string]storage.ArchivedPage)}
}

func (a *fakeArchive) PutPage(_ context.Context, prefix, name string, page storage.ArchivedPage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pages[prefix+"/"+name] = page
	a.puts++
	return nil
}

func (a *fakeArchive) GetPage(_ context.Context, prefix, name string) (*storage.ArchivedPage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	page, ok := a.pages[prefix+"/"+name]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return &page, nil
}

func (a *fakeArchive) ListPages(_ context.Context, prefix string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var names []string
	for key := range a.pages {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			names = append(names, key[len(prefix)+1:])
		}
	}
	return names, nil
}

func (a *fakeArchive) PutManifest(_ context.Context, _ string, manifest storage.Manifest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.manifest = &manifest
	return nil
}

func TestRunArchivesPages(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{pages: map[string][]Page{
		"https://example.com/a": {htmlPage("https://example.com/a", "A", "Archived page content.")},
	}}
	archive := newFakeArchive()
	o := New(Deps{
		Fetcher:  fetcher,
		Registry: extract.NewRegistry(0.3),
		Chunker:  chunker.New(chunker.Config{}),
		Store:    st,
		Archive:  archive,
	}, Config{})

	ctx := context.Background()
	job, _ := o.Submit(ctx, "src1", []string{"https://example.com/a"})
	if _, err := o.Run(ctx, job.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if archive.puts != 1 {
		t.Errorf("archived pages = %d, want 1", archive.puts)
	}
	if archive.manifest == nil || archive.manifest.JobID != job.ID || archive.manifest.PageCount != 1 {
		t.Errorf("bad manifest: %+v", archive.manifest)
	}
}

func TestIngestFromArchive(t *testing.T) {
	st := newMemStore()
	archive := newFakeArchive()
	prefix := "jobs/old-job"
	archive.pages[prefix+"/page-a"] = storage.ArchivedPage{
		URL:         "https://example.com/a",
		ContentType: "text/html",
		FetchedAt:   time.Now(),
		Body:        "<html><head><title>A</title></head><body><p>Re-ingested content.</p></body></html>",
	}
	archive.puts = 0

	o := New(Deps{
		Fetcher:  &fakeFetcher{},
		Registry: extract.NewRegistry(0.3),
		Chunker:  chunker.New(chunker.Config{}),
		Store:    st,
		Archive:  archive,
	}, Config{})

	final, err := o.Ingest(context.Background(), "src1", prefix)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if final.State != models.JobCompleted {
		t.Errorf("state = %s, want completed", final.State)
	}
	if st.documentCount() != 1 {
		t.Errorf("documents = %d, want 1", st.documentCount())
	}
	if archive.puts != 0 {
		t.Error("ingest must not re-archive pages")
	}
}

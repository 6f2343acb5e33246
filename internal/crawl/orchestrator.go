// Package crawl orchestrates ingestion: fetch, classify, extract, chunk,
// embed, persist. Jobs are tracked through a monotonic state machine and
// report progress through an injected sink.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quarrydocs/quarry/internal/chunker"
	"github.com/quarrydocs/quarry/internal/classify"
	"github.com/quarrydocs/quarry/internal/embed"
	"github.com/quarrydocs/quarry/internal/retry"
	"github.com/quarrydocs/quarry/internal/storage"
	"github.com/quarrydocs/quarry/internal/store"
	"github.com/quarrydocs/quarry/pkg/models"
)

// ProgressSink receives progress events while a job runs. No transport is
// prescribed; the CLI logs them, the MCP server forwards them.
type ProgressSink interface {
	Progress(event models.ProgressEvent)
}

// EmbeddingPipeline is the batch embedding capability. *embed.Pipeline
// implements it; tests substitute fakes.
type EmbeddingPipeline interface {
	EmbedBatch(ctx context.Context, chunks []models.Chunk) ([]embed.Result, []embed.ItemError)
}

// Primer caches document-level context for contextual embedding.
type Primer interface {
	Prime(ctx context.Context, doc *models.Document) error
}

// Archiver stores raw fetched pages for later re-ingestion.
// *storage.Archive implements it.
type Archiver interface {
	PutPage(ctx context.Context, prefix, name string, page storage.ArchivedPage) error
	GetPage(ctx context.Context, prefix, name string) (*storage.ArchivedPage, error)
	ListPages(ctx context.Context, prefix string) ([]string, error)
	PutManifest(ctx context.Context, prefix string, manifest storage.Manifest) error
}

// Config bounds orchestrator concurrency and fetch retries.
type Config struct {
	Workers int
	// Retry governs re-fetching of pages that failed with a retryable
	// class (transport error, 429, 5xx). Zero value uses the default
	// policy.
	Retry retry.Policy
}

// Deps are the capabilities an Orchestrator drives. Pipeline, Archive,
// Primer, and Sink may be nil to disable embedding, archival, contextual
// embedding, and progress reporting respectively.
type Deps struct {
	Fetcher  Fetcher
	Registry *classify.Registry
	Chunker  *chunker.Chunker
	Pipeline EmbeddingPipeline
	Store    store.Store
	Archive  Archiver
	Primer   Primer
	Sink     ProgressSink
}

// Orchestrator runs crawl jobs end to end.
type Orchestrator struct {
	deps    Deps
	tracker *Tracker
	workers int
	retries retry.Policy
}

// New creates an Orchestrator.
func New(deps Deps, config Config) *Orchestrator {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	policy := config.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	if policy.Retryable == nil {
		policy.Retryable = fetchRetryable
	}
	return &Orchestrator{
		deps:    deps,
		tracker: NewTracker(),
		workers: config.Workers,
		retries: policy,
	}
}

// fetchRetryable limits re-fetching to the retryable failure class.
func fetchRetryable(err error) bool {
	var fe *models.FetchError
	return errors.As(err, &fe) && fe.Retryable()
}

// Submit registers and persists a new queued job.
func (o *Orchestrator) Submit(ctx context.Context, sourceID string, urls []string) (models.CrawlJob, error) {
	if len(urls) == 0 {
		return models.CrawlJob{}, fmt.Errorf("no URLs to crawl")
	}
	job := o.tracker.Submit(sourceID, urls)
	if err := o.deps.Store.SaveJob(ctx, &job); err != nil {
		return models.CrawlJob{}, err
	}
	slog.Info("job submitted", "job_id", job.ID, "source_id", sourceID, "urls", len(urls))
	return job, nil
}

// Status returns a job, preferring live in-memory state over the store.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*models.CrawlJob, error) {
	if job, ok := o.tracker.Get(jobID); ok {
		return &job, nil
	}
	return o.deps.Store.GetJob(ctx, jobID)
}

// Cancel requests cancellation of a job and persists the state change
// when the job was still queued. Running jobs reach the cancelled state
// once the run loop observes the cancelled context.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (bool, error) {
	ok := o.tracker.Cancel(jobID)
	if !ok {
		return false, nil
	}
	if job, found := o.tracker.Get(jobID); found && job.State == models.JobCancelled {
		if err := o.deps.Store.SaveJob(ctx, &job); err != nil {
			return true, err
		}
	}
	slog.Info("job cancellation requested", "job_id", jobID)
	return true, nil
}

// Run executes a queued job to completion. The passed context bounds the
// whole run; Cancel additionally cancels just this job.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (models.CrawlJob, error) {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	job, err := o.tracker.Start(jobID, cancelRun)
	if err != nil {
		return models.CrawlJob{}, err
	}
	o.saveJob(ctx, jobID)

	st := &runState{jobID: jobID}

	pages := o.fetchAll(runCtx, job, st)
	archivePrefix := ""
	if o.deps.Archive != nil {
		archivePrefix = "jobs/" + job.ID
	}
	o.processAndEmbed(runCtx, job, pages, archivePrefix, st)

	return o.finish(ctx, runCtx, job)
}

// Ingest re-processes archived pages under an S3 prefix: everything a
// crawl does after fetching, without refetching. Returns the job it ran.
func (o *Orchestrator) Ingest(ctx context.Context, sourceID, prefix string) (models.CrawlJob, error) {
	if o.deps.Archive == nil {
		return models.CrawlJob{}, fmt.Errorf("no archive configured")
	}

	names, err := o.deps.Archive.ListPages(ctx, prefix)
	if err != nil {
		return models.CrawlJob{}, fmt.Errorf("failed to list archived pages: %w", err)
	}
	if len(names) == 0 {
		return models.CrawlJob{}, fmt.Errorf("no archived pages under %s", prefix)
	}

	var pages []Page
	for _, name := range names {
		archived, err := o.deps.Archive.GetPage(ctx, prefix, name)
		if err != nil {
			return models.CrawlJob{}, fmt.Errorf("failed to read archived page %s: %w", name, err)
		}
		pages = append(pages, Page{
			URL:         archived.URL,
			Content:     archived.Body,
			ContentType: archived.ContentType,
			FetchedAt:   archived.FetchedAt,
		})
	}

	urls := make([]string, len(pages))
	for i, p := range pages {
		urls[i] = p.URL
	}

	job := o.tracker.Submit(sourceID, urls)
	if err := o.deps.Store.SaveJob(ctx, &job); err != nil {
		return models.CrawlJob{}, err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	if _, err := o.tracker.Start(job.ID, cancelRun); err != nil {
		return models.CrawlJob{}, err
	}
	o.saveJob(ctx, job.ID)

	st := &runState{jobID: job.ID}
	// Archived pages are already stored; don't archive them again.
	o.processAndEmbed(runCtx, job, pages, "", st)

	return o.finish(ctx, runCtx, job)
}

// runState carries the monotonic progress counters for one run.
type runState struct {
	mu     sync.Mutex
	jobID  string
	errors int
}

func (s *runState) addError() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
	return s.errors
}

func (s *runState) errorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

// emit sends a progress event unless the run is cancelled: a consumer
// never observes progress after cancellation.
func (o *Orchestrator) emit(ctx context.Context, event models.ProgressEvent) {
	if o.deps.Sink == nil || ctx.Err() != nil {
		return
	}
	o.deps.Sink.Progress(event)
}

// fetchAll fetches every submitted URL through a bounded worker pool.
// Per-URL failures become outcomes; they never abort the job.
func (o *Orchestrator) fetchAll(ctx context.Context, job models.CrawlJob, st *runState) []Page {
	var mu sync.Mutex
	var pages []Page
	var wg sync.WaitGroup
	sem := make(chan struct{}, o.workers)
	fetched := 0

	for _, pageURL := range job.URLs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(pageURL string) {
			defer wg.Done()
			defer func() { <-sem }()
			if ctx.Err() != nil {
				return
			}

			var got []Page
			err := o.retries.Do(ctx, func() error {
				var fetchErr error
				got, fetchErr = o.deps.Fetcher.Fetch(ctx, pageURL)
				return fetchErr
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil && ctx.Err() == nil {
				// Recorded even when partial pages came back, so the
				// failure is visible in the job outcomes.
				o.tracker.RecordOutcome(job.ID, models.PageOutcome{
					URL: pageURL, Success: false, Error: err.Error(),
				})
				st.addError()
			}
			pages = append(pages, got...)
			fetched++
			o.emit(ctx, models.ProgressEvent{
				JobID: job.ID, Phase: models.PhaseFetching,
				Processed: fetched, Total: len(job.URLs), ErrorsSoFar: st.errorCount(),
			})
		}(pageURL)
	}
	wg.Wait()
	return pages
}

// processAndEmbed runs extraction + chunking over the pages, persists the
// results, then embeds all surviving chunks.
func (o *Orchestrator) processAndEmbed(ctx context.Context, job models.CrawlJob, pages []Page, archivePrefix string, st *runState) {
	type docChunks struct {
		doc    models.Document
		chunks []models.Chunk
	}

	var mu sync.Mutex
	var processed []docChunks
	var archived []string
	extracted, chunked := 0, 0

	var wg sync.WaitGroup
	sem := make(chan struct{}, o.workers)

	for _, page := range pages {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(page Page) {
			defer wg.Done()
			defer func() { <-sem }()
			if ctx.Err() != nil {
				return
			}

			doc, err := o.extractPage(ctx, job, page)

			mu.Lock()
			extracted++
			if err != nil {
				o.tracker.RecordOutcome(job.ID, models.PageOutcome{
					URL: page.URL, Success: false, Error: err.Error(),
				})
				st.addError()
			}
			o.emit(ctx, models.ProgressEvent{
				JobID: job.ID, Phase: models.PhaseExtracting,
				Processed: extracted, Total: len(pages), ErrorsSoFar: st.errorCount(),
			})
			mu.Unlock()
			if err != nil {
				return
			}

			chunks, err := o.chunkPage(ctx, job, doc, page, archivePrefix)

			mu.Lock()
			defer mu.Unlock()
			chunked++
			if err != nil {
				o.tracker.RecordOutcome(job.ID, models.PageOutcome{
					URL: page.URL, Success: false, Error: err.Error(),
				})
				st.addError()
			} else {
				o.tracker.RecordOutcome(job.ID, models.PageOutcome{
					URL: page.URL, Success: true, DocumentID: doc.ID, Chunks: len(chunks),
				})
				processed = append(processed, docChunks{doc: doc, chunks: chunks})
				if archivePrefix != "" {
					archived = append(archived, doc.ID)
				}
			}
			o.emit(ctx, models.ProgressEvent{
				JobID: job.ID, Phase: models.PhaseChunking,
				Processed: chunked, Total: len(pages), ErrorsSoFar: st.errorCount(),
			})
		}(page)
	}
	wg.Wait()

	if archivePrefix != "" && len(archived) > 0 && ctx.Err() == nil {
		manifest := storage.Manifest{
			JobID:      job.ID,
			SourceID:   job.SourceID,
			ArchivedAt: time.Now().UTC(),
			PageCount:  len(archived),
			Pages:      archived,
		}
		if err := o.deps.Archive.PutManifest(ctx, archivePrefix, manifest); err != nil {
			slog.Warn("failed to write archive manifest", "job_id", job.ID, "error", err)
		}
	}

	if o.deps.Pipeline == nil {
		return
	}

	totalChunks := 0
	for _, dc := range processed {
		totalChunks += len(dc.chunks)
	}
	embedded := 0

	// Embed per document, checking for cancellation between batches.
	for _, dc := range processed {
		if ctx.Err() != nil {
			return
		}
		results, itemErrs := o.deps.Pipeline.EmbedBatch(ctx, dc.chunks)
		for range itemErrs {
			st.addError()
		}

		hasCode := make(map[string]bool, len(dc.chunks))
		for _, c := range dc.chunks {
			hasCode[c.ID] = c.HasCode
		}
		embeddings := make([]models.Embedding, len(results))
		for i, r := range results {
			embeddings[i] = models.Embedding{
				ChunkID:   r.ChunkID,
				SourceID:  job.SourceID,
				HasCode:   hasCode[r.ChunkID],
				Dimension: r.Dimension,
				Vector:    r.Vector,
			}
		}
		if err := o.deps.Store.UpsertEmbeddings(ctx, embeddings); err != nil {
			slog.Warn("failed to store embeddings", "document_id", dc.doc.ID, "error", err)
			st.addError()
		}

		embedded += len(dc.chunks)
		o.emit(ctx, models.ProgressEvent{
			JobID: job.ID, Phase: models.PhaseEmbedding,
			Processed: embedded, Total: totalChunks, ErrorsSoFar: st.errorCount(),
		})
	}
}

// classifySampleSize bounds how much of a page the classifier sees.
const classifySampleSize = 8192

// extractPage classifies one page, extracts its content, and persists the
// document.
func (o *Orchestrator) extractPage(ctx context.Context, job models.CrawlJob, page Page) (models.Document, error) {
	sample := page.Content
	if len(sample) > classifySampleSize {
		sample = sample[:classifySampleSize]
	}
	classification := o.deps.Registry.Classify(page.URL, sample)

	extractor := o.deps.Registry.ExtractorFor(classification.Mode)
	result, err := extractor.Extract(ctx, page.URL, page.Content)
	if err != nil {
		return models.Document{}, &models.ExtractionError{URL: page.URL, Mode: classification.Mode, Err: err}
	}

	title := result.Title
	if title == "" {
		title = page.URL
	}

	doc := models.Document{
		ID:          models.GenerateDocumentID(page.URL),
		SourceID:    job.SourceID,
		URL:         page.URL,
		Title:       title,
		Content:     result.Content,
		ContentType: page.ContentType,
		Mode:        classification.Mode,
		Metadata:    result.Metadata,
		ScrapedAt:   page.FetchedAt,
	}

	if err := o.deps.Store.UpsertDocument(ctx, doc); err != nil {
		return models.Document{}, err
	}
	return doc, nil
}

// chunkPage splits an extracted document, persists its chunks and code
// examples, and archives the raw page.
func (o *Orchestrator) chunkPage(ctx context.Context, job models.CrawlJob, doc models.Document, page Page, archivePrefix string) ([]models.Chunk, error) {
	pieces := o.deps.Chunker.Split(doc.Content)
	chunks := make([]models.Chunk, len(pieces))
	now := time.Now().UTC()
	for i, piece := range pieces {
		chunks[i] = models.Chunk{
			ID:         models.GenerateChunkID(doc.ID, i),
			DocumentID: doc.ID,
			SourceID:   job.SourceID,
			URL:        page.URL,
			Title:      doc.Title,
			Index:      i,
			Content:    piece.Text,
			CharLen:    len(piece.Text),
			WordCount:  chunker.WordCount(piece.Text),
			HasCode:    piece.HasCode,
			CreatedAt:  now,
		}
	}
	if err := o.deps.Store.UpsertChunks(ctx, chunks); err != nil {
		return nil, &models.ChunkingError{DocumentID: doc.ID, Err: err}
	}

	if blocks := o.deps.Chunker.CodeExamples(doc.Content); len(blocks) > 0 {
		examples := make([]models.CodeExample, len(blocks))
		for i, block := range blocks {
			examples[i] = models.CodeExample{
				ID:         fmt.Sprintf("%s-code-%02d", doc.ID, i),
				ChunkID:    chunkContaining(chunks, block.Code),
				DocumentID: doc.ID,
				SourceID:   job.SourceID,
				Language:   block.Language,
				Code:       block.Code,
				Summary:    block.Summary,
			}
		}
		if err := o.deps.Store.UpsertCodeExamples(ctx, examples); err != nil {
			slog.Warn("failed to store code examples", "document_id", doc.ID, "error", err)
		}
	}

	if archivePrefix != "" {
		archivedPage := storage.ArchivedPage{
			URL:         page.URL,
			ContentType: page.ContentType,
			FetchedAt:   page.FetchedAt,
			Body:        page.Content,
		}
		if err := o.deps.Archive.PutPage(ctx, archivePrefix, doc.ID, archivedPage); err != nil {
			slog.Warn("failed to archive page", "url", page.URL, "error", err)
		}
	}

	if o.deps.Primer != nil {
		if err := o.deps.Primer.Prime(ctx, &doc); err != nil {
			slog.Warn("failed to prime document context", "document_id", doc.ID, "error", err)
		}
	}

	return chunks, nil
}

// chunkContaining finds the chunk holding a code block. A block that was
// split across chunk boundaries falls back to the first code-bearing chunk.
func chunkContaining(chunks []models.Chunk, code string) string {
	for _, c := range chunks {
		if strings.Contains(c.Content, code) {
			return c.ID
		}
	}
	for _, c := range chunks {
		if c.HasCode {
			return c.ID
		}
	}
	if len(chunks) > 0 {
		return chunks[0].ID
	}
	return ""
}

// finish resolves the terminal state: cancelled if the run context was
// cancelled, completed if at least one page succeeded, failed otherwise.
func (o *Orchestrator) finish(ctx context.Context, runCtx context.Context, job models.CrawlJob) (models.CrawlJob, error) {
	current, _ := o.tracker.Get(job.ID)

	successes := 0
	for _, outcome := range current.Outcomes {
		if outcome.Success {
			successes++
		}
	}

	var state models.JobState
	switch {
	case runCtx.Err() != nil:
		state = models.JobCancelled
	case successes > 0:
		state = models.JobCompleted
	default:
		state = models.JobFailed
	}

	final, err := o.tracker.Finish(job.ID, state)
	if err != nil {
		return models.CrawlJob{}, err
	}
	o.saveJob(ctx, job.ID)

	if state == models.JobCompleted {
		if err := o.registerSource(ctx, job.SourceID); err != nil {
			slog.Warn("failed to register source", "source_id", job.SourceID, "error", err)
		}
		if err := o.deps.Store.RecomputeSourceStats(ctx, job.SourceID); err != nil {
			slog.Warn("failed to recompute source stats", "source_id", job.SourceID, "error", err)
		}
	}

	slog.Info("job finished",
		"job_id", job.ID, "state", state, "pages_ok", successes, "pages_total", len(current.Outcomes))
	return final, nil
}

// registerSource creates the source record on first successful crawl and
// stamps the crawl time on later ones. Counters stay derived: they are
// filled in by RecomputeSourceStats, never written here.
func (o *Orchestrator) registerSource(ctx context.Context, sourceID string) error {
	now := time.Now().UTC()
	source := models.Source{
		ID:          sourceID,
		Name:        sourceID,
		Status:      "active",
		CreatedAt:   now,
		LastCrawlAt: now,
	}
	if existing, err := o.deps.Store.GetSource(ctx, sourceID); err == nil && existing != nil {
		source.Name = existing.Name
		source.CreatedAt = existing.CreatedAt
	}
	return o.deps.Store.UpsertSource(ctx, source)
}

func (o *Orchestrator) saveJob(ctx context.Context, jobID string) {
	job, ok := o.tracker.Get(jobID)
	if !ok {
		return
	}
	if err := o.deps.Store.SaveJob(ctx, &job); err != nil {
		slog.Warn("failed to persist job", "job_id", jobID, "error", err)
	}
}

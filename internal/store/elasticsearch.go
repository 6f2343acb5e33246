package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/quarrydocs/quarry/internal/retry"
	"github.com/quarrydocs/quarry/pkg/models"
)

// Config holds Elasticsearch store configuration.
type Config struct {
	Addresses   []string
	IndexPrefix string
	Username    string
	Password    string
	Timeout     time.Duration // per-call deadline, 0 uses the default
	MaxRetries  int           // write attempts for transient failures
}

const defaultTimeout = 30 * time.Second

// ES is the Elasticsearch-backed Store. Indices are named
// <prefix>-sources, <prefix>-docs, <prefix>-chunks, <prefix>-code,
// <prefix>-jobs, plus one <prefix>-vec-<dim> index per embedding
// dimension, created lazily on first write.
type ES struct {
	es      *elasticsearch.Client
	prefix  string
	timeout time.Duration
	retries retry.Policy

	mu      sync.Mutex
	vecDims map[int]bool // dimensions whose index is known to exist
}

// NewES creates an Elasticsearch store. Writes are retried with backoff
// when the failure is transient (transport error, 429, 5xx).
func NewES(config Config) (*ES, error) {
	if config.IndexPrefix == "" {
		config.IndexPrefix = "quarry"
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: config.Addresses,
		Username:  config.Username,
		Password:  config.Password,
		// The transport's own status retry is off; the shared policy
		// below owns retries so backoff is consistent across stores.
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ES client: %w", err)
	}

	policy := retry.DefaultPolicy()
	if config.MaxRetries > 0 {
		policy.MaxAttempts = config.MaxRetries
	}
	policy.Retryable = models.IsTransient

	return &ES{
		es:      es,
		prefix:  config.IndexPrefix,
		timeout: config.Timeout,
		retries: policy,
		vecDims: make(map[int]bool),
	}, nil
}

// opCtx bounds one Elasticsearch call with the configured deadline.
func (s *ES) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Ping checks if Elasticsearch is available.
func (s *ES) Ping(ctx context.Context) bool {
	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return !res.IsError()
}

func (s *ES) index(kind string) string {
	return s.prefix + "-" + kind
}

func (s *ES) vecIndex(dim int) string {
	return fmt.Sprintf("%s-vec-%d", s.prefix, dim)
}

// storeErr wraps err as a StoreError. Status <= 0 means a transport-level
// failure, which is treated as transient.
func storeErr(op string, status int, err error) error {
	transient := status <= 0 || status == 429 || status >= 500
	return &models.StoreError{Op: op, Transient: transient, Err: err}
}

func responseErr(op string, res *esapi.Response) error {
	return storeErr(op, res.StatusCode, fmt.Errorf("status %d: %s", res.StatusCode, res.String()))
}

var indexMappings = map[string]string{
	"sources": `{
		"mappings": {
			"properties": {
				"id": { "type": "keyword" },
				"name": { "type": "text" },
				"status": { "type": "keyword" },
				"doc_count": { "type": "integer" },
				"chunk_count": { "type": "integer" },
				"word_count": { "type": "long" },
				"created_at": { "type": "date" },
				"last_crawl_at": { "type": "date" }
			}
		}
	}`,
	"docs": `{
		"mappings": {
			"properties": {
				"id": { "type": "keyword" },
				"source_id": { "type": "keyword" },
				"url": { "type": "keyword" },
				"title": { "type": "text" },
				"content": { "type": "text", "analyzer": "english" },
				"content_type": { "type": "keyword" },
				"mode": { "type": "keyword" },
				"metadata": { "type": "flattened" },
				"scraped_at": { "type": "date" }
			}
		}
	}`,
	"chunks": `{
		"mappings": {
			"properties": {
				"id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"source_id": { "type": "keyword" },
				"url": { "type": "keyword" },
				"title": { "type": "text" },
				"index": { "type": "integer" },
				"content": { "type": "text", "analyzer": "english" },
				"char_len": { "type": "integer" },
				"word_count": { "type": "integer" },
				"has_code": { "type": "boolean" },
				"created_at": { "type": "date" }
			}
		}
	}`,
	"code": `{
		"mappings": {
			"properties": {
				"id": { "type": "keyword" },
				"chunk_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"source_id": { "type": "keyword" },
				"language": { "type": "keyword" },
				"code": { "type": "text" },
				"summary": { "type": "text", "analyzer": "english" }
			}
		}
	}`,
	"jobs": `{
		"mappings": {
			"properties": {
				"id": { "type": "keyword" },
				"source_id": { "type": "keyword" },
				"urls": { "type": "keyword" },
				"state": { "type": "keyword" },
				"outcomes": { "type": "object", "enabled": false },
				"submitted_at": { "type": "date" },
				"started_at": { "type": "date" },
				"finished_at": { "type": "date" }
			}
		}
	}`,
}

// vecMapping builds the mapping for a per-dimension vector index.
func vecMapping(dim int) string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_id": { "type": "keyword" },
				"source_id": { "type": "keyword" },
				"has_code": { "type": "boolean" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, dim)
}

// EnsureReady creates the fixed indices if missing. Vector indices are
// created lazily when their dimension is first written.
func (s *ES) EnsureReady(ctx context.Context) error {
	for kind, mapping := range indexMappings {
		if err := s.createIndex(ctx, s.index(kind), mapping); err != nil {
			return err
		}
	}
	return nil
}

func (s *ES) createIndex(ctx context.Context, name, mapping string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.es.Indices.Exists([]string{name}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return storeErr("index check", 0, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = s.es.Indices.Create(
		name,
		s.es.Indices.Create.WithContext(ctx),
		s.es.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return storeErr("index create", 0, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 400 { // 400: lost a create race
		return responseErr("index create", res)
	}
	return nil
}

func (s *ES) ensureVecIndex(ctx context.Context, dim int) error {
	s.mu.Lock()
	known := s.vecDims[dim]
	s.mu.Unlock()
	if known {
		return nil
	}
	if err := s.createIndex(ctx, s.vecIndex(dim), vecMapping(dim)); err != nil {
		return err
	}
	s.mu.Lock()
	s.vecDims[dim] = true
	s.mu.Unlock()
	return nil
}

// indexDoc writes one JSON document with an explicit ID, retrying
// transient failures.
func (s *ES) indexDoc(ctx context.Context, index, id string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	return s.retries.Do(ctx, func() error {
		opCtx, cancel := s.opCtx(ctx)
		defer cancel()

		res, err := s.es.Index(
			index,
			bytes.NewReader(data),
			s.es.Index.WithContext(opCtx),
			s.es.Index.WithDocumentID(id),
		)
		if err != nil {
			return storeErr("index", 0, err)
		}
		defer res.Body.Close()
		if res.IsError() {
			return responseErr("index", res)
		}
		return nil
	})
}

// getDoc fetches one document by ID into out. Returns false when absent.
func (s *ES) getDoc(ctx context.Context, index, id string, out any) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.es.Get(index, id, s.es.Get.WithContext(ctx))
	if err != nil {
		return false, storeErr("get", 0, err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return false, nil
	}
	if res.IsError() {
		return false, responseErr("get", res)
	}

	var gr struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&gr); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	if !gr.Found {
		return false, nil
	}
	if err := json.Unmarshal(gr.Source, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return true, nil
}

// bulk issues one _bulk request, retrying transient failures, and fails
// if any item failed.
func (s *ES) bulk(ctx context.Context, body *bytes.Buffer) error {
	return s.retries.Do(ctx, func() error {
		opCtx, cancel := s.opCtx(ctx)
		defer cancel()

		res, err := s.es.Bulk(bytes.NewReader(body.Bytes()), s.es.Bulk.WithContext(opCtx))
		if err != nil {
			return storeErr("bulk", 0, err)
		}
		defer res.Body.Close()
		if res.IsError() {
			return responseErr("bulk", res)
		}

		var br struct {
			Errors bool `json:"errors"`
			Items  []map[string]struct {
				Status int             `json:"status"`
				Error  json.RawMessage `json:"error"`
			} `json:"items"`
		}
		if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
			return fmt.Errorf("failed to decode bulk response: %w", err)
		}
		if br.Errors {
			for _, item := range br.Items {
				for _, op := range item {
					if op.Status >= 300 {
						return storeErr("bulk", op.Status, fmt.Errorf("item failed: %s", op.Error))
					}
				}
			}
			return storeErr("bulk", 0, fmt.Errorf("bulk request reported errors"))
		}
		return nil
	})
}

func bulkAction(body *bytes.Buffer, index, id string, doc any) error {
	meta := fmt.Sprintf(`{"index":{"_index":%q,"_id":%q}}`, index, id)
	body.WriteString(meta)
	body.WriteByte('\n')
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal bulk item: %w", err)
	}
	body.Write(data)
	body.WriteByte('\n')
	return nil
}

func (s *ES) UpsertSource(ctx context.Context, source models.Source) error {
	return s.indexDoc(ctx, s.index("sources"), source.ID, source)
}

func (s *ES) GetSource(ctx context.Context, id string) (*models.Source, error) {
	var source models.Source
	found, err := s.getDoc(ctx, s.index("sources"), id, &source)
	if err != nil || !found {
		return nil, err
	}
	return &source, nil
}

func (s *ES) ListSources(ctx context.Context) ([]models.Source, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
		"size":  1000,
		"sort":  []map[string]interface{}{{"id": "asc"}},
	}
	hits, err := s.search(ctx, s.index("sources"), query)
	if err != nil {
		return nil, err
	}
	sources := make([]models.Source, len(hits))
	for i, hit := range hits {
		if err := json.Unmarshal(hit.Source, &sources[i]); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source: %w", err)
		}
	}
	return sources, nil
}

func (s *ES) UpsertDocument(ctx context.Context, doc models.Document) error {
	return s.indexDoc(ctx, s.index("docs"), doc.ID, doc)
}

func (s *ES) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	found, err := s.getDoc(ctx, s.index("docs"), id, &doc)
	if err != nil || !found {
		return nil, err
	}
	return &doc, nil
}

func (s *ES) UpsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	var body bytes.Buffer
	for _, chunk := range chunks {
		if err := bulkAction(&body, s.index("chunks"), chunk.ID, chunk); err != nil {
			return err
		}
	}
	return s.bulk(ctx, &body)
}

func (s *ES) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	var chunk models.Chunk
	found, err := s.getDoc(ctx, s.index("chunks"), id, &chunk)
	if err != nil || !found {
		return nil, err
	}
	return &chunk, nil
}

// vecDoc is the stored form of one embedding. The chunk ID is the ES
// document ID, so rewriting a (chunk, dimension) pair replaces the vector.
// The chunk's has_code flag is denormalized here so vector search can
// filter before knn truncation.
type vecDoc struct {
	ChunkID  string    `json:"chunk_id"`
	SourceID string    `json:"source_id"`
	HasCode  bool      `json:"has_code"`
	Vector   []float32 `json:"vector"`
}

func (s *ES) UpsertEmbeddings(ctx context.Context, embeddings []models.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	byDim := make(map[int][]models.Embedding)
	for _, e := range embeddings {
		if e.Dimension != len(e.Vector) {
			return fmt.Errorf("embedding for chunk %s: dimension %d does not match vector length %d",
				e.ChunkID, e.Dimension, len(e.Vector))
		}
		byDim[e.Dimension] = append(byDim[e.Dimension], e)
	}

	for dim, batch := range byDim {
		if err := s.ensureVecIndex(ctx, dim); err != nil {
			return err
		}
		var body bytes.Buffer
		for _, e := range batch {
			doc := vecDoc{ChunkID: e.ChunkID, SourceID: e.SourceID, HasCode: e.HasCode, Vector: e.Vector}
			if err := bulkAction(&body, s.vecIndex(dim), e.ChunkID, doc); err != nil {
				return err
			}
		}
		if err := s.bulk(ctx, &body); err != nil {
			return err
		}
	}
	return nil
}

func (s *ES) StoredDimensions(ctx context.Context) ([]int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.es.Indices.Get(
		[]string{s.prefix + "-vec-*"},
		s.es.Indices.Get.WithContext(ctx),
	)
	if err != nil {
		return nil, storeErr("dimensions", 0, err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, responseErr("dimensions", res)
	}

	var indices map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&indices); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var dims []int
	for name := range indices {
		suffix := strings.TrimPrefix(name, s.prefix+"-vec-")
		dim, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		dims = append(dims, dim)
	}
	sort.Ints(dims)
	return dims, nil
}

func (s *ES) UpsertCodeExamples(ctx context.Context, examples []models.CodeExample) error {
	if len(examples) == 0 {
		return nil
	}
	var body bytes.Buffer
	for _, ex := range examples {
		if err := bulkAction(&body, s.index("code"), ex.ID, ex); err != nil {
			return err
		}
	}
	return s.bulk(ctx, &body)
}

type searchHit struct {
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

func (s *ES) search(ctx context.Context, index string, query map[string]interface{}) ([]searchHit, error) {
	data, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(index),
		s.es.Search.WithBody(bytes.NewReader(data)),
	)
	if err != nil {
		return nil, storeErr("search", 0, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseErr("search", res)
	}

	var sr struct {
		Hits struct {
			Hits []searchHit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return sr.Hits.Hits, nil
}

// filterClauses translates SearchFilters into ES bool filter clauses.
func filterClauses(filters models.SearchFilters) []map[string]interface{} {
	var clauses []map[string]interface{}
	if len(filters.SourceIDs) > 0 {
		clauses = append(clauses, map[string]interface{}{
			"terms": map[string]interface{}{"source_id": filters.SourceIDs},
		})
	}
	if filters.HasCode != nil {
		clauses = append(clauses, map[string]interface{}{
			"term": map[string]interface{}{"has_code": *filters.HasCode},
		})
	}
	return clauses
}

func (s *ES) KeywordSearch(ctx context.Context, query string, filters models.SearchFilters, limit int) ([]models.RankedResult, error) {
	boolQuery := map[string]interface{}{
		"must": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"content", "title^2"},
			},
		},
	}
	if clauses := filterClauses(filters); len(clauses) > 0 {
		boolQuery["filter"] = clauses
	}

	hits, err := s.search(ctx, s.index("chunks"), map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"size":  limit,
	})
	if err != nil {
		return nil, err
	}

	results := make([]models.RankedResult, len(hits))
	for i, hit := range hits {
		if err := json.Unmarshal(hit.Source, &results[i].Chunk); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chunk: %w", err)
		}
		results[i].KeywordScore = hit.Score
		results[i].Score = hit.Score
		results[i].MatchType = models.MatchKeyword
	}
	return results, nil
}

func (s *ES) VectorSearch(ctx context.Context, vector []float32, filters models.SearchFilters, limit int, minSimilarity float64) ([]models.RankedResult, error) {
	dim := len(vector)

	s.mu.Lock()
	known := s.vecDims[dim]
	s.mu.Unlock()
	if !known {
		existsCtx, cancel := s.opCtx(ctx)
		res, err := s.es.Indices.Exists([]string{s.vecIndex(dim)}, s.es.Indices.Exists.WithContext(existsCtx))
		cancel()
		if err != nil {
			return nil, storeErr("vector search", 0, err)
		}
		res.Body.Close()
		if res.StatusCode != 200 {
			want, err := s.StoredDimensions(ctx)
			if err != nil {
				return nil, err
			}
			return nil, &models.DimensionMismatch{Got: dim, Want: want}
		}
		s.mu.Lock()
		s.vecDims[dim] = true
		s.mu.Unlock()
	}

	knn := map[string]interface{}{
		"field":          "vector",
		"query_vector":   vector,
		"k":              limit,
		"num_candidates": limit * 4,
	}
	// Both filters live on the vector docs, so they apply before knn
	// truncation rather than shrinking the result set afterwards.
	if clauses := filterClauses(filters); len(clauses) > 0 {
		knn["filter"] = clauses
	}

	hits, err := s.search(ctx, s.vecIndex(dim), map[string]interface{}{
		"knn":  knn,
		"size": limit,
	})
	if err != nil {
		return nil, err
	}

	type scored struct {
		chunkID string
		score   float64
	}
	var picked []scored
	for _, hit := range hits {
		if hit.Score < minSimilarity {
			continue
		}
		var vd vecDoc
		if err := json.Unmarshal(hit.Source, &vd); err != nil {
			return nil, fmt.Errorf("failed to unmarshal vector hit: %w", err)
		}
		picked = append(picked, scored{chunkID: vd.ChunkID, score: hit.Score})
	}
	if len(picked) == 0 {
		return nil, nil
	}

	ids := make([]string, len(picked))
	for i, p := range picked {
		ids[i] = p.chunkID
	}
	chunks, err := s.getChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	var results []models.RankedResult
	for _, p := range picked {
		chunk, ok := chunks[p.chunkID]
		if !ok {
			continue // vector outlived its chunk
		}
		if filters.HasCode != nil && chunk.HasCode != *filters.HasCode {
			continue
		}
		results = append(results, models.RankedResult{
			Chunk:       chunk,
			Score:       p.score,
			VectorScore: p.score,
			MatchType:   models.MatchVector,
		})
	}
	return results, nil
}

// getChunks fetches chunks by ID in one multi-get.
func (s *ES) getChunks(ctx context.Context, ids []string) (map[string]models.Chunk, error) {
	body, err := json.Marshal(map[string]interface{}{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mget request: %w", err)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.es.Mget(
		bytes.NewReader(body),
		s.es.Mget.WithContext(ctx),
		s.es.Mget.WithIndex(s.index("chunks")),
	)
	if err != nil {
		return nil, storeErr("mget", 0, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseErr("mget", res)
	}

	var mr struct {
		Docs []struct {
			Found  bool            `json:"found"`
			Source json.RawMessage `json:"_source"`
		} `json:"docs"`
	}
	if err := json.NewDecoder(res.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("failed to decode mget response: %w", err)
	}

	chunks := make(map[string]models.Chunk, len(mr.Docs))
	for _, doc := range mr.Docs {
		if !doc.Found {
			continue
		}
		var chunk models.Chunk
		if err := json.Unmarshal(doc.Source, &chunk); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chunk: %w", err)
		}
		chunks[chunk.ID] = chunk
	}
	return chunks, nil
}

// RecomputeSourceStats rederives counts from the chunks index and writes
// them onto the source document in one partial update.
func (s *ES) RecomputeSourceStats(ctx context.Context, sourceID string) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"source_id": sourceID},
		},
		"size": 0,
		"aggs": map[string]interface{}{
			"documents":   map[string]interface{}{"cardinality": map[string]interface{}{"field": "document_id"}},
			"total_words": map[string]interface{}{"sum": map[string]interface{}{"field": "word_count"}},
		},
	}
	data, err := json.Marshal(query)
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}

	searchCtx, cancel := s.opCtx(ctx)
	defer cancel()
	res, err := s.es.Search(
		s.es.Search.WithContext(searchCtx),
		s.es.Search.WithIndex(s.index("chunks")),
		s.es.Search.WithBody(bytes.NewReader(data)),
		s.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return storeErr("source stats", 0, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseErr("source stats", res)
	}

	var sr struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
		} `json:"hits"`
		Aggregations struct {
			Documents struct {
				Value float64 `json:"value"`
			} `json:"documents"`
			TotalWords struct {
				Value float64 `json:"value"`
			} `json:"total_words"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	update := map[string]interface{}{
		"doc": map[string]interface{}{
			"chunk_count": sr.Hits.Total.Value,
			"doc_count":   int(sr.Aggregations.Documents.Value),
			"word_count":  int(sr.Aggregations.TotalWords.Value),
		},
	}
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	return s.retries.Do(ctx, func() error {
		updateCtx, cancel := s.opCtx(ctx)
		defer cancel()

		ures, err := s.es.Update(
			s.index("sources"),
			sourceID,
			bytes.NewReader(body),
			s.es.Update.WithContext(updateCtx),
		)
		if err != nil {
			return storeErr("source stats", 0, err)
		}
		defer ures.Body.Close()
		if ures.IsError() && ures.StatusCode != 404 {
			return responseErr("source stats", ures)
		}
		return nil
	})
}

func (s *ES) SaveJob(ctx context.Context, job *models.CrawlJob) error {
	return s.indexDoc(ctx, s.index("jobs"), job.ID, job)
}

func (s *ES) GetJob(ctx context.Context, id string) (*models.CrawlJob, error) {
	var job models.CrawlJob
	found, err := s.getDoc(ctx, s.index("jobs"), id, &job)
	if err != nil || !found {
		return nil, err
	}
	return &job, nil
}

// Refresh forces a refresh of every index under the prefix. Used by tests.
func (s *ES) Refresh(ctx context.Context) error {
	res, err := s.es.Indices.Refresh(
		s.es.Indices.Refresh.WithContext(ctx),
		s.es.Indices.Refresh.WithIndex(s.prefix+"-*"),
	)
	if err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

// DeleteAll removes every index under the prefix. Used by tests.
func (s *ES) DeleteAll(ctx context.Context) error {
	res, err := s.es.Indices.Delete(
		[]string{s.prefix + "-*"},
		s.es.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	res.Body.Close()

	s.mu.Lock()
	s.vecDims = make(map[int]bool)
	s.mu.Unlock()
	return nil
}

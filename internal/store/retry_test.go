package store

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/quarrydocs/quarry/pkg/models"
)

// fakeES serves scripted status codes per request, in order, with the
// product header the client insists on. The last status repeats.
func fakeES(t *testing.T, statuses []int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(requests.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statuses[n])
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func fakeStore(t *testing.T, serverURL string, maxRetries int) *ES {
	t.Helper()
	s, err := NewES(Config{
		Addresses:   []string{serverURL},
		IndexPrefix: "quarry-fake",
		MaxRetries:  maxRetries,
	})
	if err != nil {
		t.Fatalf("NewES() error = %v", err)
	}
	return s
}

func TestUpsertChunksRetriesTransientFailure(t *testing.T) {
	server, requests := fakeES(t, []int{503, 200}, `{"errors":false,"items":[]}`)
	s := fakeStore(t, server.URL, 3)

	err := s.UpsertChunks(context.Background(), []models.Chunk{
		testChunk("doc1-0000", "doc1", "src1", "retried content", false),
	})
	if err != nil {
		t.Fatalf("UpsertChunks() error = %v, want success after retry", err)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

func TestUpsertChunksDoesNotRetryBadRequest(t *testing.T) {
	server, requests := fakeES(t, []int{400}, `{"error":"mapper_parsing_exception"}`)
	s := fakeStore(t, server.URL, 3)

	err := s.UpsertChunks(context.Background(), []models.Chunk{
		testChunk("doc1-0000", "doc1", "src1", "rejected content", false),
	})
	if err == nil {
		t.Fatal("UpsertChunks() succeeded against a 400")
	}
	if models.IsTransient(err) {
		t.Errorf("400 classified transient: %v", err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestSaveJobRetriesUntilExhausted(t *testing.T) {
	server, requests := fakeES(t, []int{503}, `{"error":"unavailable"}`)
	s := fakeStore(t, server.URL, 2)

	err := s.SaveJob(context.Background(), &models.CrawlJob{ID: "job1", SourceID: "src1"})
	if err == nil {
		t.Fatal("SaveJob() succeeded against a persistent 503")
	}
	if !models.IsTransient(err) {
		t.Errorf("503 not classified transient: %v", err)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("requests = %d, want 2 attempts", got)
	}
}

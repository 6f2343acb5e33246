package storage

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "empty endpoint",
			config:  Config{Endpoint: "", Bucket: "test"},
			wantErr: true,
		},
		{
			name:    "empty bucket",
			config:  Config{Endpoint: "localhost:9000", Bucket: ""},
			wantErr: true,
		},
		{
			name: "valid config",
			config: Config{
				Endpoint:        "localhost:9000",
				Bucket:          "test",
				AccessKeyID:     "minioadmin",
				SecretAccessKey: "minioadmin",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestIntegration_ArchiveRoundTrip exercises a running MinIO.
// Skip if MINIO_ENDPOINT is not set.
func TestIntegration_ArchiveRoundTrip(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("Skipping archive integration test (MINIO_ENDPOINT not set)")
	}

	archive, err := New(Config{
		Endpoint:        endpoint,
		Bucket:          "quarry-test",
		AccessKeyID:     envOr("MINIO_ACCESS_KEY", "minioadmin"),
		SecretAccessKey: envOr("MINIO_SECRET_KEY", "minioadmin"),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := archive.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket() error = %v", err)
	}

	prefix := "jobs/test-job"
	page := ArchivedPage{
		URL:         "https://example.com/docs/install",
		ContentType: "text/html",
		FetchedAt:   time.Now().UTC().Truncate(time.Second),
		Body:        "<html><body><h1>Install</h1></body></html>",
	}
	if err := archive.PutPage(ctx, prefix, "page-0001", page); err != nil {
		t.Fatalf("PutPage() error = %v", err)
	}

	got, err := archive.GetPage(ctx, prefix, "page-0001")
	if err != nil {
		t.Fatalf("GetPage() error = %v", err)
	}
	if got.URL != page.URL || got.Body != page.Body || got.ContentType != page.ContentType {
		t.Errorf("page lost fields in round trip: %+v", got)
	}

	names, err := archive.ListPages(ctx, prefix)
	if err != nil {
		t.Fatalf("ListPages() error = %v", err)
	}
	if len(names) != 1 || names[0] != "page-0001" {
		t.Errorf("ListPages() = %v, want [page-0001]", names)
	}

	manifest := Manifest{
		JobID:      "test-job",
		SourceID:   "src1",
		ArchivedAt: time.Now().UTC().Truncate(time.Second),
		PageCount:  1,
		Pages:      []string{"page-0001"},
	}
	if err := archive.PutManifest(ctx, prefix, manifest); err != nil {
		t.Fatalf("PutManifest() error = %v", err)
	}

	gotManifest, err := archive.GetManifest(ctx, prefix)
	if err != nil {
		t.Fatalf("GetManifest() error = %v", err)
	}
	if gotManifest.JobID != "test-job" || gotManifest.PageCount != 1 {
		t.Errorf("manifest lost fields in round trip: %+v", gotManifest)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

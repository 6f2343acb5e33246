// Package storage archives raw fetched pages to S3/MinIO so a crawl's
// extraction, chunking, and embedding can be re-run without refetching.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds S3/MinIO client configuration.
type Config struct {
	Endpoint        string // "localhost:9000" for MinIO
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Archive wraps the MinIO/S3 client for raw-page archival.
type Archive struct {
	minioClient *minio.Client
	bucket      string
}

// New creates an archive client.
func New(config Config) (*Archive, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	minioClient, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Archive{
		minioClient: minioClient,
		bucket:      config.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.minioClient.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}

	if err := a.minioClient.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// ArchivedPage is one raw fetched page as stored in the archive. Body is
// the unprocessed response body: HTML or markdown, as fetched.
type ArchivedPage struct {
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	FetchedAt   time.Time `json:"fetched_at"`
	Body        string    `json:"body"`
}

// Manifest describes one archived crawl under a prefix.
type Manifest struct {
	JobID      string    `json:"job_id"`
	SourceID   string    `json:"source_id"`
	ArchivedAt time.Time `json:"archived_at"`
	PageCount  int       `json:"page_count"`
	Pages      []string  `json:"pages"` // archived page names under pages/
}

// PutPage writes one page under <prefix>/pages/<name>.json.
func (a *Archive) PutPage(ctx context.Context, prefix, name string, page ArchivedPage) error {
	objectName := path.Join(prefix, "pages", name+".json")

	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to marshal page: %w", err)
	}

	_, err = a.minioClient.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to put page: %w", err)
	}
	return nil
}

// GetPage reads one archived page back.
func (a *Archive) GetPage(ctx context.Context, prefix, name string) (*ArchivedPage, error) {
	objectName := path.Join(prefix, "pages", name+".json")

	object, err := a.minioClient.GetObject(ctx, a.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}

	var page ArchivedPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to unmarshal page: %w", err)
	}
	return &page, nil
}

// ListPages returns the page names archived under a prefix.
func (a *Archive) ListPages(ctx context.Context, prefix string) ([]string, error) {
	pagesPrefix := path.Join(prefix, "pages") + "/"
	var names []string

	objectCh := a.minioClient.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
		Prefix:    pagesPrefix,
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		if strings.HasSuffix(object.Key, ".json") {
			names = append(names, strings.TrimSuffix(path.Base(object.Key), ".json"))
		}
	}

	return names, nil
}

// PutManifest writes the crawl manifest under <prefix>/manifest.json.
func (a *Archive) PutManifest(ctx context.Context, prefix string, manifest Manifest) error {
	objectName := path.Join(prefix, "manifest.json")

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	_, err = a.minioClient.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to put manifest: %w", err)
	}
	return nil
}

// GetManifest reads the crawl manifest for a prefix.
func (a *Archive) GetManifest(ctx context.Context, prefix string) (*Manifest, error) {
	objectName := path.Join(prefix, "manifest.json")

	object, err := a.minioClient.GetObject(ctx, a.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get manifest: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &manifest, nil
}

// Bucket returns the bucket name.
func (a *Archive) Bucket() string {
	return a.bucket
}

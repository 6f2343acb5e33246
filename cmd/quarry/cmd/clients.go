package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quarrydocs/quarry/internal/chunker"
	"github.com/quarrydocs/quarry/internal/config"
	"github.com/quarrydocs/quarry/internal/crawl"
	"github.com/quarrydocs/quarry/internal/embed"
	"github.com/quarrydocs/quarry/internal/extract"
	"github.com/quarrydocs/quarry/internal/llm"
	"github.com/quarrydocs/quarry/internal/rerank"
	"github.com/quarrydocs/quarry/internal/retry"
	"github.com/quarrydocs/quarry/internal/search"
	"github.com/quarrydocs/quarry/internal/storage"
	"github.com/quarrydocs/quarry/internal/store"
)

// newStore connects to Elasticsearch and makes sure the indices exist.
func newStore(ctx context.Context, cfg config.Config) (*store.ES, error) {
	es, err := store.NewES(store.Config{
		Addresses:   cfg.Elasticsearch.Addresses,
		IndexPrefix: cfg.Elasticsearch.IndexPrefix,
		Username:    cfg.Elasticsearch.Username,
		Password:    cfg.Elasticsearch.Password,
		Timeout:     cfg.Elasticsearch.Timeout,
		MaxRetries:  cfg.Elasticsearch.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch store: %w", err)
	}
	if err := es.EnsureReady(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare indices: %w", err)
	}
	return es, nil
}

// newEmbedder returns the embedding client, or nil when embeddings are
// disabled.
func newEmbedder(cfg config.Config) (*embed.Client, error) {
	if !cfg.Embeddings.Enabled {
		return nil, nil
	}
	client, err := embed.New(embed.Config{
		SocketPath: cfg.Embeddings.SocketPath,
		Model:      cfg.Embeddings.Model,
		Timeout:    cfg.Embeddings.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings client: %w", err)
	}
	slog.Info("embeddings enabled", "model", cfg.Embeddings.Model)
	return client, nil
}

// newSummarizer returns the document summarizer used for contextual
// embedding, or nil when the LLM capability is disabled.
func newSummarizer(cfg config.Config) (*llm.Summarizer, error) {
	if !cfg.LLM.Enabled || !cfg.Embeddings.Contextual {
		return nil, nil
	}
	client, err := llm.New(llm.Config{
		SocketPath: cfg.LLM.SocketPath,
		Model:      cfg.LLM.Model,
		Timeout:    cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	slog.Info("contextual embedding enabled", "model", cfg.LLM.Model)
	return llm.NewSummarizer(client), nil
}

// newReranker returns the search reranker, or nil when disabled.
func newReranker(cfg config.Config) (*rerank.Reranker, error) {
	if !cfg.Rerank.Enabled {
		return nil, nil
	}
	client, err := llm.New(llm.Config{
		SocketPath: cfg.Rerank.SocketPath,
		Model:      cfg.Rerank.Model,
		Timeout:    cfg.Rerank.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reranker client: %w", err)
	}
	slog.Info("reranking enabled", "model", cfg.Rerank.Model)
	return rerank.New(client, rerank.Config{TopN: cfg.Rerank.TopN}), nil
}

// newArchive returns the raw page archive, or nil when storage is not
// configured.
func newArchive(ctx context.Context, cfg config.Config) (*storage.Archive, error) {
	if cfg.Storage.Endpoint == "" {
		return nil, nil
	}
	archive, err := storage.New(storage.Config{
		Endpoint:        cfg.Storage.Endpoint,
		Bucket:          cfg.Storage.Bucket,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UseSSL:          cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	if err := archive.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare bucket %q: %w", archive.Bucket(), err)
	}
	return archive, nil
}

// newSearchEngine wires the hybrid search engine from configuration.
func newSearchEngine(cfg config.Config, es store.Store) (*search.Engine, error) {
	var embedder search.Embedder
	if client, err := newEmbedder(cfg); err != nil {
		return nil, err
	} else if client != nil {
		embedder = client
	}

	var reranker search.Reranker
	if r, err := newReranker(cfg); err != nil {
		return nil, err
	} else if r != nil {
		reranker = r
	}

	return search.New(es, embedder, reranker, search.Config{
		TopK:          cfg.Search.TopK,
		MinSimilarity: cfg.Search.MinSimilarity,
		VectorWeight:  cfg.Search.VectorWeight,
		KeywordWeight: cfg.Search.KeywordWeight,
	}), nil
}

// newOrchestrator wires the crawl orchestrator and its dependencies.
// Embedding, contextual summaries, and archival are each skipped when
// their config section is disabled.
func newOrchestrator(ctx context.Context, cfg config.Config, es store.Store, sink crawl.ProgressSink) (*crawl.Orchestrator, error) {
	deps := crawl.Deps{
		Fetcher: crawl.NewCollyFetcher(crawl.FetchConfig{
			Delay:            cfg.Crawler.Delay,
			MaxDepth:         cfg.Crawler.MaxDepth,
			FollowLinks:      cfg.Crawler.FollowLinks,
			UserAgent:        cfg.Crawler.UserAgent,
			Timeout:          cfg.Crawler.Timeout,
			TryMarkdownFirst: cfg.Crawler.TryMarkdownFirst,
		}),
		Registry: extract.NewRegistry(cfg.Classifier.MinConfidence),
		Chunker: chunker.New(chunker.Config{
			MaxChunkSize:         cfg.Chunker.MaxChunkSize,
			MinChunkSize:         cfg.Chunker.MinChunkSize,
			ExtractCode:          cfg.Chunker.ExtractCode,
			MinCodeLength:        cfg.Chunker.MinCodeLength,
			MinIndicators:        cfg.Chunker.MinIndicators,
			MaxProseRatio:        cfg.Chunker.MaxProseRatio,
			RelaxedMinIndicators: cfg.Chunker.RelaxedMinIndic,
		}),
		Store: es,
		Sink:  sink,
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	summarizer, err := newSummarizer(cfg)
	if err != nil {
		return nil, err
	}
	if embedder != nil {
		var provider embed.ContextProvider
		if summarizer != nil {
			provider = summarizer
			deps.Primer = summarizer
		}
		deps.Pipeline = embed.NewPipeline(embedder, provider, embed.PipelineConfig{
			BatchSize:  cfg.Embeddings.BatchSize,
			Workers:    cfg.Embeddings.Workers,
			MaxRetries: cfg.Embeddings.MaxRetries,
		})
	}

	archive, err := newArchive(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		deps.Archive = archive
	}

	return crawl.New(deps, crawl.Config{
		Workers: cfg.Crawler.Workers,
		Retry:   retry.Policy{MaxAttempts: cfg.Crawler.MaxRetries},
	}), nil
}

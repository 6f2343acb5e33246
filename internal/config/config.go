package config

import "time"

// Config holds all application configuration.
type Config struct {
	Elasticsearch Elasticsearch `mapstructure:"elasticsearch"`
	Embeddings    Embeddings    `mapstructure:"embeddings"`
	LLM           LLM           `mapstructure:"llm"`
	Rerank        Rerank        `mapstructure:"rerank"`
	Crawler       Crawler       `mapstructure:"crawler"`
	Chunker       Chunker       `mapstructure:"chunker"`
	Search        Search        `mapstructure:"search"`
	Classifier    Classifier    `mapstructure:"classifier"`
	Storage       Storage       `mapstructure:"storage"`
	MCP           MCP           `mapstructure:"mcp"`
	Sources       []Source      `mapstructure:"sources"`
}

// Elasticsearch holds ES connection configuration.
type Elasticsearch struct {
	Addresses   []string      `mapstructure:"addresses"`
	IndexPrefix string        `mapstructure:"index_prefix"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"` // write attempts for transient failures
}

// Embeddings holds embedding capability configuration.
type Embeddings struct {
	Enabled    bool   `mapstructure:"enabled"`
	SocketPath string `mapstructure:"socket_path"`
	Model      string `mapstructure:"model"`
	BatchSize  int    `mapstructure:"batch_size"`
	Workers    int    `mapstructure:"workers"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Contextual bool          `mapstructure:"contextual"` // prepend document context before embedding
}

// LLM holds configuration for the LLM capability used to generate
// document-level context summaries.
type LLM struct {
	Enabled    bool          `mapstructure:"enabled"`
	SocketPath string        `mapstructure:"socket_path"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Rerank holds the optional cross-encoder reranker configuration.
type Rerank struct {
	Enabled    bool          `mapstructure:"enabled"`
	SocketPath string        `mapstructure:"socket_path"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	TopN       int           `mapstructure:"top_n"` // candidates passed to the reranker
}

// Crawler holds crawl orchestration configuration.
type Crawler struct {
	Delay            time.Duration `mapstructure:"delay"`
	MaxDepth         int           `mapstructure:"max_depth"`
	FollowLinks      bool          `mapstructure:"follow_links"`
	Timeout          time.Duration `mapstructure:"timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	Workers          int           `mapstructure:"workers"`
	MaxRetries       int           `mapstructure:"max_retries"` // fetch attempts for retryable failures
	TryMarkdownFirst bool          `mapstructure:"try_markdown_first"`
}

// Chunker holds content splitting configuration.
type Chunker struct {
	MaxChunkSize    int     `mapstructure:"max_chunk_size"`
	MinChunkSize    int     `mapstructure:"min_chunk_size"`
	ExtractCode     bool    `mapstructure:"extract_code"`
	MinCodeLength   int     `mapstructure:"min_code_length"`
	MinIndicators   int     `mapstructure:"min_indicators"`
	MaxProseRatio   float64 `mapstructure:"max_prose_ratio"`
	RelaxedMinIndic int     `mapstructure:"relaxed_min_indicators"` // config-style languages
}

// Search holds hybrid search configuration.
type Search struct {
	MinSimilarity float64 `mapstructure:"min_similarity"`
	TopK          int     `mapstructure:"top_k"`
	VectorWeight  float64 `mapstructure:"vector_weight"`
	KeywordWeight float64 `mapstructure:"keyword_weight"`
}

// Classifier holds mode detection configuration.
type Classifier struct {
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// Storage holds the S3/MinIO raw page archive configuration.
type Storage struct {
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// MCP holds MCP server configuration.
type MCP struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// Source defines a named crawl source.
type Source struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Elasticsearch: Elasticsearch{
			Addresses:   []string{"http://localhost:9200"},
			IndexPrefix: "quarry",
			Timeout:     30 * time.Second,
			MaxRetries:  3,
		},
		Embeddings: Embeddings{
			Enabled:    false, // Requires a model runner socket
			SocketPath: "",
			Model:      "ai/embeddinggemma",
			BatchSize:  16,
			Workers:    4,
			MaxRetries: 3,
			Timeout:    120 * time.Second,
			Contextual: false,
		},
		LLM: LLM{
			Enabled:    false,
			SocketPath: "",
			Model:      "ai/gemma3",
			Timeout:    120 * time.Second,
		},
		Rerank: Rerank{
			Enabled:    false,
			SocketPath: "",
			Model:      "ai/bge-reranker",
			Timeout:    120 * time.Second,
			TopN:       25,
		},
		Crawler: Crawler{
			Delay:            1 * time.Second,
			MaxDepth:         3,
			FollowLinks:      true,
			Timeout:          30 * time.Second,
			UserAgent:        "quarry/1.0",
			Workers:          4,
			MaxRetries:       3,
			TryMarkdownFirst: true,
		},
		Chunker: Chunker{
			MaxChunkSize:    4000,
			MinChunkSize:    200,
			ExtractCode:     true,
			MinCodeLength:   120,
			MinIndicators:   3,
			MaxProseRatio:   0.5,
			RelaxedMinIndic: 1,
		},
		Search: Search{
			MinSimilarity: 0.55,
			TopK:          10,
			VectorWeight:  1.0,
			KeywordWeight: 1.0,
		},
		Classifier: Classifier{
			MinConfidence: 0.3,
		},
		Storage: Storage{
			Endpoint:        "localhost:9002",
			Bucket:          "quarry",
			AccessKeyID:     "minioadmin",
			SecretAccessKey: "minioadmin",
			UseSSL:          false,
		},
		MCP: MCP{
			Name:    "quarry",
			Version: "1.0.0",
		},
	}
}

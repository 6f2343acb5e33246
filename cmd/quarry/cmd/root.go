package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quarrydocs/quarry/internal/config"
)

var (
	cfgFile string
	verbose bool
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Crawl documentation into a searchable knowledge base",
	Long: `quarry crawls documentation sites, splits pages into chunks,
embeds them, and serves hybrid keyword + vector search over the result.

Content is indexed in Elasticsearch; raw pages can be archived to
S3-compatible storage for later re-ingestion.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetConfig returns the loaded configuration.
func GetConfig() config.Config {
	return cfg
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./quarry.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func initLogger() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("quarry")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.quarry")
	}

	viper.SetEnvPrefix("QUARRY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// AutomaticEnv does not cover nested keys during Unmarshal; bind
	// each one explicitly.
	for _, key := range []string{
		"elasticsearch.addresses",
		"elasticsearch.index_prefix",
		"elasticsearch.username",
		"elasticsearch.password",
		"elasticsearch.timeout",
		"elasticsearch.max_retries",
		"embeddings.enabled",
		"embeddings.socket_path",
		"embeddings.model",
		"embeddings.batch_size",
		"embeddings.workers",
		"embeddings.max_retries",
		"embeddings.timeout",
		"embeddings.contextual",
		"llm.enabled",
		"llm.socket_path",
		"llm.model",
		"llm.timeout",
		"rerank.enabled",
		"rerank.socket_path",
		"rerank.model",
		"rerank.timeout",
		"rerank.top_n",
		"crawler.delay",
		"crawler.max_depth",
		"crawler.follow_links",
		"crawler.timeout",
		"crawler.user_agent",
		"crawler.workers",
		"crawler.max_retries",
		"crawler.try_markdown_first",
		"chunker.max_chunk_size",
		"chunker.min_chunk_size",
		"chunker.extract_code",
		"search.min_similarity",
		"search.top_k",
		"search.vector_weight",
		"search.keyword_weight",
		"classifier.min_confidence",
		"storage.endpoint",
		"storage.bucket",
		"storage.access_key_id",
		"storage.secret_access_key",
		"storage.use_ssl",
		"mcp.name",
		"mcp.version",
	} {
		_ = viper.BindEnv(key)
	}

	cfg = config.Defaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config: %v\n", err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to parse config: %v\n", err)
	}

	// Viper reads the addresses env var as a single string; split it.
	if addrs := viper.GetString("elasticsearch.addresses"); addrs != "" && strings.Contains(addrs, ",") {
		cfg.Elasticsearch.Addresses = strings.Split(addrs, ",")
	}
}

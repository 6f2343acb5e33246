package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quarrydocs/quarry/internal/search"
	"github.com/quarrydocs/quarry/pkg/models"
)

var (
	searchLimit   int
	searchFormat  string
	searchSources []string
	searchHasCode bool
	searchRerank  bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the indexed content",
	Long: `Run a hybrid keyword + vector search over the indexed chunks.

The vector leg is used when embeddings are enabled; otherwise the search
is keyword only.

Examples:
  # Basic search
  quarry search "connection pooling"

  # Restrict to one source, code-bearing chunks only
  quarry search "retry backoff" --source godocs --has-code

  # Rerank the top results and emit JSON
  quarry search "error wrapping" --rerank --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "Maximum number of results (default from config)")
	searchCmd.Flags().StringVar(&searchFormat, "format", "text", "Output format: text or json")
	searchCmd.Flags().StringSliceVar(&searchSources, "source", nil, "Restrict to source ID (repeatable)")
	searchCmd.Flags().BoolVar(&searchHasCode, "has-code", false, "Only chunks containing code")
	searchCmd.Flags().BoolVar(&searchRerank, "rerank", false, "Rescore the top results with the reranker")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()

	es, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}

	engine, err := newSearchEngine(cfg, es)
	if err != nil {
		return err
	}

	query := search.Query{
		Text:   args[0],
		TopK:   searchLimit,
		Rerank: searchRerank,
		Filters: models.SearchFilters{
			SourceIDs: searchSources,
		},
	}
	if searchHasCode {
		hasCode := true
		query.Filters.HasCode = &hasCode
	}

	resp, err := engine.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchFormat == "json" {
		output, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(output))
		return nil
	}

	if len(resp.Results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Found %d results", len(resp.Results))
	if resp.Degraded {
		fmt.Printf(" (degraded: one retrieval leg was unavailable)")
	}
	fmt.Printf(":\n\n")

	for i, r := range resp.Results {
		fmt.Printf("─── Result %d ─── %.3f (%s)\n", i+1, r.Score, r.MatchType)
		fmt.Printf("Title:   %s\n", r.Chunk.Title)
		fmt.Printf("URL:     %s\n", r.Chunk.URL)
		fmt.Printf("Chunk:   %s\n", r.Chunk.ID)

		content := strings.TrimSpace(r.Chunk.Content)
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		fmt.Printf("%s\n\n", content)
	}

	return nil
}

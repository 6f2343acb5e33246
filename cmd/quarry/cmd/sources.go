package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quarrydocs/quarry/pkg/models"
)

var sourcesFormat string

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List indexed sources",
	Long: `List every source in the index with its aggregate counts.

Examples:
  quarry sources
  quarry sources --format json`,
	RunE: runSources,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)

	sourcesCmd.Flags().StringVar(&sourcesFormat, "format", "text", "Output format: text or json")
}

func runSources(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()

	es, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}

	sources, err := es.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}

	if sourcesFormat == "json" {
		output, err := json.MarshalIndent(sources, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(output))
		return nil
	}

	printSources(os.Stdout, sources)
	return nil
}

func printSources(w io.Writer, sources []models.Source) {
	if len(sources) == 0 {
		fmt.Fprintln(w, "No sources indexed.")
		return
	}

	fmt.Fprintf(w, "%-20s %-10s %8s %8s %10s  %s\n", "ID", "STATUS", "DOCS", "CHUNKS", "WORDS", "LAST CRAWL")
	for _, src := range sources {
		lastCrawl := "-"
		if !src.LastCrawlAt.IsZero() {
			lastCrawl = src.LastCrawlAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%-20s %-10s %8d %8d %10d  %s\n",
			src.ID, src.Status, src.DocCount, src.ChunkCount, src.WordCount, lastCrawl)
	}
}

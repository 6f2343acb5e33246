package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrydocs/quarry/pkg/models"
)

var (
	crawlSource string
	crawlURLs   []string
	noArchive   bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl documentation pages into the index",
	Long: `Crawl the given URLs, extract and chunk their content, and index
the chunks. When embeddings are enabled the chunks are embedded as well;
when storage is configured the raw pages are archived for re-ingestion.

Examples:
  # Crawl a documentation site
  quarry crawl --source godocs --url https://go.dev/doc/

  # Crawl several entry points into one source
  quarry crawl --source godocs --url https://go.dev/doc/ --url https://go.dev/ref/spec

  # Crawl a source defined in the config file
  quarry crawl --source godocs`,
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	crawlCmd.Flags().StringVar(&crawlSource, "source", "", "Source ID to index under (required)")
	crawlCmd.Flags().StringSliceVar(&crawlURLs, "url", nil, "URL to crawl (repeatable)")
	crawlCmd.Flags().BoolVar(&noArchive, "no-archive", false, "Skip archiving raw pages to storage")
	crawlCmd.MarkFlagRequired("source")
}

// progressPrinter writes crawl progress to stderr.
type progressPrinter struct{}

func (progressPrinter) Progress(event models.ProgressEvent) {
	fmt.Fprintf(os.Stderr, "\r%-11s %d/%d", event.Phase, event.Processed, event.Total)
	if event.ErrorsSoFar > 0 {
		fmt.Fprintf(os.Stderr, " (%d errors)", event.ErrorsSoFar)
	}
	if event.Processed == event.Total {
		fmt.Fprintln(os.Stderr)
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	if noArchive {
		cfg.Storage.Endpoint = ""
	}

	urls := crawlURLs
	if len(urls) == 0 {
		for _, src := range cfg.Sources {
			if src.Name == crawlSource {
				urls = append(urls, src.URL)
			}
		}
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs given and source %q is not in the config", crawlSource)
	}

	es, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}

	orch, err := newOrchestrator(ctx, cfg, es, progressPrinter{})
	if err != nil {
		return err
	}

	job, err := orch.Submit(ctx, crawlSource, urls)
	if err != nil {
		return fmt.Errorf("failed to submit crawl: %w", err)
	}

	fmt.Printf("Crawling %d URL(s) into %s (job %s)\n", len(urls), crawlSource, job.ID)

	job, err = orch.Run(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}

	printJob(job)
	return nil
}

func printJob(job models.CrawlJob) {
	succeeded, failed, chunks := 0, 0, 0
	for _, o := range job.Outcomes {
		if o.Success {
			succeeded++
			chunks += o.Chunks
		} else {
			failed++
		}
	}

	fmt.Printf("\nJob %s: %s\n", job.ID, job.State)
	fmt.Printf("  Pages indexed: %d\n", succeeded)
	fmt.Printf("  Chunks:        %d\n", chunks)
	if failed > 0 {
		fmt.Printf("  Failures:      %d\n", failed)
		for _, o := range job.Outcomes {
			if !o.Success {
				fmt.Printf("    - %s: %s\n", o.URL, o.Error)
			}
		}
	}
	if !job.FinishedAt.IsZero() {
		fmt.Printf("  Duration:      %v\n", job.FinishedAt.Sub(job.StartedAt).Round(time.Millisecond))
	}
}

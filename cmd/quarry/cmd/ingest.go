package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	ingestSource string
	ingestPrefix string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Re-ingest archived pages from storage",
	Long: `Re-process previously archived pages into the index without
refetching them.

Use this after changing chunking or extraction settings, or to index a
crawl whose embedding step failed partway.

Examples:
  # Re-ingest one archived crawl
  quarry ingest --source godocs --prefix jobs/2f6c0a1e`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "Source ID to index under (required)")
	ingestCmd.Flags().StringVar(&ingestPrefix, "prefix", "", "Archive prefix to ingest (required)")
	ingestCmd.MarkFlagRequired("source")
	ingestCmd.MarkFlagRequired("prefix")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	if cfg.Storage.Endpoint == "" {
		return fmt.Errorf("storage is not configured")
	}

	es, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}

	orch, err := newOrchestrator(ctx, cfg, es, progressPrinter{})
	if err != nil {
		return err
	}

	fmt.Printf("Ingesting %s into %s\n", ingestPrefix, ingestSource)

	job, err := orch.Ingest(ctx, ingestSource, ingestPrefix)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	printJob(job)
	return nil
}

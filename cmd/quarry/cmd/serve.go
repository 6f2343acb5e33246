package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarrydocs/quarry/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the MCP server for knowledge retrieval and crawl control.

The server communicates via stdio and provides five tools:
  - search_knowledge: Hybrid search over indexed chunks
  - get_chunk: Get a specific chunk by ID
  - submit_crawl: Queue and start a crawl job
  - crawl_status: Inspect a job's state and progress
  - cancel_crawl: Cancel a queued or running job

Example:
  quarry serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

	es, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}

	engine, err := newSearchEngine(cfg, es)
	if err != nil {
		return err
	}

	orch, err := newOrchestrator(ctx, cfg, es, nil)
	if err != nil {
		return err
	}

	server := mcp.NewServer(engine, orch, es, mcp.Config{
		Name:    cfg.MCP.Name,
		Version: cfg.MCP.Version,
	})

	fmt.Fprintln(cmd.ErrOrStderr(), "Starting MCP server...")

	return server.ServeStdio()
}

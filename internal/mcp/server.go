// Package mcp exposes search and crawl operations as MCP tools over
// stdio, so agent runtimes can query the corpus and drive ingestion.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quarrydocs/quarry/internal/search"
	"github.com/quarrydocs/quarry/internal/store"
	"github.com/quarrydocs/quarry/pkg/models"
)

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
}

// Searcher runs hybrid searches.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*models.SearchResponse, error)
}

// Crawler manages crawl jobs.
type Crawler interface {
	Submit(ctx context.Context, sourceID string, urls []string) (models.CrawlJob, error)
	Run(ctx context.Context, jobID string) (models.CrawlJob, error)
	Status(ctx context.Context, jobID string) (*models.CrawlJob, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
}

// Server wires the tool handlers into an MCP server.
type Server struct {
	mcpServer *server.MCPServer
	searcher  Searcher
	crawler   Crawler
	store     store.Store
}

// NewServer creates an MCP server exposing the knowledge-base tools.
func NewServer(searcher Searcher, crawler Crawler, st store.Store, config Config) *Server {
	if config.Name == "" {
		config.Name = "quarry"
	}
	if config.Version == "" {
		config.Version = "dev"
	}

	mcpServer := server.NewMCPServer(
		config.Name,
		config.Version,
		server.WithToolCapabilities(true),
	)

	s := &Server{
		mcpServer: mcpServer,
		searcher:  searcher,
		crawler:   crawler,
		store:     st,
	}

	searchTool := mcp.NewTool("search_knowledge",
		mcp.WithDescription("Hybrid search over ingested documentation chunks. Combines semantic and keyword relevance."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query string"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results to return (default: 10)"),
		),
		mcp.WithString("source_ids",
			mcp.Description("Comma-separated source IDs to restrict the search to"),
		),
		mcp.WithBoolean("has_code",
			mcp.Description("Only return chunks containing code"),
		),
		mcp.WithBoolean("rerank",
			mcp.Description("Rescore the top results with the reranker"),
		),
	)
	mcpServer.AddTool(searchTool, s.searchHandler)

	getChunkTool := mcp.NewTool("get_chunk",
		mcp.WithDescription("Get a specific chunk by ID"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Chunk ID to retrieve"),
		),
	)
	mcpServer.AddTool(getChunkTool, s.getChunkHandler)

	submitTool := mcp.NewTool("submit_crawl",
		mcp.WithDescription("Submit a crawl job for a list of URLs. The job runs in the background; poll crawl_status for progress."),
		mcp.WithString("source_id",
			mcp.Required(),
			mcp.Description("Source the crawled documents belong to"),
		),
		mcp.WithString("urls",
			mcp.Required(),
			mcp.Description("Comma-separated URLs to crawl"),
		),
	)
	mcpServer.AddTool(submitTool, s.submitCrawlHandler)

	statusTool := mcp.NewTool("crawl_status",
		mcp.WithDescription("Get the state and per-URL outcomes of a crawl job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID returned by submit_crawl"),
		),
	)
	mcpServer.AddTool(statusTool, s.crawlStatusHandler)

	cancelTool := mcp.NewTool("cancel_crawl",
		mcp.WithDescription("Request cancellation of a crawl job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID to cancel"),
		),
	)
	mcpServer.AddTool(cancelTool, s.cancelCrawlHandler)

	return s
}

func (s *Server) searchHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	q := search.Query{
		Text:   query,
		TopK:   req.GetInt("limit", 10),
		Rerank: req.GetBool("rerank", false),
	}
	if sourceIDs := req.GetString("source_ids", ""); sourceIDs != "" {
		q.Filters.SourceIDs = splitList(sourceIDs)
	}
	if req.GetBool("has_code", false) {
		hasCode := true
		q.Filters.HasCode = &hasCode
	}

	resp, err := s.searcher.Search(ctx, q)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	result, err := json.Marshal(resp)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(result)), nil
}

func (s *Server) getChunkHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id parameter is required"), nil
	}

	chunk, err := s.store.GetChunk(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get chunk failed: %v", err)), nil
	}
	if chunk == nil {
		return mcp.NewToolResultError(fmt.Sprintf("chunk not found: %s", id)), nil
	}

	result, err := json.Marshal(chunk)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal chunk: %v", err)), nil
	}
	return mcp.NewToolResultText(string(result)), nil
}

func (s *Server) submitCrawlHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sourceID, err := req.RequireString("source_id")
	if err != nil {
		return mcp.NewToolResultError("source_id parameter is required"), nil
	}
	urlsParam, err := req.RequireString("urls")
	if err != nil {
		return mcp.NewToolResultError("urls parameter is required"), nil
	}
	urls := splitList(urlsParam)
	if len(urls) == 0 {
		return mcp.NewToolResultError("urls parameter is empty"), nil
	}

	job, err := s.crawler.Submit(ctx, sourceID, urls)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("submit failed: %v", err)), nil
	}

	// The job outlives this tool call.
	go func() {
		if _, err := s.crawler.Run(context.Background(), job.ID); err != nil {
			slog.Error("crawl job failed to run", "job_id", job.ID, "error", err)
		}
	}()

	result, err := json.Marshal(job)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal job: %v", err)), nil
	}
	return mcp.NewToolResultText(string(result)), nil
}

func (s *Server) crawlStatusHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job, err := s.crawler.Status(ctx, jobID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status failed: %v", err)), nil
	}
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job not found: %s", jobID)), nil
	}

	result, err := json.Marshal(job)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal job: %v", err)), nil
	}
	return mcp.NewToolResultText(string(result)), nil
}

func (s *Server) cancelCrawlHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	ok, err := s.crawler.Cancel(ctx, jobID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", err)), nil
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("job %s not found or already finished", jobID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"job_id":%q,"cancelled":true}`, jobID)), nil
}

// ServeStdio starts the MCP server using stdio transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

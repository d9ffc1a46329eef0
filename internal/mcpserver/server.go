// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the fuzzy-match index to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fuzzmatch/trigramd/internal/indexing"
	"github.com/fuzzmatch/trigramd/internal/search"
)

const defaultLimit = 5

// Server wraps the MCP server with the index tools.
type Server struct {
	mcp     *server.MCPServer
	indexer *indexing.Indexer
	engine  *search.Engine
}

// New creates an MCP server with the search and index tools registered.
func New(ix *indexing.Indexer, eng *search.Engine) *Server {
	s := &Server{indexer: ix, engine: eng}

	s.mcp = server.NewMCPServer(
		"trigramd",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("fuzzy_search",
		mcp.WithDescription("Approximate string-similarity search over indexed record names, ranked by trigram overlap."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text (plain, not base64)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
	), s.fuzzySearch)

	s.mcp.AddTool(mcp.NewTool("index_record",
		mcp.WithDescription("Tokenize a record name into trigrams and store them under the given id, replacing any previous set."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Stable record identifier")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Text to index")),
	), s.indexRecord)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type toolHit struct {
	PK    string `json:"pk"`
	Name  string `json:"name"`
	Score string `json:"score"`
}

func (s *Server) fuzzySearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := defaultLimit
	if v, ok := req.GetArguments()["limit"].(float64); ok && v >= 1 {
		limit = int(v)
	}

	results, err := s.engine.Search(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	hits := make([]toolHit, len(results))
	for i, res := range results {
		hits[i] = toolHit{
			PK:    res.PK,
			Name:  res.Name,
			Score: strconv.FormatFloat(res.Score, 'f', 4, 64),
		}
	}
	out, _ := json.MarshalIndent(hits, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) indexRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.indexer.Index(ctx, id, name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("indexed: %s", id)), nil
}

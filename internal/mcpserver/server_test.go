package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fuzzmatch/trigramd/internal/indexing"
	"github.com/fuzzmatch/trigramd/internal/search"
	"github.com/fuzzmatch/trigramd/internal/store"
	"github.com/fuzzmatch/trigramd/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	exec := testutil.TestExecutor(t, store.NewMemory())
	return New(indexing.New(exec, nil, nil), search.New(exec, nil, false))
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper; exercise the handler
	// functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "fuzzy_search":
		result, err = srv.fuzzySearch(ctx, req)
	case "index_record":
		result, err = srv.indexRecord(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestIndexThenSearch(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "index_record", map[string]interface{}{
		"id":   "u1",
		"name": "new york giants",
	})
	if text := resultText(r); text != "indexed: u1" {
		t.Errorf("index result = %q", text)
	}

	r = callTool(t, srv, "fuzzy_search", map[string]interface{}{
		"query": "new york giants",
	})
	var hits []toolHit
	if err := json.Unmarshal([]byte(resultText(r)), &hits); err != nil {
		t.Fatalf("decode hits: %v", err)
	}
	if len(hits) != 1 || hits[0].PK != "u1" {
		t.Fatalf("hits = %+v, want one hit for u1", hits)
	}
	if hits[0].Score != "100.0000" {
		t.Errorf("score = %q, want 100.0000", hits[0].Score)
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	srv := testServer(t)
	for _, id := range []string{"a", "b", "c"} {
		callTool(t, srv, "index_record", map[string]interface{}{
			"id":   id,
			"name": "shared name " + id,
		})
	}

	r := callTool(t, srv, "fuzzy_search", map[string]interface{}{
		"query": "shared name",
		"limit": float64(2),
	})
	var hits []toolHit
	if err := json.Unmarshal([]byte(resultText(r)), &hits); err != nil {
		t.Fatalf("decode hits: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("got %d hits, want 2", len(hits))
	}
}

func TestSearchMissingQuery(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "fuzzy_search", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error for missing query")
	}
}

func TestIndexMissingArguments(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "index_record", map[string]interface{}{"id": "u1"})
	if !r.IsError {
		t.Error("expected error for missing name")
	}
	r = callTool(t, srv, "index_record", map[string]interface{}{"name": "x"})
	if !r.IsError {
		t.Error("expected error for missing id")
	}
}

func TestMCPServerAccessor(t *testing.T) {
	if testServer(t).MCPServer() == nil {
		t.Fatal("MCPServer() returned nil")
	}
}

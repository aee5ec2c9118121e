package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/storyloom/api/search"
)

var (
	memoryRecallToolName    = "memory_recall"
	memoryRecallDescription = "Recall consolidated story memories. Given a query, returns the memory log summaries most similar to it, with their location, type and importance."
)

// MemoryRecallInput represents the input arguments for the MCP memory_recall tool.
type MemoryRecallInput struct {
	Query string `json:"query" jsonschema:"what to remember, e.g. a character, place or event"`
	K     int    `json:"k,omitempty" jsonschema:"number of memories to return (default: 5)"`
}

// handleMemoryRecall processes a memory recall request via MCP.
func (s *Server) handleMemoryRecall(ctx context.Context, _ *mcp.CallToolRequest, input MemoryRecallInput) (*mcp.CallToolResult, search.MemoryOutput, error) {
	output, err := search.Memories(ctx, input.Query, input.K, s.config.Recaller)
	if err != nil {
		return errorResult(fmt.Sprintf("Memory recall failed: %v", err)), search.MemoryOutput{}, nil
	}

	return jsonResult(*output)
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/api/search"
)

var (
	searchTurnsToolName    = "search_turns"
	searchTurnsDescription = "Search the story so far. Returns the stored player and narrator turns most relevant to the query, using keyword and semantic matching."
)

// SearchTurnsInput represents the input arguments for the search_turns tool.
type SearchTurnsInput struct {
	Query string `json:"query" jsonschema:"the text to search the story turns for"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of turns to return (default: 10)"`
}

// handleSearchTurns processes a search_turns request.
func (s *Server) handleSearchTurns(ctx context.Context, _ *mcp.CallToolRequest, input SearchTurnsInput) (*mcp.CallToolResult, search.TurnsOutput, error) {
	logger := s.config.Logger
	logger.Debug("MCP search_turns request",
		zap.String("query", input.Query),
		zap.Int("limit", input.Limit),
	)

	output, err := search.Turns(ctx, input.Query, input.Limit, s.config.Retriever, s.config.Storage, logger)
	if err != nil {
		logger.Error("turn search failed", zap.Error(err))
		return errorResult(fmt.Sprintf("Search failed: %v", err)), search.TurnsOutput{}, nil
	}

	return jsonResult(*output)
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// jsonResult returns the structured output with its JSON serialization in a
// TextContent block for clients that ignore structured content.
func jsonResult[T any](output T) (*mcp.CallToolResult, T, error) {
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		var zero T
		return errorResult(fmt.Sprintf("Failed to serialize results: %v", err)), zero, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}

// Package api provides the HTTP API server for playing the story and
// managing its memory.
package api

import (
	"github.com/papercomputeco/storyloom/api/search"
	"github.com/papercomputeco/storyloom/pkg/memory"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// Exchanger runs the narrative pipeline for POST /api/chat.
	Exchanger Exchanger

	// Memory serves memory search and keeps the recall index in step with
	// edits. Optional.
	Memory *memory.Consolidator

	// Retriever ranks turns for GET /api/turns/search and the MCP
	// search_turns tool. Optional.
	Retriever search.TurnRetriever

	// SettingsPath, when set, is rewritten on PUT /api/settings so the
	// settings file stays the source of truth.
	SettingsPath string

	// EnableMCP mounts the MCP server at /mcp.
	EnableMCP bool
}

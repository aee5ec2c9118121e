// Package mcp provides an MCP (Model Context Protocol) server exposing story
// search and memory recall tools.
package mcp

import (
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/api/search"
	"github.com/papercomputeco/storyloom/pkg/storage"
	"github.com/papercomputeco/storyloom/pkg/utils"
)

type Config struct {
	// Storage loads the turns searched by search_turns.
	Storage storage.Driver

	// Retriever ranks turns for a query.
	Retriever search.TurnRetriever

	// Recaller enables the memory_recall tool when set.
	Recaller search.Recaller

	// Noop for empty MCP server
	Noop bool

	// Logger is the configured zap logger
	Logger *zap.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the story tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storyloom",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if !c.Noop {
		if c.Storage == nil {
			return nil, errors.New("storage driver is required")
		}
		if c.Retriever == nil {
			return nil, errors.New("turn retriever is required")
		}
		if c.Logger == nil {
			return nil, errors.New("logger is required")
		}

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        searchTurnsToolName,
			Description: searchTurnsDescription,
		}, s.handleSearchTurns)

		if c.Recaller != nil {
			mcp.AddTool(mcpServer, &mcp.Tool{
				Name:        memoryRecallToolName,
				Description: memoryRecallDescription,
			}, s.handleMemoryRecall)
		}
	}

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

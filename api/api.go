package api

import (
	"context"
	"errors"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apimcp "github.com/papercomputeco/storyloom/api/mcp"
	"github.com/papercomputeco/storyloom/pkg/agent"
	"github.com/papercomputeco/storyloom/pkg/storage"
)

// Exchanger runs one player message through the narrative pipeline.
type Exchanger interface {
	Exchange(ctx context.Context, message string) (*agent.Exchange, error)
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is the API server for the storyloom system
type Server struct {
	config Config
	store  storage.Driver
	logger *zap.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
// The store is injected to allow sharing with the orchestrator.
func NewServer(config Config, store storage.Driver, logger *zap.Logger) (*Server, error) {
	if store == nil {
		return nil, errors.New("storage driver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		store:  store,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	apiGroup := app.Group("/api")
	apiGroup.Post("/chat", s.handleChat)

	apiGroup.Get("/messages", s.handleListMessages)
	apiGroup.Patch("/messages/:id/location", s.handleSetMessageLocation)
	apiGroup.Get("/turns/search", s.handleSearchTurns)

	apiGroup.Get("/settings", s.handleGetSettings)
	apiGroup.Put("/settings", s.handlePutSettings)

	apiGroup.Get("/memory-logs", s.handleListMemoryLogs)
	apiGroup.Get("/memory-logs/search", s.handleSearchMemoryLogs)
	apiGroup.Patch("/memory-logs/:id", s.handleUpdateMemoryLog)
	apiGroup.Delete("/memory-logs/:id", s.handleDeleteMemoryLog)
	apiGroup.Get("/memory-logs/:id/transcripts", s.handleListTranscripts)

	if config.EnableMCP && config.Retriever != nil {
		mcpConfig := apimcp.Config{
			Storage:   store,
			Retriever: config.Retriever,
			Logger:    logger,
		}
		if config.Memory != nil && config.Memory.RecallEnabled() {
			mcpConfig.Recaller = config.Memory
		}

		mcpServer, err := apimcp.NewServer(mcpConfig)
		if err != nil {
			return nil, err
		}
		app.All("/mcp", adaptor.HTTPHandler(mcpServer.Handler()))
	}

	return s, nil
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(ErrorResponse{Error: msg})
}

// storageStatus maps storage sentinels to HTTP statuses.
func storageStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, storage.ErrInvalid):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

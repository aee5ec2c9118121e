package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/agent"
	"github.com/papercomputeco/storyloom/pkg/llm"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// handleChat runs one exchange. Empty messages are 400, credential
// problems 401, anything else 500.
func (s *Server) handleChat(c *fiber.Ctx) error {
	if s.config.Exchanger == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "chat is not configured")
	}

	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "message is required")
	}

	ex, err := s.config.Exchanger.Exchange(c.UserContext(), req.Message)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrEmptyMessage):
			return errorJSON(c, fiber.StatusBadRequest, "message is required")
		case errors.Is(err, llm.ErrMissingCredential), errors.Is(err, llm.ErrInvalidCredential):
			s.logger.Warn("chat rejected: provider credential", zap.Error(err))
			return errorJSON(c, fiber.StatusUnauthorized, err.Error())
		default:
			s.logger.Error("chat failed", zap.Error(err))
			return errorJSON(c, fiber.StatusInternalServerError, "failed to generate a response")
		}
	}

	return c.JSON(ex)
}

package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/storyloom/api/search"
	"github.com/papercomputeco/storyloom/pkg/narrative"
)

// MessagesResponse is the body of GET /api/messages.
type MessagesResponse struct {
	Count    int              `json:"count"`
	Messages []narrative.Turn `json:"messages"`
}

// SetLocationRequest is the body of PATCH /api/messages/:id/location.
type SetLocationRequest struct {
	Location string `json:"location"`
}

// handleListMessages returns every turn, oldest first.
func (s *Server) handleListMessages(c *fiber.Ctx) error {
	turns, err := s.store.Turns(c.UserContext())
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "failed to list messages")
	}

	return c.JSON(MessagesResponse{
		Count:    len(turns),
		Messages: turns,
	})
}

// handleSetMessageLocation corrects the location recorded on a turn.
func (s *Server) handleSetMessageLocation(c *fiber.Ctx) error {
	var req SetLocationRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}

	turn, err := s.store.SetTurnLocation(c.UserContext(), c.Params("id"), req.Location)
	if err != nil {
		return errorJSON(c, storageStatus(err), err.Error())
	}

	return c.JSON(turn)
}

// semanticRetriever is a retriever that can report whether its semantic
// matching is configured.
type semanticRetriever interface {
	SemanticEnabled() bool
}

func (s *Server) turnSearchEnabled() bool {
	if s.config.Retriever == nil {
		return false
	}
	sr, ok := s.config.Retriever.(semanticRetriever)
	return !ok || sr.SemanticEnabled()
}

// handleSearchTurns handles GET /api/turns/search?q=&limit=. It needs the
// recall stack, since results include semantic matches from the turn cache.
func (s *Server) handleSearchTurns(c *fiber.Ctx) error {
	if !s.turnSearchEnabled() {
		return errorJSON(c, fiber.StatusServiceUnavailable, "turn search is not configured: embedder is required")
	}

	limit, err := positiveQueryInt(c, "limit", search.DefaultTurnLimit)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	output, err := search.Turns(c.UserContext(), c.Query("q"), limit, s.config.Retriever, s.store, s.logger)
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(output)
}

func positiveQueryInt(c *fiber.Ctx, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return n, nil
}

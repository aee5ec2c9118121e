package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/api/search"
	"github.com/papercomputeco/storyloom/pkg/memory"
	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/storage"
)

// handleListMemoryLogs returns every memory log entry, newest first.
func (s *Server) handleListMemoryLogs(c *fiber.Ctx) error {
	entries, err := s.store.ListMemoryLogs(c.UserContext())
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "failed to list memory logs")
	}

	return c.JSON(map[string]any{
		"count":       len(entries),
		"memory_logs": entries,
	})
}

// handleSearchMemoryLogs handles GET /api/memory-logs/search?q=&k=.
func (s *Server) handleSearchMemoryLogs(c *fiber.Ctx) error {
	if s.config.Memory == nil || !s.config.Memory.RecallEnabled() {
		return errorJSON(c, fiber.StatusServiceUnavailable, "memory search is not configured: embedder and vector store are required")
	}

	k, err := positiveQueryInt(c, "k", search.DefaultMemoryK)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	output, err := search.Memories(c.UserContext(), c.Query("q"), k, s.config.Memory)
	if err != nil {
		switch {
		case errors.Is(err, search.ErrEmptyQuery):
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, memory.ErrNotConfigured):
			return errorJSON(c, fiber.StatusServiceUnavailable, err.Error())
		default:
			return errorJSON(c, fiber.StatusInternalServerError, err.Error())
		}
	}

	return c.JSON(output)
}

// handleUpdateMemoryLog applies a partial update. A changed summary drops the
// stored embedding, then re-embeds it into the recall index and storage.
func (s *Server) handleUpdateMemoryLog(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var update storage.MemoryLogUpdate
	if err := c.BodyParser(&update); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if update.Summary != nil {
		update.Embedding = &[]float32{}
	}

	entry, err := s.store.UpdateMemoryLog(ctx, c.Params("id"), update)
	if err != nil {
		return errorJSON(c, storageStatus(err), err.Error())
	}

	if update.Summary != nil && s.config.Memory != nil {
		entry = s.reembed(ctx, entry)
	}

	return c.JSON(entry)
}

func (s *Server) reembed(ctx context.Context, entry *narrative.MemoryLogEntry) *narrative.MemoryLogEntry {
	emb, err := s.config.Memory.Reembed(ctx, entry)
	if err != nil {
		s.logger.Warn("failed to reindex memory log",
			zap.String("memory_log_id", entry.ID),
			zap.Error(err),
		)
		return entry
	}
	if len(emb) == 0 {
		return entry
	}

	updated, err := s.store.UpdateMemoryLog(ctx, entry.ID, storage.MemoryLogUpdate{Embedding: &emb})
	if err != nil {
		s.logger.Warn("failed to store memory log embedding",
			zap.String("memory_log_id", entry.ID),
			zap.Error(err),
		)
		return entry
	}
	return updated
}

// handleDeleteMemoryLog deletes an entry, its transcripts and its index
// vector.
func (s *Server) handleDeleteMemoryLog(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")

	if err := s.store.DeleteMemoryLog(ctx, id); err != nil {
		return errorJSON(c, storageStatus(err), err.Error())
	}

	if s.config.Memory != nil {
		if err := s.config.Memory.Forget(ctx, id); err != nil {
			s.logger.Warn("failed to remove memory log from index",
				zap.String("memory_log_id", id),
				zap.Error(err),
			)
		}
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// handleListTranscripts returns the archived transcripts of an entry.
func (s *Server) handleListTranscripts(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")

	if _, err := s.store.GetMemoryLog(ctx, id); err != nil {
		return errorJSON(c, storageStatus(err), err.Error())
	}

	transcripts, err := s.store.Transcripts(ctx, id)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "failed to list transcripts")
	}

	return c.JSON(map[string]any{
		"count":       len(transcripts),
		"transcripts": transcripts,
	})
}

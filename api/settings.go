package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/settings"
)

// handleGetSettings returns the runtime settings with the API key redacted.
func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	current, err := s.store.Settings(c.UserContext())
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "failed to load settings")
	}

	return c.JSON(current.Redacted())
}

// handlePutSettings replaces the runtime settings. Sending back the redacted
// key keeps the stored one.
func (s *Server) handlePutSettings(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var next narrative.RuntimeSettings
	if err := c.BodyParser(&next); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}

	current, err := s.store.Settings(ctx)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "failed to load settings")
	}
	if next.ProviderAPIKey == current.Redacted().ProviderAPIKey && current.ProviderAPIKey != "" {
		next.ProviderAPIKey = current.ProviderAPIKey
	}

	// The file is the source of truth, so it is written before storage.
	if s.config.SettingsPath != "" {
		if err := settings.Save(s.config.SettingsPath, &next); err != nil {
			s.logger.Error("failed to write settings file",
				zap.String("path", s.config.SettingsPath),
				zap.Error(err),
			)
			return errorJSON(c, fiber.StatusInternalServerError, "failed to write settings file")
		}
	}

	if err := s.store.SaveSettings(ctx, &next); err != nil {
		return errorJSON(c, storageStatus(err), err.Error())
	}

	return c.JSON(next.Redacted())
}

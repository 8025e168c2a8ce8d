package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/memory"
	"github.com/billing-agent/backend/pkg/logger"
)

type SessionHandler struct {
	store memory.Store
}

func NewSessionHandler(store memory.Store) *SessionHandler {
	return &SessionHandler{store: store}
}

func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	ids, err := h.store.ListSessions(c.UserContext())
	if err != nil {
		logger.Error("Failed to list sessions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list sessions",
		})
	}
	stats, err := h.store.SessionStats(c.UserContext())
	if err != nil {
		logger.Error("Failed to load session stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list sessions",
		})
	}

	return c.JSON(fiber.Map{
		"sessions": ids,
		"stats":    stats,
	})
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	id := c.Params("id")
	s, err := h.store.GetSession(c.UserContext(), id)
	if err != nil {
		logger.Error("Failed to load session", zap.String("session_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load session",
		})
	}
	if s == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}

	return c.JSON(fiber.Map{
		"session": s,
		"context": s.ContextSummary(),
	})
}

func (h *SessionHandler) DeleteSession(c *fiber.Ctx) error {
	id := c.Params("id")
	deleted, err := h.store.DeleteSession(c.UserContext(), id)
	if err != nil {
		logger.Error("Failed to delete session", zap.String("session_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete session",
		})
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

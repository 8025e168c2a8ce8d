package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/storage/models"
	"github.com/billing-agent/backend/internal/workflow"
	"github.com/billing-agent/backend/pkg/logger"
)

type queryRunner interface {
	RunQuery(ctx context.Context, query, sessionID string) (*workflow.Result, error)
}

type historyReader interface {
	GetQueryHistory(ctx context.Context, sessionID string, limit int) ([]models.QueryRecord, error)
}

type QueryHandler struct {
	runner  queryRunner
	history historyReader
}

func NewQueryHandler(runner queryRunner, history historyReader) *QueryHandler {
	return &QueryHandler{
		runner:  runner,
		history: history,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query     string `json:"query"`
		SessionID string `json:"session_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	result, err := h.runner.RunQuery(c.UserContext(), req.Query, req.SessionID)
	if err != nil {
		return queryError(c, err)
	}

	return c.JSON(result)
}

// queryError maps workflow failures to status codes. Rejections are not
// errors and never reach here.
func queryError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, workflow.ErrEmptyQuery):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	case errors.Is(err, workflow.ErrExternalService):
		stage := ""
		var qerr *workflow.QueryError
		if errors.As(err, &qerr) {
			stage = qerr.Stage
		}
		logger.Error("Upstream service failed", zap.String("stage", stage), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Upstream service unavailable",
			"stage": stage,
		})
	default:
		logger.Error("Failed to process query", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process query",
		})
	}
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id is required",
		})
	}
	limit, _ := strconv.Atoi(c.Query("limit", "20"))

	records, err := h.history.GetQueryHistory(c.UserContext(), sessionID, limit)
	if err != nil {
		logger.Error("Failed to load query history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load query history",
		})
	}

	history := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		history = append(history, fiber.Map{
			"id":         r.ID,
			"query":      r.QueryText,
			"intent":     r.Intent,
			"response":   r.Response,
			"approved":   r.Approved,
			"top_score":  r.TopScore,
			"latency_ms": r.LatencyMS,
			"created_at": r.CreatedAt,
			"sources":    len(r.Sources),
		})
	}
	return c.JSON(fiber.Map{
		"history": history,
	})
}

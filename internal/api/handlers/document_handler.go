package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/ingestion"
	"github.com/billing-agent/backend/pkg/logger"
)

type documentIngester interface {
	Ingest(ctx context.Context, namespace string, docs []ingestion.Document, reset bool) (*ingestion.Report, error)
}

type DocumentHandler struct {
	ingester         documentIngester
	defaultNamespace string
}

func NewDocumentHandler(ingester documentIngester, defaultNamespace string) *DocumentHandler {
	return &DocumentHandler{
		ingester:         ingester,
		defaultNamespace: defaultNamespace,
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req struct {
		Namespace string `json:"namespace"`
		DocID     string `json:"doc_id"`
		Content   string `json:"content"`
		Source    string `json:"source"`
		HTML      bool   `json:"html"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.DocID == "" || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "doc_id and content are required",
		})
	}
	if req.Namespace == "" {
		req.Namespace = h.defaultNamespace
	}

	report, err := h.ingester.Ingest(c.UserContext(), req.Namespace, []ingestion.Document{{
		DocID:   req.DocID,
		Content: req.Content,
		Source:  req.Source,
		HTML:    req.HTML,
	}}, false)
	if err != nil {
		logger.Error("Failed to ingest document", zap.String("doc_id", req.DocID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest document",
		})
	}

	return c.JSON(fiber.Map{
		"message":   "Document ingested successfully",
		"doc_id":    req.DocID,
		"namespace": report.Namespace,
		"chunks":    report.Chunks,
	})
}

package validation

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var markupPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

const maxSessionIDLength = 128

type Config struct {
	MaxQueryLength      int
	MaxDocumentSize     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

type queryBody struct {
	Query     *string `json:"query"`
	SessionID string  `json:"session_id"`
}

type documentBody struct {
	DocID   string `json:"doc_id"`
	Content string `json:"content"`
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		if !allowedContentType(c.Get(fiber.HeaderContentType), cfg.AllowedContentTypes) {
			return reject(c, fiber.StatusUnsupportedMediaType, "Unsupported content type")
		}

		switch path := c.Path(); {
		case strings.HasSuffix(path, "/query"):
			var req queryBody
			if err := json.Unmarshal(c.Body(), &req); err != nil {
				return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
			}
			if req.Query == nil || strings.TrimSpace(*req.Query) == "" {
				return reject(c, fiber.StatusBadRequest, "Query is required and must be a string")
			}
			if utf8.RuneCountInString(*req.Query) > cfg.MaxQueryLength {
				return reject(c, fiber.StatusBadRequest, "Query exceeds maximum length")
			}
			if len(req.SessionID) > maxSessionIDLength {
				return reject(c, fiber.StatusBadRequest, "session_id is too long")
			}
			if markupPattern.MatchString(*req.Query) {
				cfg.Logger.Warn("Rejected query containing markup", zap.String("ip", c.IP()))
				return reject(c, fiber.StatusBadRequest, "Invalid query content")
			}

		case strings.HasSuffix(path, "/documents"):
			if len(c.Body()) > cfg.MaxDocumentSize {
				return reject(c, fiber.StatusRequestEntityTooLarge, "Document content exceeds maximum size")
			}
			var req documentBody
			if err := json.Unmarshal(c.Body(), &req); err != nil {
				return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
			}
			if req.DocID == "" {
				return reject(c, fiber.StatusBadRequest, "doc_id is required")
			}
		}

		return c.Next()
	}
}

func allowedContentType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.HasPrefix(strings.ToLower(contentType), t) {
			return true
		}
	}
	return false
}

func reject(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

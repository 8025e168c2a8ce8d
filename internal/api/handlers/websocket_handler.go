package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/workflow"
	"github.com/billing-agent/backend/pkg/logger"
)

type WebSocketHandler struct {
	runner queryRunner
}

func NewWebSocketHandler(runner queryRunner) *WebSocketHandler {
	return &WebSocketHandler{
		runner: runner,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type      string `json:"type"`
			Content   string `json:"content"`
			SessionID string `json:"session_id"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "query" {
			continue
		}

		logger.Info("Processing WebSocket query", zap.String("session_id", msg.SessionID))

		err = h.streamResponse(c, msg.Content, msg.SessionID)
		if err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			h.sendError(c, err)
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, queryText, sessionID string) error {
	ctx := context.Background()

	if err := h.sendChunk(c, "status", "Processing query..."); err != nil {
		return err
	}

	result, err := h.runner.RunQuery(ctx, queryText, sessionID)
	if err != nil {
		return err
	}

	if result.Handoff != "" {
		if err := h.sendChunk(c, "status", result.Handoff); err != nil {
			return err
		}
	}

	words := splitIntoWords(result.FinalResponse)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}
		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return h.sendComplete(c, result)
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	msg := map[string]interface{}{
		"type":    msgType,
		"content": content,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, result *workflow.Result) error {
	msg := map[string]interface{}{
		"type":       "complete",
		"message_id": result.ID,
		"citations":  result.Citations,
		"approved":   result.Approved,
		"intent":     result.Intent,
		"trace":      result.Trace,
		"latency_ms": result.LatencyMS,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, err error) {
	text := "Failed to process query"
	switch {
	case errors.Is(err, workflow.ErrEmptyQuery):
		text = "Query is required"
	case errors.Is(err, workflow.ErrExternalService):
		text = "Upstream service unavailable"
	}
	msg := map[string]interface{}{
		"type":  "error",
		"error": text,
	}

	_ = c.WriteJSON(msg)
}

// splitIntoWords splits on spaces and keeps newlines as their own tokens.
func splitIntoWords(text string) []string {
	var words []string
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			words = append(words, "\n")
		}
		words = append(words, strings.Fields(line)...)
	}
	return words
}

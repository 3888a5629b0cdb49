package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/internal/query"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
)

type WebSocketHandler struct {
	queryEngine *query.Engine
	timeout     time.Duration
}

func NewWebSocketHandler(queryEngine *query.Engine, timeout time.Duration) *WebSocketHandler {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &WebSocketHandler{
		queryEngine: queryEngine,
		timeout:     timeout,
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
			Type    string `json:"type"`
			Content string `json:"content"`
			UserID  string `json:"user_id"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if msg.Type != "query" {
			continue
		}

		if err := h.streamResponse(c, msg.Content, msg.UserID); err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			h.sendError(c, "Failed to process query")
		}
	}
}

// streamResponse sends status frames while the engine works, then the answer
// word by word, then the sources.
func (h *WebSocketHandler) streamResponse(c *websocket.Conn, queryText, userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.sendChunk(c, "status", "searching documents"); err != nil {
		return err
	}

	response, err := h.queryEngine.ProcessQuery(ctx, query.QueryRequest{
		Query:  queryText,
		UserID: userID,
		Progress: func(status string) {
			_ = h.sendChunk(c, "status", status)
		},
	})
	if err != nil {
		return err
	}

	words := splitIntoWords(response.Answer.Text)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}
		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return c.WriteJSON(map[string]interface{}{
		"type":       "complete",
		"message_id": response.ID,
		"sources":    response.Answer.Sources,
		"degraded":   response.Answer.Degraded,
		"latency_ms": response.LatencyMS,
	})
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	_ = c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}

// splitIntoWords splits on spaces and keeps line breaks as their own items.
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

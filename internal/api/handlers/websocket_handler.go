package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/draftsmith/backend/internal/chat"
	"github.com/draftsmith/backend/pkg/logger"
)

// WebSocketHandler streams chat responses word by word. The turn
// itself is synchronous; streaming chunks the finished content so
// clients render progressively.
type WebSocketHandler struct {
	service *chat.Service
}

func NewWebSocketHandler(service *chat.Service) *WebSocketHandler {
	return &WebSocketHandler{
		service: service,
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
			Type           string   `json:"type"`
			ConversationID string   `json:"conversation_id"`
			Content        string   `json:"content"`
			DocumentIDs    []string `json:"document_ids"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			logger.Error("Failed to read WebSocket message", zap.Error(err))
			break
		}

		if msg.Type != "message" || msg.Content == "" {
			continue
		}

		if err := h.streamTurn(c, msg.ConversationID, msg.Content, msg.DocumentIDs); err != nil {
			logger.Error("Failed to stream chat turn", zap.Error(err))
			h.sendError(c, "Failed to process message")
		}
	}
}

func (h *WebSocketHandler) streamTurn(c *websocket.Conn, conversationID, content string, documentIDs []string) error {
	h.sendChunk(c, "status", "Retrieving sources...")

	result, err := h.service.RunTurn(context.Background(), chat.TurnRequest{
		ConversationID: conversationID,
		Message:        content,
		DocumentIDs:    documentIDs,
	})
	if err != nil {
		return err
	}

	words := splitIntoWords(result.Message.Content)
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
		"type":             "complete",
		"conversation_id":  result.ConversationID,
		"message_id":       result.Message.ID,
		"references":       referencesJSON(result.References),
		"confidence":       confidenceJSON(result.Confidence),
		"coverage_pct":     result.CoveragePct,
		"coverage_summary": result.CoverageSummary,
		"model_used":       result.ModelUsed,
	})
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}

func splitIntoWords(text string) []string {
	words := []string{}
	current := ""

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if current != "" {
				words = append(words, current)
				current = ""
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			current += string(char)
		}
	}

	if current != "" {
		words = append(words, current)
	}

	return words
}

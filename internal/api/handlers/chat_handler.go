package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/draftsmith/backend/internal/chat"
	"github.com/draftsmith/backend/internal/storage/models"
	"github.com/draftsmith/backend/pkg/logger"
)

type ChatHandler struct {
	service *chat.Service
}

func NewChatHandler(service *chat.Service) *ChatHandler {
	return &ChatHandler{
		service: service,
	}
}

func (h *ChatHandler) HandleMessage(c *fiber.Ctx) error {
	var req struct {
		ConversationID string   `json:"conversation_id"`
		Message        string   `json:"message"`
		DocumentIDs    []string `json:"document_ids"`
		HistoryTurns   int      `json:"history_turns"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is required",
		})
	}

	result, err := h.service.RunTurn(c.Context(), chat.TurnRequest{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		DocumentIDs:    req.DocumentIDs,
		HistoryTurns:   req.HistoryTurns,
	})
	if err != nil {
		logger.Error("Failed to process chat turn", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Chat is temporarily unavailable. Please retry.",
		})
	}

	return c.JSON(turnJSON(result))
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	conversations, err := h.service.ListConversations(limit)
	if err != nil {
		logger.Error("Failed to list conversations", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list conversations",
		})
	}

	out := make([]fiber.Map, len(conversations))
	for i, conv := range conversations {
		out[i] = fiber.Map{
			"id":               conv.ID,
			"title":            conv.Title,
			"document_ids":     conv.DocumentIDs,
			"coverage_pct":     conv.CoveragePct,
			"coverage_summary": conv.CoverageSummary,
			"created_at":       conv.CreatedAt,
			"updated_at":       conv.UpdatedAt,
		}
	}

	return c.JSON(fiber.Map{
		"conversations": out,
	})
}

func (h *ChatHandler) GetConversation(c *fiber.Ctx) error {
	conv, err := h.service.GetConversation(c.Params("id"))
	if err != nil {
		logger.Error("Failed to load conversation", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load conversation",
		})
	}
	if conv == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Conversation not found",
		})
	}

	return c.JSON(fiber.Map{
		"id":               conv.ID,
		"title":            conv.Title,
		"document_ids":     conv.DocumentIDs,
		"messages":         messagesJSON(conv.Messages),
		"coverage_pct":     conv.CoveragePct,
		"coverage_summary": conv.CoverageSummary,
		"created_at":       conv.CreatedAt,
		"updated_at":       conv.UpdatedAt,
	})
}

func (h *ChatHandler) RenameConversation(c *fiber.Ctx) error {
	var req struct {
		Title string `json:"title"`
	}

	if err := c.BodyParser(&req); err != nil || req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Title is required",
		})
	}

	if err := h.service.RenameConversation(c.Params("id"), req.Title); err != nil {
		logger.Error("Failed to rename conversation", zap.Error(err))
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Conversation not found",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Conversation renamed",
	})
}

func (h *ChatHandler) DeleteConversation(c *fiber.Ctx) error {
	if err := h.service.DeleteConversation(c.Params("id")); err != nil {
		logger.Error("Failed to delete conversation", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete conversation",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Conversation deleted",
	})
}

func (h *ChatHandler) GetSuggestions(c *fiber.Ctx) error {
	questions, err := h.service.Suggestions(c.Context(), c.Params("id"))
	if err != nil {
		logger.Error("Failed to get suggestions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get suggestions",
		})
	}

	return c.JSON(fiber.Map{
		"suggestions": questions,
	})
}

func turnJSON(result *chat.TurnResult) fiber.Map {
	return fiber.Map{
		"conversation_id":    result.ConversationID,
		"message":            messageJSON(result.Message),
		"references":         referencesJSON(result.References),
		"confidence":         confidenceJSON(result.Confidence),
		"coverage_pct":       result.CoveragePct,
		"coverage_summary":   result.CoverageSummary,
		"model_used":         result.ModelUsed,
		"history_messages":   result.HistoryMessages,
		"history_truncated":  result.HistoryTruncated,
		"generation_time_ms": result.GenerationTimeMS,
	}
}

func messagesJSON(messages []models.ChatMessage) []fiber.Map {
	out := make([]fiber.Map, len(messages))
	for i, msg := range messages {
		out[i] = messageJSON(msg)
	}
	return out
}

func messageJSON(msg models.ChatMessage) fiber.Map {
	return fiber.Map{
		"id":           msg.ID,
		"role":         msg.Role,
		"content":      msg.Content,
		"fragment_ids": msg.FragmentIDs,
		"created_at":   msg.CreatedAt,
	}
}

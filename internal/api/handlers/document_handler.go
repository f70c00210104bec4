package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/draftsmith/backend/internal/ingestion"
	"github.com/draftsmith/backend/internal/storage/sqlite"
	"github.com/draftsmith/backend/pkg/logger"
)

type DocumentHandler struct {
	processor *ingestion.Processor
	db        *sqlite.Client
}

func NewDocumentHandler(processor *ingestion.Processor, db *sqlite.Client) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
		db:        db,
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req struct {
		Title       string `json:"title"`
		Source      string `json:"source"`
		Content     string `json:"content"`
		ContentType string `json:"content_type"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Source == "" || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Source and content are required",
		})
	}
	if req.ContentType == "" {
		req.ContentType = "text/plain"
	}

	doc, fragmentCount, err := h.processor.ProcessDocument(c.Context(), req.Title, req.Source, req.Content, req.ContentType)
	if err != nil {
		logger.Error("Failed to process document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process document",
		})
	}

	return c.JSON(fiber.Map{
		"message":     "Document processed successfully",
		"document_id": doc.ID,
		"title":       doc.Title,
		"summary":     doc.Summary,
		"fragments":   fragmentCount,
	})
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	documents, err := h.db.ListDocuments()
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list documents",
		})
	}

	out := make([]fiber.Map, len(documents))
	for i, doc := range documents {
		out[i] = fiber.Map{
			"id":         doc.ID,
			"title":      doc.Title,
			"source":     doc.Source,
			"summary":    doc.Summary,
			"created_at": doc.CreatedAt,
			"updated_at": doc.UpdatedAt,
		}
	}

	return c.JSON(fiber.Map{
		"documents": out,
	})
}

func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	doc, err := h.db.GetDocument(c.Params("id"))
	if err != nil {
		logger.Error("Failed to load document", zap.Error(err))
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Document not found",
		})
	}

	return c.JSON(fiber.Map{
		"id":         doc.ID,
		"title":      doc.Title,
		"source":     doc.Source,
		"summary":    doc.Summary,
		"created_at": doc.CreatedAt,
		"updated_at": doc.UpdatedAt,
	})
}

func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	if err := h.processor.DeleteDocument(c.Context(), c.Params("id")); err != nil {
		logger.Error("Failed to delete document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete document",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Document deleted",
	})
}

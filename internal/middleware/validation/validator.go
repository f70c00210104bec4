package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/draftsmith/backend/pkg/logger"
)

var scriptPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxPromptLength int
	MaxDocumentSize int
}

// Middleware applies cheap structural checks before a request reaches
// a handler: content type, prompt length, and document size bounds.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxPromptLength == 0 {
		cfg.MaxPromptLength = 5000
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get("Content-Type")
			if contentType != "" && !strings.Contains(contentType, "application/json") &&
				!strings.Contains(contentType, "multipart/form-data") {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		path := c.Path()

		if c.Method() == fiber.MethodPost &&
			(strings.HasPrefix(path, "/api/generate") || strings.HasPrefix(path, "/api/chat")) {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			text := stringField(req, "prompt")
			if text == "" {
				text = stringField(req, "message")
			}
			if text == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Prompt is required and must be a string",
				})
			}

			if len(text) > cfg.MaxPromptLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Prompt exceeds maximum length",
				})
			}

			if scriptPattern.MatchString(text) {
				logger.Warn("Rejected prompt with embedded markup",
					zap.String("ip", c.IP()),
					zap.String("path", path),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid prompt content",
				})
			}
		}

		if c.Method() == fiber.MethodPost && strings.HasPrefix(path, "/api/documents") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			content := stringField(req, "content")
			if content == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Content is required and must be a string",
				})
			}
			if len(content) > cfg.MaxDocumentSize {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Document content exceeds maximum size",
				})
			}
		}

		return c.Next()
	}
}

func stringField(req map[string]interface{}, key string) string {
	value, _ := req[key].(string)
	return strings.TrimSpace(value)
}

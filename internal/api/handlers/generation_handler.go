package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/draftsmith/backend/internal/confidence"
	"github.com/draftsmith/backend/internal/coverage"
	"github.com/draftsmith/backend/internal/generation"
	"github.com/draftsmith/backend/internal/storage/models"
	"github.com/draftsmith/backend/internal/storage/sqlite"
	"github.com/draftsmith/backend/pkg/logger"
)

type GenerationHandler struct {
	orchestrator *generation.Orchestrator
	db           *sqlite.Client
}

func NewGenerationHandler(orchestrator *generation.Orchestrator, db *sqlite.Client) *GenerationHandler {
	return &GenerationHandler{
		orchestrator: orchestrator,
		db:           db,
	}
}

func (h *GenerationHandler) HandleGenerate(c *fiber.Ctx) error {
	var req struct {
		Prompt            string   `json:"prompt"`
		DocumentIDs       []string `json:"document_ids"`
		TopK              int      `json:"top_k"`
		Threshold         float64  `json:"threshold"`
		RetrievalOverride string   `json:"retrieval_override"`
		Escalate          bool     `json:"escalate"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Prompt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Prompt is required",
		})
	}

	result, err := h.orchestrator.Run(c.Context(), generation.Request{
		Prompt:            req.Prompt,
		DocumentIDs:       req.DocumentIDs,
		TopK:              req.TopK,
		Threshold:         req.Threshold,
		RetrievalOverride: req.RetrievalOverride,
		Escalate:          req.Escalate,
	})
	if err != nil {
		logger.Error("Failed to generate", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Generation is temporarily unavailable. Please retry.",
		})
	}

	h.recordGeneration(req.Prompt, result)

	return c.JSON(fiber.Map{
		"id":                 result.ID,
		"sections":           sectionsJSON(result.Sections),
		"references":         referencesJSON(result.References),
		"coverage":           coverageJSON(result.Coverage),
		"confidence":         confidenceJSON(result.Confidence),
		"intent":             result.Classification.Intent,
		"retrieval_type":     result.Classification.SuggestedRetrieval,
		"model_used":         result.ModelUsed,
		"warnings":           result.Warnings,
		"generation_time_ms": result.GenerationTimeMS,
	})
}

func (h *GenerationHandler) HandleRegenerateSection(c *fiber.Ctx) error {
	var req struct {
		SectionID       string   `json:"section_id"`
		OriginalContent string   `json:"original_content"`
		Refinement      string   `json:"refinement"`
		DocumentIDs     []string `json:"document_ids"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.SectionID == "" || req.OriginalContent == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Section ID and original content are required",
		})
	}

	section, err := h.orchestrator.RegenerateSection(c.Context(), generation.RegenerateRequest{
		SectionID:       req.SectionID,
		OriginalContent: req.OriginalContent,
		Refinement:      req.Refinement,
		DocumentIDs:     req.DocumentIDs,
	})
	if err != nil {
		logger.Error("Failed to regenerate section", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Regeneration is temporarily unavailable. Please retry.",
		})
	}

	return c.JSON(fiber.Map{
		"section": sectionJSON(*section),
	})
}

// recordGeneration is best effort: history never blocks a response.
func (h *GenerationHandler) recordGeneration(prompt string, result *generation.Result) {
	record := &models.GenerationRecord{
		ID:               result.ID,
		Prompt:           prompt,
		Intent:           string(result.Classification.Intent),
		RetrievalType:    string(result.Coverage.RetrievalType),
		ConfidenceLevel:  string(result.Confidence.Level),
		ModelUsed:        result.ModelUsed,
		CoveragePct:      result.Coverage.CoveragePct,
		SectionCount:     len(result.Sections),
		SourceCount:      len(result.References),
		GenerationTimeMS: int(result.GenerationTimeMS),
		CreatedAt:        time.Now(),
	}

	if err := h.db.InsertGenerationRecord(record); err != nil {
		logger.Warn("Failed to record generation history", zap.Error(err))
	}
}

func sectionsJSON(sections []generation.Section) []fiber.Map {
	out := make([]fiber.Map, len(sections))
	for i, s := range sections {
		out[i] = sectionJSON(s)
	}
	return out
}

func sectionJSON(s generation.Section) fiber.Map {
	return fiber.Map{
		"id":               s.ID,
		"title":            s.Title,
		"content":          s.Content,
		"cited_references": referencesJSON(s.CitedReferences),
		"confidence":       s.Confidence,
		"warnings":         s.Warnings,
	}
}

func referencesJSON(refs []models.ScoredReference) []fiber.Map {
	out := make([]fiber.Map, len(refs))
	for i, ref := range refs {
		out[i] = fiber.Map{
			"document_id":     ref.DocumentID,
			"fragment_id":     ref.FragmentID,
			"excerpt":         ref.Excerpt,
			"relevance_score": ref.RelevanceScore,
		}
	}
	return out
}

func coverageJSON(cov *coverage.Descriptor) fiber.Map {
	if cov == nil {
		return nil
	}

	perDocument := make(map[string]fiber.Map, len(cov.PerDocument))
	for docID, dc := range cov.PerDocument {
		perDocument[docID] = fiber.Map{
			"title":           dc.Title,
			"fragments_seen":  dc.FragmentsSeen,
			"fragments_total": dc.FragmentsTotal,
			"regions_covered": dc.RegionsCovered,
			"regions_missing": dc.RegionsMissing,
		}
	}

	return fiber.Map{
		"retrieval_type":  cov.RetrievalType,
		"fragments_seen":  cov.FragmentsSeen,
		"fragments_total": cov.FragmentsTotal,
		"coverage_pct":    cov.CoveragePct,
		"per_document":    perDocument,
		"blind_spots":     cov.BlindSpots,
		"summary":         cov.Summary,
	}
}

func confidenceJSON(a confidence.Assessment) fiber.Map {
	return fiber.Map{
		"level":              a.Level,
		"avg_relevance":      a.AvgRelevance,
		"max_relevance":      a.MaxRelevance,
		"high_quality_count": a.HighQualityCount,
		"source_diversity":   a.SourceDiversity,
		"reasoning":          a.Reasoning,
		"suggested_model":    a.SuggestedModel,
	}
}

package confidence

import (
	"github.com/draftsmith/backend/internal/coverage"
	"github.com/draftsmith/backend/internal/storage/models"
)

type Level string

const (
	LevelHigh   Level = "HIGH"
	LevelMedium Level = "MEDIUM"
	LevelLow    Level = "LOW"
)

// Fragments scoring at or above this are counted as high quality.
const highQualityThreshold = 0.70

// Assessment routes generation to a model tier based on retrieval
// quality. All tiers honor the same prompt contract; the routing is a
// cost/quality trade-off only.
type Assessment struct {
	Level            Level
	AvgRelevance     float64
	MaxRelevance     float64
	HighQualityCount int
	CoveragePct      float64
	SourceDiversity  float64
	Reasoning        string
	SuggestedModel   string
}

// ModelTiers maps confidence levels to concrete model names.
type ModelTiers struct {
	Fast     string
	Standard string
	Quality  string
}

type Router struct {
	tiers ModelTiers
}

func NewRouter(tiers ModelTiers) *Router {
	return &Router{tiers: tiers}
}

// Assess scores a retrieved set. HIGH routes to the fast model,
// MEDIUM to the standard model, LOW to the quality model with an
// uncertainty instruction appended to the prompt.
func (r *Router) Assess(refs []models.ScoredReference, cov *coverage.Descriptor) Assessment {
	if len(refs) == 0 {
		return Assessment{
			Level:          LevelLow,
			Reasoning:      "No sources retrieved",
			SuggestedModel: r.tiers.Quality,
		}
	}

	var sum, maxScore float64
	highQuality := 0
	docCounts := make(map[string]int)

	for _, ref := range refs {
		sum += ref.RelevanceScore
		if ref.RelevanceScore > maxScore {
			maxScore = ref.RelevanceScore
		}
		if ref.RelevanceScore >= highQualityThreshold {
			highQuality++
		}
		docCounts[ref.DocumentID]++
	}

	avg := sum / float64(len(refs))

	maxDocCount := 0
	for _, count := range docCounts {
		if count > maxDocCount {
			maxDocCount = count
		}
	}
	diversity := 1 - float64(maxDocCount)/float64(len(refs))

	coveragePct := 0.0
	if cov != nil {
		coveragePct = cov.CoveragePct
	}

	assessment := Assessment{
		AvgRelevance:     avg,
		MaxRelevance:     maxScore,
		HighQualityCount: highQuality,
		CoveragePct:      coveragePct,
		SourceDiversity:  diversity,
	}

	switch {
	case avg >= 0.75 && highQuality >= 3:
		assessment.Level = LevelHigh
		assessment.Reasoning = "Strong relevance with multiple high-quality sources"
		assessment.SuggestedModel = r.tiers.Fast
	case avg >= 0.55 && highQuality >= 1:
		assessment.Level = LevelMedium
		assessment.Reasoning = "Moderate relevance with at least one strong source"
		assessment.SuggestedModel = r.tiers.Standard
	default:
		assessment.Level = LevelLow
		assessment.Reasoning = "Low relevance - using quality model with uncertainty prompts"
		assessment.SuggestedModel = r.tiers.Quality
	}

	return assessment
}

// LowConfidenceSuffix is appended to the system prompt when the
// assessment comes back LOW.
const LowConfidenceSuffix = `
IMPORTANT: Retrieved context has LOW relevance to this query.
- Be conservative in claims
- Explicitly state uncertainty
- Prefer "I don't have enough information" over speculation
- Only make statements directly supported by the provided sources
`

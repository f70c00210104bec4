package generation

import (
	"fmt"

	"github.com/draftsmith/backend/internal/storage/models"
)

// Warning categories attached to generated output. Warnings never
// fail a request; they travel with the section so the caller always
// gets a structurally valid response.
const (
	warnInsufficientContext    = "insufficient_context"
	warnLowRelevanceSources    = "low_relevance_sources"
	warnSourceOverReliance     = "source_over_reliance"
	warnPotentialHallucination = "potential_hallucination"
	warnLowCoverage            = "low_coverage"
)

const (
	minSourcesForHighConfidence = 3
	minAvgRelevance             = 0.7
	maxSingleSourceReliance     = 0.7
)

// checkRetrievalQuality flags weak retrieval before generation runs.
func checkRetrievalQuality(refs []models.ScoredReference) []string {
	var warnings []string

	switch {
	case len(refs) == 0:
		warnings = append(warnings,
			warnInsufficientContext+": No relevant sources found. Generated content may not be well-supported.")
	case len(refs) < minSourcesForHighConfidence:
		warnings = append(warnings, fmt.Sprintf(
			"%s: Only %d source(s) found. Consider adding more relevant documents.",
			warnInsufficientContext, len(refs)))
	}

	if len(refs) > 0 {
		var sum float64
		docCounts := make(map[string]int)
		for _, ref := range refs {
			sum += ref.RelevanceScore
			docCounts[ref.DocumentID]++
		}

		avg := sum / float64(len(refs))
		if avg < minAvgRelevance {
			warnings = append(warnings, fmt.Sprintf(
				"%s: Average source relevance is low (%.2f). Content may not closely match the topic.",
				warnLowRelevanceSources, avg))
		}

		for _, count := range docCounts {
			if float64(count)/float64(len(refs)) > maxSingleSourceReliance {
				warnings = append(warnings,
					warnSourceOverReliance+": Over-reliance on single document. Consider diversifying sources.")
				break
			}
		}
	}

	return warnings
}

// validateSection flags grounding problems in a finished section.
func validateSection(section Section, available []models.ScoredReference) []string {
	var warnings []string

	if len(section.CitedReferences) == 0 {
		warnings = append(warnings,
			warnPotentialHallucination+": No sources cited for this section. Content may contain unsupported claims.")
	}

	switch section.Confidence {
	case SectionLow:
		warnings = append(warnings,
			warnInsufficientContext+": Low confidence section. Review and verify claims manually.")
	case SectionUnknown:
		warnings = append(warnings,
			warnPotentialHallucination+": Could not determine confidence level. Citations may be missing.")
	}

	if len(section.CitedReferences) == 1 && len(available) > 3 {
		warnings = append(warnings,
			warnSourceOverReliance+": Section relies on single source despite multiple being available.")
	}

	return warnings
}

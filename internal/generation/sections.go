package generation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/draftsmith/backend/internal/citation"
	"github.com/draftsmith/backend/internal/storage/models"
)

type SectionConfidence string

const (
	SectionHigh    SectionConfidence = "HIGH"
	SectionMedium  SectionConfidence = "MEDIUM"
	SectionLow     SectionConfidence = "LOW"
	SectionUnknown SectionConfidence = "UNKNOWN"
)

// Section is one unit of generated output tied back to its evidence.
// CitedReferences is never nil: an empty list signals zero grounding
// and always co-occurs with a warning.
type Section struct {
	ID              string
	Title           string
	Content         string
	CitedReferences []models.ScoredReference
	Confidence      SectionConfidence
	Warnings        []string
}

var (
	headingPattern = regexp.MustCompile(`(?m)^#{2,3}\s+.+$`)
	headingPrefix  = regexp.MustCompile(`^#{2,3}\s+`)
)

// parseSections splits generated content on markdown headings.
// Unstructured output (a cover letter, say) stays a single section
// unless it is long enough to warrant paragraph grouping.
func parseSections(content string, refs []models.ScoredReference, generationID string) []Section {
	headings := headingPattern.FindAllStringIndex(content, -1)

	if len(headings) > 0 {
		return parseHeadedSections(content, refs, generationID, headings)
	}

	if len(content) > 1500 {
		return parseLongUnheaded(content, refs, generationID)
	}

	return []Section{newSection(content, "", refs, fmt.Sprintf("%s-0", generationID))}
}

func parseHeadedSections(content string, refs []models.ScoredReference, generationID string, headings [][]int) []Section {
	var sections []Section
	idx := 0

	emit := func(title, body string) {
		body = strings.TrimSpace(body)
		if body == "" {
			return
		}
		sections = append(sections, newSection(body, title, refs, fmt.Sprintf("%s-%d", generationID, idx)))
		idx++
	}

	// Content before the first heading has no title.
	emit("", content[:headings[0][0]])

	for i, h := range headings {
		title := strings.TrimSpace(headingPrefix.ReplaceAllString(content[h[0]:h[1]], ""))
		end := len(content)
		if i+1 < len(headings) {
			end = headings[i+1][0]
		}
		emit(title, content[h[1]:end])
	}

	if len(sections) == 0 {
		return []Section{newSection(strings.TrimSpace(content), "", refs, fmt.Sprintf("%s-0", generationID))}
	}
	return sections
}

func parseLongUnheaded(content string, refs []models.ScoredReference, generationID string) []Section {
	var paragraphs []string
	for _, p := range strings.Split(content, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}

	var sections []Section
	var current []string
	idx := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		body := strings.Join(current, "\n\n")
		sections = append(sections, newSection(body, "", refs, fmt.Sprintf("%s-%d", generationID, idx)))
		current = nil
		idx++
	}

	for _, para := range paragraphs {
		current = append(current, para)
		if len(current) >= 4 {
			flush()
		}
	}
	flush()

	return sections
}

func newSection(content, title string, refs []models.ScoredReference, id string) Section {
	cited, citedCount, fellBack := citation.MapToReferences(content, refs)
	if cited == nil {
		cited = []models.ScoredReference{}
	}

	section := Section{
		ID:              id,
		Title:           title,
		Content:         content,
		CitedReferences: cited,
		Confidence:      assessSectionConfidence(content, citedCount, len(refs)),
		Warnings:        []string{},
	}

	if fellBack && len(refs) > 0 {
		// Uncited sections inherit the top references but never more
		// than MEDIUM confidence.
		if section.Confidence == SectionHigh {
			section.Confidence = SectionMedium
		}
	}

	return section
}

var uncertaintyMarkers = []string{
	"i don't have enough information",
	"insufficient context",
	"cannot find support",
	"no relevant sources",
}

func assessSectionConfidence(content string, citedCount, availableCount int) SectionConfidence {
	if availableCount == 0 {
		return SectionLow
	}

	contentLower := strings.ToLower(content)
	for _, marker := range uncertaintyMarkers {
		if strings.Contains(contentLower, marker) {
			return SectionLow
		}
	}

	switch {
	case citedCount == 0:
		return SectionUnknown
	case citedCount >= 3:
		return SectionHigh
	default:
		return SectionMedium
	}
}

package citation

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/draftsmith/backend/internal/storage/models"
)

// Inline evidence markers take the form "[Source N]" in generation
// prompts; "[Ref N]" is accepted for compatibility with older
// templates. N is 1-based into the retrieved reference list.
var citationPattern = regexp.MustCompile(`\[(?:Source|Ref) (\d+)\]`)

// Extract returns the deduplicated, ascending citation indices found
// in text.
func Extract(text string) []int {
	matches := citationPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[int]bool)
	var indices []int
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		indices = append(indices, n)
	}

	sort.Ints(indices)
	return indices
}

// Sanitize strips markers whose index falls outside [1, maxValid],
// leaving surrounding text intact. The generator can hallucinate
// indices the retrieval set cannot support, so this runs on every
// piece of generated text before it reaches a user. Idempotent.
func Sanitize(text string, maxValid int) string {
	return citationPattern.ReplaceAllStringFunc(text, func(marker string) string {
		sub := citationPattern.FindStringSubmatch(marker)
		n, err := strconv.Atoi(sub[1])
		if err != nil || n < 1 || n > maxValid {
			return ""
		}
		return marker
	})
}

// MapToReferences resolves the citations in a section's content to the
// retrieved references. A section that cites nothing falls back to the
// top 3 references; fellBack tells the caller to cap the section's
// confidence and attach a warning.
func MapToReferences(content string, refs []models.ScoredReference) (cited []models.ScoredReference, citedCount int, fellBack bool) {
	indices := Extract(content)

	for _, idx := range indices {
		if idx >= 1 && idx <= len(refs) {
			cited = append(cited, refs[idx-1])
		}
	}

	if len(cited) == 0 {
		limit := 3
		if len(refs) < limit {
			limit = len(refs)
		}
		cited = append(cited, refs[:limit]...)
		return cited, len(indices), true
	}

	return cited, len(indices), false
}

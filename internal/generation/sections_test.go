package generation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftsmith/backend/internal/storage/models"
)

func testRefs(n int) []models.ScoredReference {
	refs := make([]models.ScoredReference, n)
	for i := range refs {
		refs[i] = models.ScoredReference{
			DocumentID:     "doc1",
			FragmentID:     "frag" + string(rune('a'+i)),
			RelevanceScore: 0.8,
		}
	}
	return refs
}

func TestParseSectionsSplitsOnHeadings(t *testing.T) {
	content := "## First Part\nClaim one [Source 1].\n\n## Second Part\nClaim two [Source 2] and [Source 3] plus [Source 1].\n\n### Sub Part\nMore detail [Source 2]."

	sections := parseSections(content, testRefs(3), "gen1")

	require.Len(t, sections, 3)
	assert.Equal(t, "First Part", sections[0].Title)
	assert.Equal(t, "Second Part", sections[1].Title)
	assert.Equal(t, "Sub Part", sections[2].Title)
	assert.Equal(t, "gen1-0", sections[0].ID)
	assert.Equal(t, "gen1-1", sections[1].ID)
}

func TestParseSectionsPreambleHasNoTitle(t *testing.T) {
	content := "An opening paragraph [Source 1].\n\n## Details\nBody [Source 2]."

	sections := parseSections(content, testRefs(2), "gen1")

	require.Len(t, sections, 2)
	assert.Equal(t, "", sections[0].Title)
	assert.Equal(t, "Details", sections[1].Title)
}

func TestParseSectionsUnstructuredStaysSingle(t *testing.T) {
	content := "A short cover letter with no headings [Source 1]."

	sections := parseSections(content, testRefs(1), "gen1")

	require.Len(t, sections, 1)
	assert.Equal(t, "", sections[0].Title)
	assert.Equal(t, content, sections[0].Content)
}

func TestParseSectionsLongUnheadedGroupsParagraphs(t *testing.T) {
	paragraph := strings.Repeat("Sentence with content [Source 1]. ", 12)
	content := strings.TrimSpace(strings.Repeat(paragraph+"\n\n", 6))
	require.Greater(t, len(content), 1500)

	sections := parseSections(content, testRefs(1), "gen1")

	assert.Greater(t, len(sections), 1)
}

func TestSectionConfidenceLevels(t *testing.T) {
	refs := testRefs(4)

	high := newSection("Facts [Source 1] [Source 2] [Source 3].", "", refs, "s1")
	assert.Equal(t, SectionHigh, high.Confidence)

	medium := newSection("Fact [Source 1].", "", refs, "s2")
	assert.Equal(t, SectionMedium, medium.Confidence)

	unknown := newSection("No citations at all here.", "", refs, "s3")
	assert.Equal(t, SectionUnknown, unknown.Confidence)

	low := newSection("I don't have enough information to answer [Source 1].", "", refs, "s4")
	assert.Equal(t, SectionLow, low.Confidence)
}

func TestSectionNoSourcesAvailableIsLow(t *testing.T) {
	section := newSection("Anything at all.", "", nil, "s1")

	assert.Equal(t, SectionLow, section.Confidence)
	assert.NotNil(t, section.CitedReferences)
	assert.Empty(t, section.CitedReferences)
}

func TestSectionFallbackInheritsTopReferences(t *testing.T) {
	refs := testRefs(5)

	section := newSection("Uncited prose.", "", refs, "s1")

	// Top 3 references attach, confidence is capped below HIGH.
	assert.Len(t, section.CitedReferences, 3)
	assert.Equal(t, refs[0].FragmentID, section.CitedReferences[0].FragmentID)
	assert.NotEqual(t, SectionHigh, section.Confidence)
}

func TestValidateSectionWarnings(t *testing.T) {
	refs := testRefs(5)

	uncited := Section{CitedReferences: []models.ScoredReference{}, Confidence: SectionUnknown}
	warnings := validateSection(uncited, refs)
	assert.Contains(t, strings.Join(warnings, "\n"), "potential_hallucination")

	single := Section{CitedReferences: testRefs(1), Confidence: SectionMedium}
	warnings = validateSection(single, refs)
	assert.Contains(t, strings.Join(warnings, "\n"), "source_over_reliance")
}

func TestCheckRetrievalQuality(t *testing.T) {
	empty := checkRetrievalQuality(nil)
	require.Len(t, empty, 1)
	assert.Contains(t, empty[0], "insufficient_context")

	weak := checkRetrievalQuality([]models.ScoredReference{
		{DocumentID: "doc1", RelevanceScore: 0.3},
		{DocumentID: "doc1", RelevanceScore: 0.3},
		{DocumentID: "doc1", RelevanceScore: 0.3},
	})
	joined := strings.Join(weak, "\n")
	assert.Contains(t, joined, "low_relevance_sources")
	assert.Contains(t, joined, "source_over_reliance")

	strong := checkRetrievalQuality([]models.ScoredReference{
		{DocumentID: "doc1", RelevanceScore: 0.9},
		{DocumentID: "doc2", RelevanceScore: 0.8},
		{DocumentID: "doc3", RelevanceScore: 0.8},
	})
	assert.Empty(t, strong)
}

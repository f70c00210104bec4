package retrieval

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftsmith/backend/internal/coverage"
	"github.com/draftsmith/backend/internal/storage/models"
)

func sampleCorpus(docID string, count int) []models.Fragment {
	fragments := make([]models.Fragment, count)
	for i := 0; i < count; i++ {
		fragments[i] = models.Fragment{
			ID:           fmt.Sprintf("%s-%d", docID, i),
			DocumentID:   docID,
			Content:      fmt.Sprintf("content of fragment %d", i),
			OrdinalIndex: i,
			Tags:         map[string]string{"title": "Sample Doc"},
		}
	}
	return fragments
}

func TestSampleEmptyCorpus(t *testing.T) {
	sampler := NewSampler(coverage.NewComputer(), SamplerConfig{})

	refs, desc := sampler.Sample(nil, 10, false)

	assert.Empty(t, refs)
	require.NotNil(t, desc)
	assert.Equal(t, "No documents are available. Cannot provide analysis.", desc.Summary)
}

func TestSampleCoversIntroAndConclusion(t *testing.T) {
	sampler := NewSampler(coverage.NewComputer(), SamplerConfig{})
	corpus := sampleCorpus("doc1", 20)

	refs, desc := sampler.Sample(corpus, 10, false)

	require.NotEmpty(t, refs)
	assert.LessOrEqual(t, len(refs), 10)

	dc := desc.PerDocument["doc1"]
	assert.Contains(t, dc.RegionsCovered, coverage.RegionIntro)
	assert.Contains(t, dc.RegionsCovered, coverage.RegionConclusion)
}

func TestSampleSmallDocumentTakesAll(t *testing.T) {
	sampler := NewSampler(coverage.NewComputer(), SamplerConfig{})
	corpus := sampleCorpus("doc1", 3)

	refs, desc := sampler.Sample(corpus, 10, false)

	assert.Len(t, refs, 3)
	assert.Equal(t, 100.0, desc.CoveragePct)
}

func TestSampleDeterministic(t *testing.T) {
	sampler := NewSampler(coverage.NewComputer(), SamplerConfig{})
	corpus := append(sampleCorpus("doc-a", 15), sampleCorpus("doc-b", 25)...)

	first, _ := sampler.Sample(corpus, 12, false)
	for i := 0; i < 5; i++ {
		again, _ := sampler.Sample(corpus, 12, false)
		assert.Equal(t, first, again)
	}
}

func TestSampleOrderedByDocumentAndOrdinal(t *testing.T) {
	sampler := NewSampler(coverage.NewComputer(), SamplerConfig{})
	corpus := append(sampleCorpus("doc-b", 20), sampleCorpus("doc-a", 20)...)

	refs, _ := sampler.Sample(corpus, 12, false)

	for i := 1; i < len(refs); i++ {
		if refs[i-1].DocumentID == refs[i].DocumentID {
			continue
		}
		assert.Less(t, refs[i-1].DocumentID, refs[i].DocumentID)
	}
}

func TestSampleEscalateWidens(t *testing.T) {
	sampler := NewSampler(coverage.NewComputer(), SamplerConfig{TargetFragments: 10, MaxFragments: 16})
	corpus := sampleCorpus("doc1", 100)

	normal, _ := sampler.Sample(corpus, 0, false)
	escalated, _ := sampler.Sample(corpus, 0, true)

	assert.Greater(t, len(escalated), len(normal))
	// Escalation doubles the target but respects the ceiling.
	assert.LessOrEqual(t, len(escalated), 16)
}

func TestSampleSyntheticScoresDescendWithFloor(t *testing.T) {
	sampler := NewSampler(coverage.NewComputer(), SamplerConfig{MaxFragments: 60})
	corpus := sampleCorpus("doc1", 120)

	refs, _ := sampler.Sample(corpus, 40, false)

	require.NotEmpty(t, refs)
	assert.Equal(t, 0.8, refs[0].RelevanceScore)
	for i := 1; i < len(refs); i++ {
		assert.LessOrEqual(t, refs[i].RelevanceScore, refs[i-1].RelevanceScore)
		assert.GreaterOrEqual(t, refs[i].RelevanceScore, 0.5)
	}
}

func TestSampleRespectsTargetCount(t *testing.T) {
	sampler := NewSampler(coverage.NewComputer(), SamplerConfig{})
	corpus := append(sampleCorpus("doc-a", 50), sampleCorpus("doc-b", 50)...)

	refs, _ := sampler.Sample(corpus, 10, false)

	assert.LessOrEqual(t, len(refs), 10)
}

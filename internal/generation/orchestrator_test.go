package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftsmith/backend/internal/confidence"
	"github.com/draftsmith/backend/internal/coverage"
	"github.com/draftsmith/backend/internal/intent"
	"github.com/draftsmith/backend/internal/llm"
	"github.com/draftsmith/backend/internal/retrieval"
	"github.com/draftsmith/backend/internal/storage/models"
)

type fakeRetriever struct {
	refs    []models.ScoredReference
	err     error
	gotOpts retrieval.Options
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, opts retrieval.Options) ([]models.ScoredReference, retrieval.Metadata, error) {
	f.gotOpts = opts
	return f.refs, retrieval.Metadata{}, f.err
}

type fakeSampler struct {
	refs   []models.ScoredReference
	desc   *coverage.Descriptor
	called bool
}

func (f *fakeSampler) Sample(corpus []models.Fragment, targetCount int, escalate bool) ([]models.ScoredReference, *coverage.Descriptor) {
	f.called = true
	return f.refs, f.desc
}

type fakeGenerator struct {
	content   string
	err       error
	gotModel  string
	gotSystem string
	gotUser   string
}

func (f *fakeGenerator) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.gotModel = req.Model
	f.gotSystem = req.SystemPrompt
	f.gotUser = req.UserPrompt
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content}, nil
}

type fakeFragmentStore struct {
	fragments []models.Fragment
	err       error
}

func (f *fakeFragmentStore) ListFragments(documentIDs []string) ([]models.Fragment, error) {
	return f.fragments, f.err
}

func corpusOf(docID string, count int) []models.Fragment {
	fragments := make([]models.Fragment, count)
	for i := 0; i < count; i++ {
		fragments[i] = models.Fragment{
			ID:           fmt.Sprintf("%s-%d", docID, i),
			DocumentID:   docID,
			Content:      fmt.Sprintf("full content %d", i),
			OrdinalIndex: i,
			Tags:         map[string]string{"title": "Corpus Doc"},
		}
	}
	return fragments
}

func refsOver(fragments []models.Fragment, score float64, indices ...int) []models.ScoredReference {
	refs := make([]models.ScoredReference, len(indices))
	for i, idx := range indices {
		refs[i] = models.ScoredReference{
			DocumentID:     fragments[idx].DocumentID,
			FragmentID:     fragments[idx].ID,
			Excerpt:        fragments[idx].Content,
			RelevanceScore: score,
		}
	}
	return refs
}

var testTiers = confidence.ModelTiers{Fast: "fast", Standard: "standard", Quality: "quality"}

func newTestOrchestrator(retriever *fakeRetriever, sampler *fakeSampler, generator *fakeGenerator, store *fakeFragmentStore) *Orchestrator {
	return NewOrchestrator(
		intent.NewClassifier(),
		retriever,
		sampler,
		coverage.NewComputer(),
		confidence.NewRouter(testTiers),
		generator,
		store,
		Config{},
	)
}

func TestRunSimilarityPath(t *testing.T) {
	corpus := corpusOf("doc1", 10)
	retriever := &fakeRetriever{refs: refsOver(corpus, 0.85, 0, 1, 2, 3)}
	sampler := &fakeSampler{}
	generator := &fakeGenerator{content: "## Answer\nThe deadline is in March [Source 1] [Source 2] [Source 3]."}
	store := &fakeFragmentStore{fragments: corpus}

	result, err := newTestOrchestrator(retriever, sampler, generator, store).Run(
		context.Background(), Request{Prompt: "What is the deadline?", DocumentIDs: []string{"doc1"}})

	require.NoError(t, err)
	assert.False(t, sampler.called)
	assert.Equal(t, intent.IntentQA, result.Classification.Intent)
	assert.Equal(t, confidence.LevelHigh, result.Confidence.Level)
	assert.Equal(t, "fast", result.ModelUsed)
	require.Len(t, result.Sections, 1)
	assert.Equal(t, SectionHigh, result.Sections[0].Confidence)
	assert.NotEmpty(t, result.ID)
}

func TestRunDiversePathForAnalysis(t *testing.T) {
	corpus := corpusOf("doc1", 10)
	refs := refsOver(corpus, 0.8, 0, 4, 9)
	computer := coverage.NewComputer()
	sampler := &fakeSampler{
		refs: refs,
		desc: computer.Compute(corpus, refs, intent.RetrievalDiverse),
	}
	retriever := &fakeRetriever{}
	generator := &fakeGenerator{content: "## Directly Supported Observations\nPattern [Source 1] [Source 2] [Source 3]."}
	store := &fakeFragmentStore{fragments: corpus}

	result, err := newTestOrchestrator(retriever, sampler, generator, store).Run(
		context.Background(), Request{Prompt: "Summarize this document"})

	require.NoError(t, err)
	assert.True(t, sampler.called)
	assert.Equal(t, intent.RetrievalDiverse, result.Coverage.RetrievalType)
	assert.Contains(t, generator.gotSystem, "EPISTEMIC RULES")
	assert.Contains(t, generator.gotUser, result.Coverage.Summary)
}

func TestRunGenerationFailureWrapsSentinel(t *testing.T) {
	corpus := corpusOf("doc1", 5)
	retriever := &fakeRetriever{refs: refsOver(corpus, 0.8, 0)}
	generator := &fakeGenerator{err: errors.New("model timeout")}
	store := &fakeFragmentStore{fragments: corpus}

	_, err := newTestOrchestrator(retriever, &fakeSampler{}, generator, store).Run(
		context.Background(), Request{Prompt: "What is this?"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationUnavailable)
}

func TestRunEmptyRetrievalIsNotFatal(t *testing.T) {
	retriever := &fakeRetriever{}
	generator := &fakeGenerator{content: "I don't have enough information to answer this."}
	store := &fakeFragmentStore{}

	result, err := newTestOrchestrator(retriever, &fakeSampler{}, generator, store).Run(
		context.Background(), Request{Prompt: "What is mentioned about budgets?"})

	require.NoError(t, err)
	assert.Equal(t, confidence.LevelLow, result.Confidence.Level)
	assert.Equal(t, "quality", result.ModelUsed)
	// The LOW assessment appends the uncertainty instruction.
	assert.Contains(t, generator.gotSystem, "LOW relevance")
	require.NotEmpty(t, result.Sections)
	assert.Equal(t, SectionLow, result.Sections[0].Confidence)
}

func TestRunUnrecognizedOverrideWarnsAndUsesSimilarity(t *testing.T) {
	corpus := corpusOf("doc1", 5)
	retriever := &fakeRetriever{refs: refsOver(corpus, 0.8, 0, 1, 2)}
	sampler := &fakeSampler{}
	generator := &fakeGenerator{content: "Summary text [Source 1] [Source 2] [Source 3]."}
	store := &fakeFragmentStore{fragments: corpus}

	result, err := newTestOrchestrator(retriever, sampler, generator, store).Run(
		context.Background(), Request{Prompt: "Summarize this document", RetrievalOverride: "hybrid"})

	require.NoError(t, err)
	assert.False(t, sampler.called)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "hybrid")
}

func TestRunOverrideForcesDiverse(t *testing.T) {
	corpus := corpusOf("doc1", 10)
	refs := refsOver(corpus, 0.8, 0, 5, 9)
	computer := coverage.NewComputer()
	sampler := &fakeSampler{refs: refs, desc: computer.Compute(corpus, refs, intent.RetrievalDiverse)}
	retriever := &fakeRetriever{}
	generator := &fakeGenerator{content: "Broad view [Source 1]."}
	store := &fakeFragmentStore{fragments: corpus}

	_, err := newTestOrchestrator(retriever, sampler, generator, store).Run(
		context.Background(), Request{Prompt: "What is the deadline?", RetrievalOverride: "DIVERSE"})

	require.NoError(t, err)
	assert.True(t, sampler.called)
}

func TestRunSanitizesOutOfRangeCitations(t *testing.T) {
	corpus := corpusOf("doc1", 5)
	retriever := &fakeRetriever{refs: refsOver(corpus, 0.8, 0, 1)}
	generator := &fakeGenerator{content: "Supported [Source 1]. Hallucinated [Source 7]."}
	store := &fakeFragmentStore{fragments: corpus}

	result, err := newTestOrchestrator(retriever, &fakeSampler{}, generator, store).Run(
		context.Background(), Request{Prompt: "What does it say?"})

	require.NoError(t, err)
	require.NotEmpty(t, result.Sections)
	assert.NotContains(t, result.Sections[0].Content, "[Source 7]")
	assert.Contains(t, result.Sections[0].Content, "[Source 1]")
}

func TestRunFocusedSummaryUsesFocusedTemplate(t *testing.T) {
	corpus := corpusOf("doc1", 5)
	retriever := &fakeRetriever{refs: refsOver(corpus, 0.8, 0, 1)}
	generator := &fakeGenerator{content: "## Summary: ethics\nFocused [Source 1]."}
	store := &fakeFragmentStore{fragments: corpus}

	result, err := newTestOrchestrator(retriever, &fakeSampler{}, generator, store).Run(
		context.Background(), Request{Prompt: "Summarize the ethics section in this document"})

	require.NoError(t, err)
	assert.Equal(t, intent.ScopeFocused, result.Classification.SummaryScope)
	assert.Contains(t, generator.gotUser, `focused analysis of "ethics"`)
}

func TestRunPromptUsesFullFragmentContent(t *testing.T) {
	corpus := corpusOf("doc1", 3)
	refs := refsOver(corpus, 0.8, 0)
	refs[0].Excerpt = "truncated..."
	retriever := &fakeRetriever{refs: refs}
	generator := &fakeGenerator{content: "Answer [Source 1]."}
	store := &fakeFragmentStore{fragments: corpus}

	_, err := newTestOrchestrator(retriever, &fakeSampler{}, generator, store).Run(
		context.Background(), Request{Prompt: "What is this about?"})

	require.NoError(t, err)
	assert.Contains(t, generator.gotUser, "full content 0")
	assert.False(t, strings.Contains(generator.gotUser, "truncated..."))
}

func TestRegenerateSectionPreservesID(t *testing.T) {
	corpus := corpusOf("doc1", 5)
	retriever := &fakeRetriever{refs: refsOver(corpus, 0.8, 0, 1)}
	generator := &fakeGenerator{content: "Rewritten section [Source 1]."}
	store := &fakeFragmentStore{fragments: corpus}

	section, err := newTestOrchestrator(retriever, &fakeSampler{}, generator, store).RegenerateSection(
		context.Background(), RegenerateRequest{
			SectionID:       "gen1-2",
			OriginalContent: "The original section text.",
			Refinement:      "Make it more formal.",
		})

	require.NoError(t, err)
	assert.Equal(t, "gen1-2", section.ID)
	assert.Contains(t, section.Content, "[Source 1]")
}

func TestRegenerateGenerationFailure(t *testing.T) {
	corpus := corpusOf("doc1", 5)
	retriever := &fakeRetriever{refs: refsOver(corpus, 0.8, 0)}
	generator := &fakeGenerator{err: errors.New("down")}
	store := &fakeFragmentStore{fragments: corpus}

	_, err := newTestOrchestrator(retriever, &fakeSampler{}, generator, store).RegenerateSection(
		context.Background(), RegenerateRequest{SectionID: "s1", OriginalContent: "text"})

	assert.ErrorIs(t, err, ErrGenerationUnavailable)
}

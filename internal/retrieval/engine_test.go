package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftsmith/backend/internal/intent"
	"github.com/draftsmith/backend/internal/rerank"
	"github.com/draftsmith/backend/internal/vector/milvus"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeSearcher struct {
	results []milvus.SearchResult
	err     error

	gotTopK   int
	gotDocIDs []string
}

func (f *fakeSearcher) Search(ctx context.Context, embedding []float32, topK int, documentIDs []string) ([]milvus.SearchResult, error) {
	f.gotTopK = topK
	f.gotDocIDs = documentIDs
	return f.results, f.err
}

type fakeReranker struct {
	scores []float64
	err    error
	called bool
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, passages []rerank.Passage) ([]float64, error) {
	f.called = true
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

func searchResults(docID string, scores ...float32) []milvus.SearchResult {
	results := make([]milvus.SearchResult, len(scores))
	for i, score := range scores {
		results[i] = milvus.SearchResult{
			FragmentID: docID + "-frag-" + string(rune('a'+i)),
			DocumentID: docID,
			Content:    "some fragment content",
			Score:      score,
		}
	}
	return results
}

func TestRetrieveFiltersBelowThreshold(t *testing.T) {
	searcher := &fakeSearcher{results: searchResults("doc1", 0.9, 0.6, 0.3)}
	engine := NewEngine(&fakeEmbedder{}, searcher, nil, Config{
		Thresholds: Thresholds{Default: 0.5, QA: 0.5, Analysis: 0.5, Writing: 0.5},
	})

	refs, meta, err := engine.Retrieve(context.Background(), "query", Options{})

	require.NoError(t, err)
	assert.Len(t, refs, 2)
	assert.Equal(t, 2, meta.AboveThreshold)
	assert.False(t, meta.RerankerUsed)
}

func TestRetrieveIntentThresholds(t *testing.T) {
	thresholds := Thresholds{Default: 0.35, QA: 0.50, Analysis: 0.25, Writing: 0.35}
	searcher := &fakeSearcher{results: searchResults("doc1", 0.45, 0.30)}
	engine := NewEngine(&fakeEmbedder{}, searcher, nil, Config{Thresholds: thresholds})

	// QA is precision-biased: 0.45 falls below its floor.
	qa, _, err := engine.Retrieve(context.Background(), "q", Options{Intent: intent.IntentQA})
	require.NoError(t, err)
	assert.Empty(t, qa)

	// Analysis is recall-biased: both survive.
	analysis, _, err := engine.Retrieve(context.Background(), "q", Options{Intent: intent.IntentAnalysis})
	require.NoError(t, err)
	assert.Len(t, analysis, 2)
}

func TestRetrieveDoesNotMutateSearcherResults(t *testing.T) {
	results := searchResults("doc1", 0.9, 0.3, 0.8)
	original := make([]milvus.SearchResult, len(results))
	copy(original, results)

	searcher := &fakeSearcher{results: results}
	engine := NewEngine(&fakeEmbedder{}, searcher, nil, Config{
		Thresholds: Thresholds{Default: 0.5},
	})

	_, _, err := engine.Retrieve(context.Background(), "q", Options{})

	require.NoError(t, err)
	// The searcher may reuse its result buffer between calls;
	// filtering must not write through it.
	assert.Equal(t, original, results)
}

func TestRetrieveQAWidensCandidatePool(t *testing.T) {
	searcher := &fakeSearcher{results: searchResults("doc1", 0.9)}
	engine := NewEngine(&fakeEmbedder{}, searcher, nil, Config{
		TopK:       10,
		QATopK:     20,
		Thresholds: Thresholds{QA: 0.5},
	})

	_, meta, err := engine.Retrieve(context.Background(), "q", Options{Intent: intent.IntentQA})
	require.NoError(t, err)
	assert.Equal(t, 20, meta.TopK)

	// An explicit TopK still wins.
	_, meta, err = engine.Retrieve(context.Background(), "q", Options{Intent: intent.IntentQA, TopK: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, meta.TopK)
}

func TestRetrieveExplicitThresholdWins(t *testing.T) {
	searcher := &fakeSearcher{results: searchResults("doc1", 0.45)}
	engine := NewEngine(&fakeEmbedder{}, searcher, nil, Config{
		Thresholds: Thresholds{QA: 0.50},
	})

	refs, meta, err := engine.Retrieve(context.Background(), "q", Options{
		Intent:    intent.IntentQA,
		Threshold: 0.40,
	})

	require.NoError(t, err)
	assert.Len(t, refs, 1)
	assert.Equal(t, 0.40, meta.Threshold)
}

func TestRetrieveDocumentPostFilter(t *testing.T) {
	results := append(searchResults("doc1", 0.9), searchResults("doc2", 0.9)...)
	searcher := &fakeSearcher{results: results}
	engine := NewEngine(&fakeEmbedder{}, searcher, nil, Config{
		Thresholds: Thresholds{Default: 0.1},
	})

	refs, _, err := engine.Retrieve(context.Background(), "q", Options{DocumentIDs: []string{"doc1"}})

	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "doc1", refs[0].DocumentID)
}

func TestRetrieveRerankReorders(t *testing.T) {
	searcher := &fakeSearcher{results: searchResults("doc1", 0.9, 0.8, 0.7)}
	// Reranker inverts the similarity order.
	reranker := &fakeReranker{scores: []float64{-1.0, 0.5, 2.0}}
	engine := NewEngine(&fakeEmbedder{}, searcher, reranker, Config{
		Thresholds:       Thresholds{Default: 0.5},
		RerankerEnabled:  true,
		RerankerInitialK: 20,
	})

	refs, meta, err := engine.Retrieve(context.Background(), "q", Options{})

	require.NoError(t, err)
	require.True(t, reranker.called)
	assert.True(t, meta.RerankerUsed)
	// Wider candidate pool at half threshold.
	assert.Equal(t, 20, searcher.gotTopK)

	require.Len(t, refs, 3)
	assert.Equal(t, "doc1-frag-c", refs[0].FragmentID)
	assert.Equal(t, "doc1-frag-b", refs[1].FragmentID)
	assert.Equal(t, "doc1-frag-a", refs[2].FragmentID)

	// Logits map through a sigmoid into [0,1].
	assert.InDelta(t, 0.8808, refs[0].RelevanceScore, 0.001)
	assert.InDelta(t, 0.6225, refs[1].RelevanceScore, 0.001)
	assert.InDelta(t, 0.2689, refs[2].RelevanceScore, 0.001)
}

func TestRetrieveRerankOutputNotRethresholded(t *testing.T) {
	searcher := &fakeSearcher{results: searchResults("doc1", 0.9, 0.8)}
	// Both logits sigmoid to below the similarity threshold; they stay.
	reranker := &fakeReranker{scores: []float64{-2.0, -3.0}}
	engine := NewEngine(&fakeEmbedder{}, searcher, reranker, Config{
		Thresholds:      Thresholds{Default: 0.5},
		RerankerEnabled: true,
	})

	refs, _, err := engine.Retrieve(context.Background(), "q", Options{})

	require.NoError(t, err)
	assert.Len(t, refs, 2)
}

func TestRetrieveRerankFailureFallsBack(t *testing.T) {
	searcher := &fakeSearcher{results: searchResults("doc1", 0.9, 0.8)}
	reranker := &fakeReranker{err: errors.New("reranker down")}
	engine := NewEngine(&fakeEmbedder{}, searcher, reranker, Config{
		Thresholds:      Thresholds{Default: 0.5},
		RerankerEnabled: true,
	})

	refs, meta, err := engine.Retrieve(context.Background(), "q", Options{})

	require.NoError(t, err)
	assert.False(t, meta.RerankerUsed)
	require.Len(t, refs, 2)
	// Similarity order preserved.
	assert.InDelta(t, 0.9, refs[0].RelevanceScore, 0.001)
}

func TestRetrieveEmbedderFailure(t *testing.T) {
	engine := NewEngine(&fakeEmbedder{err: errors.New("api down")}, &fakeSearcher{}, nil, Config{})

	_, _, err := engine.Retrieve(context.Background(), "q", Options{})

	assert.Error(t, err)
}

func TestRetrieveEmptyIndexIsNotAnError(t *testing.T) {
	engine := NewEngine(&fakeEmbedder{}, &fakeSearcher{}, nil, Config{})

	refs, meta, err := engine.Retrieve(context.Background(), "q", Options{})

	require.NoError(t, err)
	assert.Empty(t, refs)
	assert.Equal(t, 0, meta.FragmentsRetrieved)
}

func TestTruncateExcerptWordBoundary(t *testing.T) {
	out := truncateExcerpt("alpha beta gamma delta", 12)
	assert.Equal(t, "alpha beta...", out)

	short := truncateExcerpt("short", 12)
	assert.Equal(t, "short", short)
}

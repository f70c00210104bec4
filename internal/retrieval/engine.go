package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/draftsmith/backend/internal/intent"
	"github.com/draftsmith/backend/internal/metrics"
	"github.com/draftsmith/backend/internal/rerank"
	"github.com/draftsmith/backend/internal/storage/models"
	"github.com/draftsmith/backend/internal/vector/milvus"
	"github.com/draftsmith/backend/pkg/logger"
)

// Embedder turns query text into a vector.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher runs nearest-neighbor search over indexed fragments.
type VectorSearcher interface {
	Search(ctx context.Context, queryEmbedding []float32, topK int, documentIDs []string) ([]milvus.SearchResult, error)
}

// Reranker scores candidate passages against the query with a
// cross-encoder. Scores are raw logits.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []rerank.Passage) ([]float64, error)
}

// Thresholds are the intent-specific similarity floors. QA is
// precision-biased, analysis recall-biased, writing sits between.
type Thresholds struct {
	Default  float64
	QA       float64
	Analysis float64
	Writing  float64
}

type Config struct {
	TopK int

	// QATopK widens the candidate pool for QA queries, whose
	// precision-biased threshold discards more of it.
	QATopK int

	Thresholds       Thresholds
	RerankerEnabled  bool
	RerankerInitialK int
	ExcerptMaxLength int
}

// Engine retrieves fragments by vector similarity, optionally
// rescored by a cross-encoder.
type Engine struct {
	embedder Embedder
	searcher VectorSearcher
	reranker Reranker
	cfg      Config
}

func NewEngine(embedder Embedder, searcher VectorSearcher, reranker Reranker, cfg Config) *Engine {
	if cfg.TopK == 0 {
		cfg.TopK = 10
	}
	if cfg.RerankerInitialK == 0 {
		cfg.RerankerInitialK = 20
	}
	if cfg.ExcerptMaxLength == 0 {
		cfg.ExcerptMaxLength = 200
	}
	return &Engine{
		embedder: embedder,
		searcher: searcher,
		reranker: reranker,
		cfg:      cfg,
	}
}

// Options tunes a single retrieval pass. Zero values fall back to the
// engine's configured defaults; a caller-supplied Threshold always
// wins over the intent-specific default.
type Options struct {
	TopK        int
	Threshold   float64
	DocumentIDs []string
	Intent      intent.Intent
}

type Metadata struct {
	Query              string
	TopK               int
	Threshold          float64
	FragmentsRetrieved int
	AboveThreshold     int
	RerankerUsed       bool
	RetrievalTimeMS    float64
}

func (e *Engine) thresholdForIntent(queryIntent intent.Intent) float64 {
	switch queryIntent {
	case intent.IntentQA:
		return e.cfg.Thresholds.QA
	case intent.IntentAnalysis:
		return e.cfg.Thresholds.Analysis
	case intent.IntentWriting:
		return e.cfg.Thresholds.Writing
	default:
		return e.cfg.Thresholds.Default
	}
}

// Retrieve embeds the query, searches the index, and optionally
// reranks. An empty index or nothing clearing the threshold returns
// an empty slice, not an error.
func (e *Engine) Retrieve(ctx context.Context, query string, opts Options) ([]models.ScoredReference, Metadata, error) {
	start := time.Now()

	topK := opts.TopK
	if topK == 0 {
		topK = e.cfg.TopK
		if opts.Intent == intent.IntentQA && e.cfg.QATopK > 0 {
			topK = e.cfg.QATopK
		}
	}

	threshold := opts.Threshold
	if threshold == 0 {
		threshold = e.thresholdForIntent(opts.Intent)
	}

	rerankerEnabled := e.cfg.RerankerEnabled && e.reranker != nil

	embedding, err := e.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("failed to embed query: %w", err)
	}

	// With reranking, fetch a wider candidate pool at half the target
	// threshold and let the cross-encoder pick the winners.
	searchK := topK
	searchThreshold := threshold
	if rerankerEnabled {
		searchK = e.cfg.RerankerInitialK
		searchThreshold = threshold * 0.5
	}

	candidates, err := e.searcher.Search(ctx, embedding, searchK, opts.DocumentIDs)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("failed to search index: %w", err)
	}

	candidates = filterCandidates(candidates, searchThreshold, opts.DocumentIDs)

	rerankerUsed := false
	var refs []models.ScoredReference

	if rerankerEnabled && len(candidates) > 0 {
		refs, err = e.rerankCandidates(ctx, query, candidates, topK)
		if err != nil {
			// Rerank failure degrades to similarity order, it never
			// fails the request.
			logger.Warn("Rerank failed, falling back to similarity order", zap.Error(err))
			metrics.RerankRequests.WithLabelValues("error").Inc()
			refs = e.toReferences(candidates, topK)
		} else {
			rerankerUsed = true
			metrics.RerankRequests.WithLabelValues("ok").Inc()
		}
	} else {
		refs = e.toReferences(candidates, topK)
	}

	aboveThreshold := 0
	for _, ref := range refs {
		if ref.RelevanceScore >= threshold {
			aboveThreshold++
		}
	}

	elapsed := float64(time.Since(start).Microseconds()) / 1000

	metadata := Metadata{
		Query:              query,
		TopK:               topK,
		Threshold:          threshold,
		FragmentsRetrieved: len(refs),
		AboveThreshold:     aboveThreshold,
		RerankerUsed:       rerankerUsed,
		RetrievalTimeMS:    elapsed,
	}

	logger.Info("Retrieval completed",
		zap.Int("query_length", len(query)),
		zap.Int("results_count", len(refs)),
		zap.Int("top_k", topK),
		zap.Float64("threshold", threshold),
		zap.Float64("retrieval_time_ms", elapsed),
		zap.String("intent", string(opts.Intent)),
		zap.Bool("reranker_used", rerankerUsed),
	)
	metrics.RetrievalResultsCount.WithLabelValues(string(intent.RetrievalSimilarity)).Observe(float64(len(refs)))

	return refs, metadata, nil
}

// filterCandidates applies the similarity threshold and the document
// filter. The index already filters by document, but the filter is a
// hard contract so it is enforced again here.
func filterCandidates(candidates []milvus.SearchResult, threshold float64, documentIDs []string) []milvus.SearchResult {
	allowed := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		allowed[id] = true
	}

	filtered := make([]milvus.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		if float64(c.Score) < threshold {
			continue
		}
		if len(documentIDs) > 0 && !allowed[c.DocumentID] {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered
}

func (e *Engine) rerankCandidates(ctx context.Context, query string, candidates []milvus.SearchResult, topK int) ([]models.ScoredReference, error) {
	passages := make([]rerank.Passage, len(candidates))
	for i, c := range candidates {
		passages[i] = rerank.Passage{ID: c.FragmentID, Text: c.Content}
	}

	scores, err := e.reranker.Rerank(ctx, query, passages)
	if err != nil {
		return nil, err
	}

	type scored struct {
		candidate milvus.SearchResult
		logit     float64
	}
	rescored := make([]scored, len(candidates))
	for i, c := range candidates {
		rescored[i] = scored{candidate: c, logit: scores[i]}
	}

	// Highest logit first.
	sort.SliceStable(rescored, func(i, j int) bool {
		return rescored[i].logit > rescored[j].logit
	})

	if len(rescored) > topK {
		rescored = rescored[:topK]
	}

	// Logits are unbounded; map through a sigmoid so downstream
	// confidence thresholds see [0,1] regardless of whether reranking
	// ran. The reranker's ranking is authoritative: the similarity
	// threshold is not re-applied to its output.
	refs := make([]models.ScoredReference, len(rescored))
	for i, r := range rescored {
		refs[i] = models.ScoredReference{
			DocumentID:     r.candidate.DocumentID,
			FragmentID:     r.candidate.FragmentID,
			Excerpt:        truncateExcerpt(r.candidate.Content, e.cfg.ExcerptMaxLength),
			RelevanceScore: sigmoid(r.logit),
		}
	}

	return refs, nil
}

func (e *Engine) toReferences(candidates []milvus.SearchResult, topK int) []models.ScoredReference {
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	refs := make([]models.ScoredReference, len(candidates))
	for i, c := range candidates {
		refs[i] = models.ScoredReference{
			DocumentID:     c.DocumentID,
			FragmentID:     c.FragmentID,
			Excerpt:        truncateExcerpt(c.Content, e.cfg.ExcerptMaxLength),
			RelevanceScore: float64(c.Score),
		}
	}
	return refs
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func truncateExcerpt(content string, maxLength int) string {
	if len(content) <= maxLength {
		return content
	}
	truncated := content[:maxLength]
	if idx := strings.LastIndex(truncated, " "); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + "..."
}

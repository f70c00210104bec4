package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/draftsmith/backend/internal/metrics"
	"github.com/draftsmith/backend/pkg/logger"
	"github.com/draftsmith/backend/pkg/utils"
)

// EmbeddingCache stores query embeddings keyed by text hash.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

const embeddingCacheTTL = 24 * time.Hour

// CachingEmbedder fronts an embedder with a cache. Cache failures
// fall through to the embedder.
type CachingEmbedder struct {
	embedder Embedder
	cache    EmbeddingCache
}

func NewCachingEmbedder(embedder Embedder, cache EmbeddingCache) *CachingEmbedder {
	return &CachingEmbedder{
		embedder: embedder,
		cache:    cache,
	}
}

func (e *CachingEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := utils.HashString(text)

	if embedding, ok, err := e.cache.GetEmbedding(ctx, key); err == nil && ok {
		metrics.CacheHits.WithLabelValues("embedding").Inc()
		return embedding, nil
	} else if err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
	}
	metrics.CacheMisses.WithLabelValues("embedding").Inc()

	embedding, err := e.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := e.cache.SetEmbedding(ctx, key, embedding, embeddingCacheTTL); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}

	return embedding, nil
}

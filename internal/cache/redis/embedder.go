package redis

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/llm"
	"github.com/billing-agent/backend/internal/metrics"
	"github.com/billing-agent/backend/pkg/logger"
)

type embeddingStore interface {
	GetEmbedding(ctx context.Context, model, text string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, model, text string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder serves embeddings from the cache and falls through to the
// wrapped embedder on a miss. Cache failures degrade to a miss.
type CachedEmbedder struct {
	next  llm.Embedder
	store embeddingStore
	model string
	ttl   time.Duration
}

var _ llm.Embedder = (*CachedEmbedder)(nil)

func NewCachedEmbedder(next llm.Embedder, store embeddingStore, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, store: store, model: model, ttl: ttl}
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.lookup(ctx, text); ok {
		return v, nil
	}

	v, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.save(ctx, text, v)
	return v, nil
}

func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if v, ok := e.lookup(ctx, t); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := e.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = fresh[j]
		e.save(ctx, missTexts[j], fresh[j])
	}
	return out, nil
}

func (e *CachedEmbedder) lookup(ctx context.Context, text string) ([]float32, bool) {
	v, ok, err := e.store.GetEmbedding(ctx, e.model, text)
	if err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
		metrics.EmbeddingCache.WithLabelValues("error").Inc()
		return nil, false
	}
	if !ok {
		metrics.EmbeddingCache.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.EmbeddingCache.WithLabelValues("hit").Inc()
	return v, true
}

func (e *CachedEmbedder) save(ctx context.Context, text string, v []float32) {
	if err := e.store.SetEmbedding(ctx, e.model, text, v, e.ttl); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
}

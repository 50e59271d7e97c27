package models

import (
	"context"
	"fmt"

	"github.com/synapselabs/cortex/llm/embedding"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// EmbeddingAdapter batches embedding requests up to maxBatchSize per call,
// running up to maxConcurrentBatches requests concurrently under a local
// semaphore, preserving input order in the merged result.
type EmbeddingAdapter struct {
	provider             embedding.Provider
	model                string
	maxBatchSize         int
	maxConcurrentBatches int
	logger               *zap.Logger
}

// NewEmbeddingAdapter builds the C2 embedding specialization.
func NewEmbeddingAdapter(provider embedding.Provider, model string, maxBatchSize, maxConcurrentBatches int, logger *zap.Logger) *EmbeddingAdapter {
	if maxBatchSize <= 0 {
		maxBatchSize = 100
	}
	if maxConcurrentBatches <= 0 {
		maxConcurrentBatches = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingAdapter{
		provider:             provider,
		model:                model,
		maxBatchSize:         maxBatchSize,
		maxConcurrentBatches: maxConcurrentBatches,
		logger:               logger,
	}
}

// Embed splits texts into maxBatchSize chunks, embeds them concurrently
// bounded by maxConcurrentBatches, and returns embeddings in input order.
func (a *EmbeddingAdapter) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	type batch struct {
		start int
		texts []string
	}
	var batches []batch
	for start := 0; start < len(texts); start += a.maxBatchSize {
		end := start + a.maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, batch{start: start, texts: texts[start:end]})
	}

	results := make([][]float64, len(texts))
	sem := semaphore.NewWeighted(int64(a.maxConcurrentBatches))
	g, gctx := errgroup.WithContext(ctx)

	for _, b := range batches {
		b := b
		if err := sem.Acquire(gctx, 1); err != nil {
			return nil, fmt.Errorf("embedding adapter: acquire batch slot: %w", err)
		}
		g.Go(func() error {
			defer sem.Release(1)
			resp, err := a.provider.Embed(gctx, &embedding.EmbeddingRequest{
				Input:     b.texts,
				Model:     a.model,
				InputType: embedding.InputTypeDocument,
			})
			if err != nil {
				return classifyProviderError(err)
			}
			for i, d := range resp.Embeddings {
				results[b.start+i] = d.Embedding
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *EmbeddingAdapter) MaxTokens() int { return 8_000 }

func (a *EmbeddingAdapter) Info() map[string]any {
	return map[string]any{
		"logical_model":          string(ModelEmbedding),
		"model":                  a.model,
		"max_batch_size":         a.maxBatchSize,
		"max_concurrent_batches": a.maxConcurrentBatches,
	}
}

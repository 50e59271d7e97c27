package models

import (
	"context"
	"sort"

	"github.com/synapselabs/cortex/llm/rerank"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RerankedPassage is one scored passage, indexed against the adapter's
// original (pre-chunking) input order.
type RerankedPassage struct {
	OriginalIndex int
	Score         float64
}

// RerankAdapter specializes the reranker logical model: score, sort
// descending, filter below threshold, and — for inputs larger than
// maxPassagesPerRequest — chunk, rerank each chunk in parallel, then merge
// and re-sort globally.
type RerankAdapter struct {
	provider              rerank.Provider
	model                 string
	threshold             float64
	maxPassagesPerRequest int
	logger                *zap.Logger
}

// NewRerankAdapter builds the C2 reranker specialization.
func NewRerankAdapter(provider rerank.Provider, model string, threshold float64, maxPassagesPerRequest int, logger *zap.Logger) *RerankAdapter {
	if threshold <= 0 {
		threshold = 0.7
	}
	if maxPassagesPerRequest <= 0 {
		maxPassagesPerRequest = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RerankAdapter{
		provider:              provider,
		model:                 model,
		threshold:             threshold,
		maxPassagesPerRequest: maxPassagesPerRequest,
		logger:                logger,
	}
}

// Rerank scores query against passages and returns passages scoring at or
// above the configured threshold, sorted descending by score.
func (a *RerankAdapter) Rerank(ctx context.Context, query string, passages []string) ([]RerankedPassage, error) {
	if len(passages) <= a.maxPassagesPerRequest {
		return a.rerankChunk(ctx, query, passages, 0)
	}

	type chunkResult struct {
		offset int
		scored []RerankedPassage
	}
	var chunks []struct {
		offset int
		texts  []string
	}
	for start := 0; start < len(passages); start += a.maxPassagesPerRequest {
		end := start + a.maxPassagesPerRequest
		if end > len(passages) {
			end = len(passages)
		}
		chunks = append(chunks, struct {
			offset int
			texts  []string
		}{offset: start, texts: passages[start:end]})
	}

	results := make([]chunkResult, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			scored, err := a.rerankChunk(gctx, query, c.texts, c.offset)
			if err != nil {
				return err
			}
			results[i] = chunkResult{offset: c.offset, scored: scored}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []RerankedPassage
	for _, r := range results {
		merged = append(merged, r.scored...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged, nil
}

func (a *RerankAdapter) rerankChunk(ctx context.Context, query string, passages []string, offset int) ([]RerankedPassage, error) {
	docs := make([]rerank.Document, len(passages))
	for i, p := range passages {
		docs[i] = rerank.Document{Text: p}
	}
	resp, err := a.provider.Rerank(ctx, &rerank.RerankRequest{Query: query, Documents: docs, Model: a.model})
	if err != nil {
		return nil, classifyProviderError(err)
	}

	out := make([]RerankedPassage, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.RelevanceScore < a.threshold {
			continue
		}
		out = append(out, RerankedPassage{OriginalIndex: offset + r.Index, Score: r.RelevanceScore})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func (a *RerankAdapter) MaxTokens() int { return 32_000 }

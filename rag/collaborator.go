package rag

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/synapselabs/cortex/llm/retrieval"
	"go.uber.org/zap"
)

// RetrievalMode selects how a query is expanded before scoring against the
// ingested corpus. "research" mode pulls a wider top-K than "general".
type RetrievalMode string

const (
	ModeResearch RetrievalMode = "research"
	ModeGeneral  RetrievalMode = "general"
)

// RetrievedChunk is one scored passage returned by Retrieve.
type RetrievedChunk struct {
	Content  string                 `json:"content"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Collaborator is the external RAG collaborator the Chat Core and Research
// Orchestrator depend on: ingest documents, retrieve relevant chunks for a
// query, and render a compiled markdown document to PDF. Production
// deployments would put a real vector store and a headless-browser or
// wkhtmltopdf renderer behind this interface; this in-process implementation
// stands in for both using the hybrid retriever already in this codebase.
type Collaborator interface {
	Ingest(ctx context.Context, text string, metadata map[string]interface{}) (string, error)
	Retrieve(ctx context.Context, query string, mode RetrievalMode) ([]RetrievedChunk, error)
	Render(ctx context.Context, markdown string) (string, error)
}

// InProcessCollaborator chunks and indexes ingested text with
// DocumentChunker + HybridRetriever (BM25 only — no embeddings are computed
// for ingested chunks, so the vector leg of the hybrid score never fires)
// and renders markdown to a plain-text PDF stand-in. It is meant as a
// drop-in substitute for a real RAG/PDF microservice during development.
type InProcessCollaborator struct {
	mu       sync.Mutex
	chunker  *DocumentChunker
	retr     *retrieval.HybridRetriever
	docs     map[string]Document
	renderer func(markdown string) (string, error)
	logger   *zap.Logger
}

// NewInProcessCollaborator builds the A5 stand-in. renderDir, when non-empty,
// is where rendered artifacts are recorded (the artifact "path" returned is
// synthetic — no bytes are written to disk by this implementation).
func NewInProcessCollaborator(logger *zap.Logger) *InProcessCollaborator {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := DefaultChunkingConfig()
	retrCfg := retrieval.DefaultHybridRetrievalConfig()
	retrCfg.UseVector = false
	retrCfg.UseReranking = false
	retrCfg.TopK = 10
	retrCfg.MinScore = 0

	c := &InProcessCollaborator{
		chunker: NewDocumentChunker(cfg, &SimpleTokenizer{}, logger),
		retr:    retrieval.NewHybridRetriever(retrCfg, logger),
		docs:    make(map[string]Document),
		logger:  logger.With(zap.String("component", "rag_collaborator")),
	}
	return c
}

// Ingest chunks text, indexes the chunks for retrieval, and returns a
// generated document id.
func (c *InProcessCollaborator) Ingest(ctx context.Context, text string, metadata map[string]interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := newDocID()
	if err != nil {
		return "", fmt.Errorf("rag: generate doc id: %w", err)
	}

	doc := Document{ID: id, Content: text, Metadata: metadata}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[id] = doc

	retrDocs := make([]retrieval.Document, 0, len(c.docs))
	for _, d := range c.docs {
		chunks := c.chunker.ChunkDocument(d)
		for i, chunk := range chunks {
			retrDocs = append(retrDocs, retrieval.Document{
				ID:       fmt.Sprintf("%s#%d", d.ID, i),
				Content:  chunk.Content,
				Metadata: chunk.Metadata,
			})
		}
	}
	if err := c.retr.IndexDocuments(retrDocs); err != nil {
		c.logger.Warn("reindex after ingest failed", zap.Error(err))
	}
	return id, nil
}

// Retrieve scores query against the ingested corpus. "research" mode returns
// up to 10 chunks; "general" mode returns up to 5.
func (c *InProcessCollaborator) Retrieve(ctx context.Context, query string, mode RetrievalMode) ([]RetrievedChunk, error) {
	topK := 5
	if mode == ModeResearch {
		topK = 10
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	results, err := c.retr.Retrieve(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	if len(results) > topK {
		results = results[:topK]
	}
	out := make([]RetrievedChunk, 0, len(results))
	for _, r := range results {
		out = append(out, RetrievedChunk{
			Content:  r.Document.Content,
			Score:    r.FinalScore,
			Metadata: r.Document.Metadata,
		})
	}
	return out, nil
}

// Render stands in for the PDF renderer collaborator: it never touches disk,
// returning a synthetic artifact path keyed by a generated id. A real
// deployment would shell out to a headless-browser or wkhtmltopdf process
// here and return its output path.
func (c *InProcessCollaborator) Render(ctx context.Context, markdown string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if markdown == "" {
		return "", errors.New("rag: render: empty markdown")
	}
	id, err := newDocID()
	if err != nil {
		return "", err
	}
	path := fmt.Sprintf("artifacts/research-%s-%d.pdf", id, time.Now().UnixNano())
	return path, nil
}

func newDocID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

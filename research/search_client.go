package research

import (
	"context"
	"strings"

	"github.com/synapselabs/cortex/rag"
)

// RAGSearchClient adapts the A5 RAG collaborator into a SearchClient,
// standing in for an external web-search API behind the light-search and
// medium-search built-in tools: a production deployment would swap this for
// a real provider without touching the registry or executor.
type RAGSearchClient struct {
	collaborator rag.Collaborator
}

// NewRAGSearchClient builds a SearchClient backed by collaborator.
func NewRAGSearchClient(collaborator rag.Collaborator) *RAGSearchClient {
	return &RAGSearchClient{collaborator: collaborator}
}

// Search satisfies research.SearchClient.
func (c *RAGSearchClient) Search(ctx context.Context, model, query string) (string, []string, error) {
	chunks, err := c.collaborator.Retrieve(ctx, query, rag.ModeGeneral)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	citations := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(chunk.Content)
		if src, ok := chunk.Metadata["source"].(string); ok && src != "" {
			citations = append(citations, src)
		}
	}
	return b.String(), citations, nil
}

package models

import (
	"context"

	"github.com/synapselabs/cortex/llm"
	"github.com/synapselabs/cortex/llm/tokenizer"
	"go.uber.org/zap"
)

// GenerateParams carries the optional per-call parameters a Generate call accepts.
type GenerateParams struct {
	MaxTokens   int
	Temperature float32
	TopP        float32
	Stream      bool
}

// Adapter is the C2 contract: normalize core types to/from one provider's
// wire format for one logical model.
type Adapter interface {
	Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema, params GenerateParams) (*llm.ChatResponse, error)
	ValidateRequest(messages []llm.Message, tools []llm.ToolSchema) bool
	Capabilities() map[Capability]struct{}
	MaxTokens() int
	Info() map[string]any
}

// baseAdapter wraps a llm.Provider bound to one ModelSpec. It performs cheap
// structural validation (validateRequest) using the real tokenizer
// where available, falling back to the character-count estimator.
type baseAdapter struct {
	spec     ModelSpec
	provider llm.Provider
	model    string
	logger   *zap.Logger

	maxInputChars int
	maxToolCount  int
}

// NewBaseAdapter builds the generic C2 adapter used directly by chat-large,
// chat-light, and multimodal (chat-code and embedding/reranker specialize
// further in their own files).
func NewBaseAdapter(spec ModelSpec, provider llm.Provider, model string, logger *zap.Logger) Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &baseAdapter{
		spec:          spec,
		provider:      provider,
		model:         model,
		logger:        logger,
		maxInputChars: spec.MaxContextTokens * 4,
		maxToolCount:  128,
	}
}

func (a *baseAdapter) Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema, params GenerateParams) (*llm.ChatResponse, error) {
	if !a.ValidateRequest(messages, tools) {
		return nil, &ModelError{Kind: KindBadRequest, Message: "request exceeds per-model structural limits"}
	}

	req := &llm.ChatRequest{
		Model:       a.model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
	}

	resp, err := a.provider.Completion(ctx, req)
	if err != nil {
		return nil, classifyProviderError(err)
	}
	return resp, nil
}

func (a *baseAdapter) ValidateRequest(messages []llm.Message, tools []llm.ToolSchema) bool {
	if len(messages) == 0 {
		return false
	}
	if len(tools) > a.maxToolCount {
		return false
	}

	totalChars := 0
	for _, m := range messages {
		if m.Content == "" && m.Role == "" {
			return false
		}
		totalChars += len(m.Content)
	}

	tok, err := tokenizer.GetTokenizer(a.model)
	if err != nil {
		// Falls back to a len(content)/4 style estimate.
		return totalChars <= a.maxInputChars
	}
	tokMessages := make([]tokenizer.Message, len(messages))
	for i, m := range messages {
		tokMessages[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}
	count, err := tok.CountMessages(tokMessages)
	if err != nil {
		return totalChars <= a.maxInputChars
	}
	return count <= a.spec.MaxContextTokens
}

func (a *baseAdapter) Capabilities() map[Capability]struct{} { return a.spec.Capabilities }
func (a *baseAdapter) MaxTokens() int                        { return a.spec.MaxContextTokens }
func (a *baseAdapter) Info() map[string]any {
	return map[string]any{
		"logical_model":      string(a.spec.LogicalName),
		"model":              a.model,
		"max_context_tokens": a.spec.MaxContextTokens,
		"provider":           a.provider.Name(),
	}
}

// EstimatedTokens returns the token-accounting estimate the C9 resource
// monitor reserves against: the real tokenizer if registered for model,
// else a len(content)/4 heuristic.
func EstimatedTokens(model string, content string) int {
	tok, err := tokenizer.GetTokenizer(model)
	if err != nil {
		n := len(content) / 4
		if n == 0 && content != "" {
			n = 1
		}
		return n
	}
	count, err := tok.CountTokens(content)
	if err != nil {
		return len(content) / 4
	}
	return count
}

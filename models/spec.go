// Package models implements the Model Adapter layer (C2): one adapter per
// logical model, each wrapping a Provider Client (C1) and normalizing
// requests/responses into the core's Message/ToolSchema/Envelope types.
package models

import "github.com/synapselabs/cortex/llm"

// Capability names a thing a logical model is allowed to do.
type Capability string

const (
	CapabilitySynthesis      Capability = "synthesis"
	CapabilityPlanning       Capability = "planning"
	CapabilityQuickReply     Capability = "quick_reply"
	CapabilityCodeGeneration Capability = "code_generation"
	CapabilityMultimodal     Capability = "multimodal"
	CapabilityEmbedding      Capability = "embedding"
	CapabilityRerank         Capability = "rerank"
)

// LogicalModel names one of the six specialized roles in the model routing table.
type LogicalModel string

const (
	ModelChatLarge  LogicalModel = "chat-large"
	ModelChatLight  LogicalModel = "chat-light"
	ModelChatCode   LogicalModel = "chat-code"
	ModelMultimodal LogicalModel = "multimodal"
	ModelEmbedding  LogicalModel = "embedding"
	ModelReranker   LogicalModel = "reranker"
)

// ModelSpec is the static contract for one logical model: its provider
// binding, context cap, capability set, and base tool access (before the
// webSearch-gated light-search/medium-search addition C4 applies).
type ModelSpec struct {
	LogicalName      LogicalModel
	Provider         string
	MaxContextTokens int
	Capabilities     map[Capability]struct{}
	BaseTools        []string
}

// HasCapability reports whether s declares cap.
func (s ModelSpec) HasCapability(cap Capability) bool {
	_, ok := s.Capabilities[cap]
	return ok
}

func capSet(caps ...Capability) map[Capability]struct{} {
	m := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		m[c] = struct{}{}
	}
	return m
}

// DefaultSpecs returns the model specialization table, keyed by
// logical model name. Callers may override Provider per deployment.
func DefaultSpecs() map[LogicalModel]ModelSpec {
	return map[LogicalModel]ModelSpec{
		ModelChatLarge: {
			LogicalName:      ModelChatLarge,
			MaxContextTokens: 128_000,
			Capabilities:     capSet(CapabilitySynthesis, CapabilityPlanning),
			BaseTools:        []string{"coder", "multimodal"},
		},
		ModelChatLight: {
			LogicalName:      ModelChatLight,
			MaxContextTokens: 32_000,
			Capabilities:     capSet(CapabilityQuickReply, CapabilityPlanning),
			BaseTools:        []string{"coder", "multimodal"},
		},
		ModelChatCode: {
			LogicalName:      ModelChatCode,
			MaxContextTokens: 64_000,
			Capabilities:     capSet(CapabilityCodeGeneration),
			BaseTools:        []string{"multimodal"},
		},
		ModelMultimodal: {
			LogicalName:      ModelMultimodal,
			MaxContextTokens: 128_000,
			Capabilities:     capSet(CapabilityMultimodal),
		},
		ModelEmbedding: {
			LogicalName:      ModelEmbedding,
			MaxContextTokens: 8_000,
			Capabilities:     capSet(CapabilityEmbedding),
		},
		ModelReranker: {
			LogicalName:      ModelReranker,
			MaxContextTokens: 32_000,
			Capabilities:     capSet(CapabilityRerank),
		},
	}
}

// ModelError is the C2 adapter-level failure taxonomy.
type ModelError struct {
	Kind    string
	Message string
	Cause   error
}

func (e *ModelError) Error() string {
	if e.Cause != nil {
		return e.Kind + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Kind + ": " + e.Message
}

func (e *ModelError) Unwrap() error { return e.Cause }

// Model error kinds.
const (
	KindTimeout     = "timeout"
	KindRateLimit   = "rate_limit"
	KindAuth        = "auth"
	KindQuota       = "quota"
	KindBadRequest  = "bad_request"
	KindUnavailable = "unavailable"
	KindInternal    = "internal"
)

// classifyProviderError maps a *llm.Error (or unknown error) into a ModelError.
func classifyProviderError(err error) *ModelError {
	if err == nil {
		return nil
	}
	llmErr, ok := err.(*llm.Error)
	if !ok {
		return &ModelError{Kind: KindInternal, Message: "unclassified provider error", Cause: err}
	}
	kind := KindInternal
	switch llmErr.Code {
	case llm.ErrTimeout, llm.ErrUpstreamTimeout:
		kind = KindTimeout
	case llm.ErrRateLimit, llm.ErrRateLimited:
		kind = KindRateLimit
	case llm.ErrAuthentication, llm.ErrUnauthorized, llm.ErrForbidden:
		kind = KindAuth
	case llm.ErrQuotaExceeded:
		kind = KindQuota
	case llm.ErrInvalidRequest:
		kind = KindBadRequest
	case llm.ErrModelOverloaded, llm.ErrServiceUnavailable, llm.ErrProviderUnavailable, llm.ErrUpstreamError:
		kind = KindUnavailable
	}
	return &ModelError{Kind: kind, Message: llmErr.Message, Cause: llmErr}
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/synapselabs/cortex/api"
	"github.com/synapselabs/cortex/llm"
	"github.com/synapselabs/cortex/models"
	"github.com/synapselabs/cortex/rag"
	"github.com/synapselabs/cortex/research"
	"github.com/synapselabs/cortex/types"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 聊天接口 Handler
// =============================================================================

// contextInjectionCharThreshold is the "research" vs "general"
// retrieval-mode gate and also the "long message" half of step 3's research
// classification gate.
const contextInjectionCharThreshold = 100

// contextTopK is how many retrieved chunks step 2 folds into the injected
// system message.
const contextTopK = 10

// defaultToolIterationCap is the default per-request tool-call round limit.
const defaultToolIterationCap = 8

// researchKeywords is the fixed keyword set matched against the
// last user message before handing off to the research orchestrator for a
// plan-only classification.
var researchKeywords = []string{"research", "analyze", "investigate", "comprehensive", "detailed"}

// ChatHandler is C6: it serves one chat-completion request end-to-end,
// optionally performing context injection, research-plan classification, and
// a bounded tool-call round trip before returning the normalized envelope.
type ChatHandler struct {
	provider llm.Provider
	logger   *zap.Logger

	rag              rag.Collaborator
	registry         *research.Registry
	executor         *research.Executor
	orchestrator     *research.Orchestrator
	resourceMonitor  *research.ResourceMonitor
	toolIterationCap int
}

// ChatHandlerOption configures optional C6 collaborators. Omitting all
// options degrades gracefully to a single provider round trip (no context
// injection, no research classification, no tool loop) — the shape the
// teacher's original handler had.
type ChatHandlerOption func(*ChatHandler)

// WithRetrieval wires the A5 RAG collaborator used for chat context
// injection.
func WithRetrieval(c rag.Collaborator) ChatHandlerOption {
	return func(h *ChatHandler) { h.rag = c }
}

// WithTools wires C4/C5 so tool calls emitted by the model are actually
// dispatched.
func WithTools(registry *research.Registry, executor *research.Executor) ChatHandlerOption {
	return func(h *ChatHandler) { h.registry = registry; h.executor = executor }
}

// WithResearch wires C7 so a long, keyword-matching, webSearch-enabled
// request gets a research plan attached to its envelope.
func WithResearch(o *research.Orchestrator) ChatHandlerOption {
	return func(h *ChatHandler) { h.orchestrator = o }
}

// WithResourceMonitor wires C9 so every request reserves its estimated
// context-token footprint against the monitor's token ceiling before generation and
// releases it once the request completes.
func WithResourceMonitor(m *research.ResourceMonitor) ChatHandlerOption {
	return func(h *ChatHandler) { h.resourceMonitor = m }
}

// WithToolIterationCap overrides the default 8-round tool-call cap.
func WithToolIterationCap(cap int) ChatHandlerOption {
	return func(h *ChatHandler) {
		if cap > 0 {
			h.toolIterationCap = cap
		}
	}
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(provider llm.Provider, logger *zap.Logger, opts ...ChatHandlerOption) *ChatHandler {
	h := &ChatHandler{
		provider:         provider,
		logger:           logger,
		toolIterationCap: defaultToolIterationCap,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleCompletion 处理聊天补全请求
// @Summary 聊天完成
// @Description 发送聊天完成请求
// @Tags 聊天
// @Accept json
// @Produce json
// @Param request body api.ChatRequest true "聊天请求"
// @Success 200 {object} api.ChatResponse "聊天响应"
// @Failure 400 {object} Response "无效请求"
// @Failure 500 {object} Response "内部错误"
// @Security ApiKeyAuth
// @Router /v1/chat/completions [post]
func (h *ChatHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	// 验证 Content-Type
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	// 解码请求
	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	// 验证请求
	if err := h.validateChatRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	// 转换为 LLM 请求
	llmReq := h.convertToLLMRequest(&req)

	// 设置超时
	ctx := r.Context()
	if llmReq.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, llmReq.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, plan, err := h.runChatCore(ctx, &req, llmReq)
	duration := time.Since(start)

	if err != nil {
		h.handleProviderError(w, err)
		return
	}

	// 转换响应
	apiResp := h.convertToAPIResponse(resp)
	apiResp.ResearchPlan = plan

	// 记录日志
	h.logger.Info("chat completion",
		zap.String("model", req.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("duration", duration),
	)

	WriteSuccess(w, apiResp)
}

// runChatCore implements the chat completion flow. Context injection and
// research-plan generation are best-effort: their failures are logged and
// swallowed rather than failing the request. Provider-level errors from the
// generate loop are always surfaced.
func (h *ChatHandler) runChatCore(ctx context.Context, apiReq *api.ChatRequest, llmReq *llm.ChatRequest) (*llm.ChatResponse, *types.ResearchPlan, error) {
	lastUser := lastUserContent(llmReq.Messages)

	// Step 2: context injection.
	if h.rag != nil && lastUser != "" {
		mode := rag.ModeGeneral
		if len(lastUser) > contextInjectionCharThreshold {
			mode = rag.ModeResearch
		}
		if chunks, err := h.rag.Retrieve(ctx, lastUser, mode); err != nil {
			h.logger.Warn("context retrieval failed, proceeding without context", zap.Error(err))
		} else if len(chunks) > 0 {
			llmReq.Messages = append([]types.Message{contextMessage(chunks)}, llmReq.Messages...)
		}
	}

	// Step 3: research classification (plan only, never executed here).
	var plan *types.ResearchPlan
	if apiReq.WebSearch && h.orchestrator != nil && isResearchQuery(lastUser) {
		p, err := h.orchestrator.Plan(ctx, lastUser)
		if err != nil {
			h.logger.Warn("research plan generation failed, continuing without a plan", zap.Error(err))
		} else {
			plan = p
		}
	}

	// Step 4: tool setup.
	if h.registry != nil && (len(llmReq.Tools) > 0 || apiReq.WebSearch) {
		llmReq.Tools = h.registry.Schemas(models.LogicalModel(llmReq.Model), apiReq.WebSearch)
	}

	// C9: reserve this request's estimated context footprint against the
	// token ceiling before generating; release it once the request
	// (including every tool-call round) has returned.
	if h.resourceMonitor != nil {
		contextID := llmReq.TraceID
		if contextID == "" {
			contextID = uuid.NewString()
		}
		kind := research.ModelKindForLogical(models.LogicalModel(llmReq.Model))
		if !h.resourceMonitor.Reserve(contextID, estimatedRequestTokens(llmReq), kind) {
			return nil, plan, types.NewError(types.ErrResourceExhausted, "context exceeds the token reservation ceiling").
				WithRetryable(false)
		}
		defer h.resourceMonitor.Release(contextID)
	}

	// Step 5: generate, looping over tool-call rounds up to the cap.
	resp, err := h.generateWithTools(ctx, llmReq, apiReq.WebSearch)
	if err != nil {
		return nil, plan, err
	}
	return resp, plan, nil
}

// estimatedRequestTokens sums the C2 token estimate across every message
// currently queued for generation, the quantity C9's ceiling is reserved
// against.
func estimatedRequestTokens(llmReq *llm.ChatRequest) int {
	total := 0
	for _, m := range llmReq.Messages {
		total += models.EstimatedTokens(llmReq.Model, m.Content)
	}
	return total
}

// generateWithTools calls the provider, and while the first
// choice carries tool calls and the executor is wired, dispatch them and
// feed the results back as tool-role messages for another round.
func (h *ChatHandler) generateWithTools(ctx context.Context, llmReq *llm.ChatRequest, webSearch bool) (*llm.ChatResponse, error) {
	var resp *llm.ChatResponse
	for round := 0; round < h.toolIterationCap; round++ {
		var err error
		resp, err = h.provider.Completion(ctx, llmReq)
		if err != nil {
			return nil, err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return resp, nil
		}

		calls := resp.Choices[0].Message.ToolCalls
		if len(calls) == 0 || h.executor == nil {
			return resp, nil
		}

		llmReq.Messages = append(llmReq.Messages, resp.Choices[0].Message)
		results := h.executor.Execute(ctx, models.LogicalModel(llmReq.Model), webSearch, calls)
		for _, res := range results {
			llmReq.Messages = append(llmReq.Messages, res.ToMessage())
		}
	}
	return resp, nil
}

// lastUserContent returns the content of the last user-role message, the
// active query for retrieval and research classification.
func lastUserContent(messages []types.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// isResearchQuery reports whether content is long enough and matches one of
// the fixed research keywords above.
func isResearchQuery(content string) bool {
	if len(content) <= contextInjectionCharThreshold {
		return false
	}
	lower := strings.ToLower(content)
	for _, kw := range researchKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// contextMessage builds the system-role "Use the following context: …"
// message the chat flow prepends, enumerating up to contextTopK chunks.
func contextMessage(chunks []rag.RetrievedChunk) types.Message {
	var b strings.Builder
	b.WriteString("Use the following context:\n")
	n := len(chunks)
	if n > contextTopK {
		n = contextTopK
	}
	for i := 0; i < n; i++ {
		b.WriteString("- ")
		b.WriteString(chunks[i].Content)
		b.WriteString("\n")
	}
	return types.Message{Role: types.RoleSystem, Content: b.String()}
}

// HandleStream 处理流式聊天请求
// @Summary 流式聊天完成
// @Description 发送流式聊天完成请求
// @Tags 聊天
// @Accept json
// @Produce text/event-stream
// @Param request body api.ChatRequest true "聊天请求"
// @Success 200 {string} string "SSE 流"
// @Failure 400 {object} Response "无效请求"
// @Failure 500 {object} Response "内部错误"
// @Security ApiKeyAuth
// @Router /v1/chat/completions/stream [post]
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	// 验证 Content-Type
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	// 解码请求
	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	// 验证请求
	if err := h.validateChatRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	// 转换为 LLM 请求
	llmReq := h.convertToLLMRequest(&req)

	// 设置 SSE 响应头
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲

	// 调用 Provider 流式接口
	ctx := r.Context()
	stream, err := h.provider.Stream(ctx, llmReq)
	if err != nil {
		h.handleProviderError(w, err)
		return
	}

	// 发送流式数据
	flusher, ok := w.(http.Flusher)
	if !ok {
		err := types.NewError(types.ErrInternalError, "streaming not supported")
		WriteError(w, err, h.logger)
		return
	}

	for chunk := range stream {
		if chunk.Err != nil {
			h.logger.Error("stream error", zap.Error(chunk.Err))
			// SSE 错误事件 — 使用 json.Marshal 转义错误消息，防止 JSON 注入
			errPayload, _ := json.Marshal(map[string]string{"error": chunk.Err.Message})
			w.Write([]byte("event: error\n"))
			w.Write([]byte("data: "))
			w.Write(errPayload)
			w.Write([]byte("\n\n"))
			flusher.Flush()
			return
		}

		// 转换为 API 格式
		apiChunk := h.convertToAPIStreamChunk(&chunk)

		// 发送 SSE 事件
		w.Write([]byte("data: "))
		if err := writeJSON(w, apiChunk); err != nil {
			h.logger.Error("failed to write chunk", zap.Error(err))
			return
		}
		w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	// 发送结束标记
	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// validateChatRequest 验证聊天请求
func (h *ChatHandler) validateChatRequest(req *api.ChatRequest) *types.Error {
	if req.Model == "" {
		return types.NewError(types.ErrInvalidRequest, "model is required")
	}

	if len(req.Messages) == 0 {
		return types.NewError(types.ErrInvalidRequest, "messages cannot be empty")
	}

	// 验证温度参数
	if req.Temperature < 0 || req.Temperature > 2 {
		return types.NewError(types.ErrInvalidRequest, "temperature must be between 0 and 2")
	}

	// 验证 TopP 参数
	if req.TopP < 0 || req.TopP > 1 {
		return types.NewError(types.ErrInvalidRequest, "top_p must be between 0 and 1")
	}

	return nil
}

// convertToLLMRequest 转换为 LLM 请求
func (h *ChatHandler) convertToLLMRequest(req *api.ChatRequest) *llm.ChatRequest {
	// 解析超时
	timeout := 30 * time.Second
	if req.Timeout != "" {
		if d, err := time.ParseDuration(req.Timeout); err == nil {
			timeout = d
		}
	}

	// 转换 Messages（api.Message -> types.Message）
	messages := make([]types.Message, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = types.Message{
			Role:       types.Role(msg.Role),
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCalls:  msg.ToolCalls,
			ToolCallID: msg.ToolCallID,
		}
	}

	// 转换 Tools（api.ToolSchema -> types.ToolSchema）
	tools := make([]types.ToolSchema, len(req.Tools))
	for i, tool := range req.Tools {
		tools[i] = types.ToolSchema{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		}
	}

	return &llm.ChatRequest{
		TraceID:     req.TraceID,
		TenantID:    req.TenantID,
		UserID:      req.UserID,
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Tools:       tools,
		ToolChoice:  req.ToolChoice,
		Timeout:     timeout,
		Metadata:    req.Metadata,
		Tags:        req.Tags,
	}
}

// convertToAPIResponse 转换为 API 响应
func (h *ChatHandler) convertToAPIResponse(resp *llm.ChatResponse) *api.ChatResponse {
	return &api.ChatResponse{
		ID:        resp.ID,
		Provider:  resp.Provider,
		Model:     resp.Model,
		Choices:   h.convertChoices(resp.Choices),
		Usage:     h.convertUsage(resp.Usage),
		CreatedAt: resp.CreatedAt,
	}
}

// convertChoices 转换选择列表
func (h *ChatHandler) convertChoices(choices []llm.ChatChoice) []api.ChatChoice {
	result := make([]api.ChatChoice, len(choices))
	for i, choice := range choices {
		result[i] = api.ChatChoice{
			Index:        choice.Index,
			FinishReason: choice.FinishReason,
			Message: api.Message{
				Role:       string(choice.Message.Role),
				Content:    choice.Message.Content,
				Name:       choice.Message.Name,
				ToolCalls:  choice.Message.ToolCalls,
				ToolCallID: choice.Message.ToolCallID,
			},
		}
	}
	return result
}

// convertUsage 转换使用统计
func (h *ChatHandler) convertUsage(usage llm.ChatUsage) api.ChatUsage {
	return api.ChatUsage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
	}
}

// convertToAPIStreamChunk 转换流式块
func (h *ChatHandler) convertToAPIStreamChunk(chunk *llm.StreamChunk) *api.StreamChunk {
	return &api.StreamChunk{
		ID:       chunk.ID,
		Provider: chunk.Provider,
		Model:    chunk.Model,
		Index:    chunk.Index,
		Delta: api.Message{
			Role:       string(chunk.Delta.Role),
			Content:    chunk.Delta.Content,
			Name:       chunk.Delta.Name,
			ToolCalls:  chunk.Delta.ToolCalls,
			ToolCallID: chunk.Delta.ToolCallID,
		},
		FinishReason: chunk.FinishReason,
		Usage:        convertStreamUsage(chunk.Usage),
	}
}

// convertStreamUsage safely converts *llm.ChatUsage to *api.ChatUsage
// without relying on unsafe pointer casts between distinct types.
func convertStreamUsage(u *llm.ChatUsage) *api.ChatUsage {
	if u == nil {
		return nil
	}
	return &api.ChatUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// handleProviderError 处理 Provider 错误
func (h *ChatHandler) handleProviderError(w http.ResponseWriter, err error) {
	if typedErr, ok := err.(*types.Error); ok {
		WriteError(w, typedErr, h.logger)
		return
	}

	// 未知错误，包装为内部错误
	internalErr := types.NewError(types.ErrInternalError, "provider error").
		WithCause(err).
		WithRetryable(false)

	WriteError(w, internalErr, h.logger)
}

// writeJSON 写入 JSON（不包含响应头）
func writeJSON(w http.ResponseWriter, data any) error {
	encoder := json.NewEncoder(w)
	return encoder.Encode(data)
}

// =============================================================================
// 🔄 类型转换辅助函数
// =============================================================================

// Note: convertAPIToolCallsToTypes and convertTypesToolCallsToAPI were removed
// because api.ToolCall is now a type alias for types.ToolCall — no conversion needed.

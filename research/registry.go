package research

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/synapselabs/cortex/models"
	"github.com/synapselabs/cortex/types"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Tool is one thing the model can call. Built-in tools wrap a model
// adapter or an external search API; executors built with this registry are
// not required to know which.
type Tool interface {
	Name() string
	Schema() types.ToolSchema
	Execute(ctx context.Context, call types.ToolCall) types.ToolResult
	MaxConcurrent() int
	Timeout() time.Duration
}

// toolEntry pairs a Tool with the per-tool semaphore enforcing MaxConcurrent.
type toolEntry struct {
	tool Tool
	sem  *semaphore.Weighted
}

// Registry is C4: it owns the tool set, the per-tool semaphore/timeout, and
// the model→tool access matrix.
type Registry struct {
	tools map[string]*toolEntry
	specs map[models.LogicalModel]models.ModelSpec
}

// NewRegistry builds an empty registry over the given model specialization
// table (normally models.DefaultSpecs()).
func NewRegistry(specs map[models.LogicalModel]models.ModelSpec) *Registry {
	return &Registry{
		tools: make(map[string]*toolEntry),
		specs: specs,
	}
}

// Register adds a tool, replacing any prior tool of the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = &toolEntry{
		tool: t,
		sem:  semaphore.NewWeighted(int64(maxInt(t.MaxConcurrent(), 1))),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Available returns the set of tool names reachable for model, adding
// {light-search, medium-search} when webSearch is true.
func (r *Registry) Available(model models.LogicalModel, webSearch bool) map[string]struct{} {
	out := make(map[string]struct{})
	if spec, ok := r.specs[model]; ok {
		for _, name := range spec.BaseTools {
			if _, exists := r.tools[name]; exists {
				out[name] = struct{}{}
			}
		}
	}
	if webSearch {
		for _, name := range []string{"light-search", "medium-search"} {
			if _, exists := r.tools[name]; exists {
				out[name] = struct{}{}
			}
		}
	}
	return out
}

// Schemas returns the ToolSchema for every tool Available(model, webSearch)
// names, in name order.
func (r *Registry) Schemas(model models.LogicalModel, webSearch bool) []types.ToolSchema {
	avail := r.Available(model, webSearch)
	names := make([]string, 0, len(avail))
	for name := range avail {
		names = append(names, name)
	}
	sort.Strings(names)

	schemas := make([]types.ToolSchema, 0, len(names))
	for _, name := range names {
		if e, ok := r.tools[name]; ok {
			schemas = append(schemas, e.tool.Schema())
		}
	}
	return schemas
}

// Get returns the registered tool entry by name.
func (r *Registry) get(name string) (*toolEntry, bool) {
	e, ok := r.tools[name]
	return e, ok
}

// AdapterTool wraps a models.Adapter (chat-code, multimodal) as a tool: its
// Execute builds a single-message request from the call's "query"/"prompt"
// argument and returns the adapter's first choice content as the result.
type AdapterTool struct {
	name          string
	schema        types.ToolSchema
	adapter       models.Adapter
	maxConcurrent int
	timeout       time.Duration
}

// NewAdapterTool builds a built-in tool backed by a model adapter (coder,
// multimodal per the tool registration table).
func NewAdapterTool(name string, schema types.ToolSchema, adapter models.Adapter, maxConcurrent int, timeout time.Duration) *AdapterTool {
	return &AdapterTool{name: name, schema: schema, adapter: adapter, maxConcurrent: maxConcurrent, timeout: timeout}
}

func (t *AdapterTool) Name() string               { return t.name }
func (t *AdapterTool) Schema() types.ToolSchema    { return t.schema }
func (t *AdapterTool) MaxConcurrent() int          { return t.maxConcurrent }
func (t *AdapterTool) Timeout() time.Duration      { return t.timeout }

func (t *AdapterTool) Execute(ctx context.Context, call types.ToolCall) types.ToolResult {
	proxy, err := queryProxy(call.Arguments)
	if err != nil {
		return errorResult(call, err.Error())
	}

	messages := []types.Message{{Role: types.RoleUser, Content: proxy}}
	resp, err := t.adapter.Generate(ctx, messages, nil, models.GenerateParams{})
	if err != nil {
		return errorResult(call, err.Error())
	}
	if resp == nil || len(resp.Choices) == 0 {
		return errorResult(call, "adapter returned no choices")
	}

	payload, _ := json.Marshal(map[string]string{"content": resp.Choices[0].Message.Content})
	return types.ToolResult{ToolCallID: call.ID, Name: t.name, Result: payload}
}

// SearchClient is the minimal external search API surface a built-in
// POST {model, messages:[{role:"user",content:query}]} → {choices, citations?}.
type SearchClient interface {
	Search(ctx context.Context, model, query string) (content string, citations []string, err error)
}

// SearchTool wraps a SearchClient as a built-in light-search/medium-search
// tool.
type SearchTool struct {
	name          string
	schema        types.ToolSchema
	client        SearchClient
	model         string
	maxConcurrent int
	timeout       time.Duration
	limiter       *rate.Limiter
}

// NewSearchTool builds light-search or medium-search.
func NewSearchTool(name string, schema types.ToolSchema, client SearchClient, model string, maxConcurrent int, timeout time.Duration) *SearchTool {
	return &SearchTool{name: name, schema: schema, client: client, model: model, maxConcurrent: maxConcurrent, timeout: timeout}
}

// WithRateLimit attaches a token-bucket limiter and returns t for chaining.
// Every Execute waits for a token first, keeping the dispatch rate under the
// backing search API's own limit independently of the semaphore's
// concurrency bound.
func (t *SearchTool) WithRateLimit(rps float64, burst int) *SearchTool {
	if rps > 0 && burst > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return t
}

func (t *SearchTool) Name() string            { return t.name }
func (t *SearchTool) Schema() types.ToolSchema { return t.schema }
func (t *SearchTool) MaxConcurrent() int       { return t.maxConcurrent }
func (t *SearchTool) Timeout() time.Duration   { return t.timeout }

func (t *SearchTool) Execute(ctx context.Context, call types.ToolCall) types.ToolResult {
	proxy, err := queryProxy(call.Arguments)
	if err != nil {
		return errorResult(call, err.Error())
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return errorResult(call, "cancelled waiting for search rate limit")
		}
	}

	content, citations, err := t.client.Search(ctx, t.model, proxy)
	if err != nil {
		return errorResult(call, err.Error())
	}

	payload, _ := json.Marshal(map[string]any{"content": content, "citations": citations})
	return types.ToolResult{ToolCallID: call.ID, Name: t.name, Result: payload}
}

func errorResult(call types.ToolCall, msg string) types.ToolResult {
	return types.ToolResult{ToolCallID: call.ID, Error: msg}
}

// queryProxy extracts the argument the diversity validator scores: the
// "query" field, else "prompt", else the whole raw argument map stringified.
func queryProxy(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return string(raw), nil
	}
	if q, ok := m["query"].(string); ok {
		return q, nil
	}
	if p, ok := m["prompt"].(string); ok {
		return p, nil
	}
	return string(raw), nil
}

// substituteQuery replaces the "query"/"prompt" field of raw with value,
// preserving every other field.
func substituteQuery(raw json.RawMessage, value string) json.RawMessage {
	var m map[string]any
	if len(raw) == 0 {
		m = make(map[string]any)
	} else if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		m = map[string]any{"query": value}
		out, _ := json.Marshal(m)
		return out
	}
	if _, ok := m["query"]; ok {
		m["query"] = value
	} else if _, ok := m["prompt"]; ok {
		m["prompt"] = value
	} else {
		m["query"] = value
	}
	out, err := json.Marshal(m)
	if err != nil {
		return raw
	}
	return out
}

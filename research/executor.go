package research

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/synapselabs/cortex/llm/cache"
	"github.com/synapselabs/cortex/models"
	"github.com/synapselabs/cortex/types"
)

// Executor is C5: turns a batch of ToolCalls from one model round into
// ToolResults, validating against the registry's access matrix and the
// diversity validator before concurrent dispatch.
type Executor struct {
	registry  *Registry
	diversity *DiversityValidator
	toolCache *cache.ToolResultCache
}

// NewExecutor builds C5 over a registry and diversity validator.
func NewExecutor(registry *Registry, diversity *DiversityValidator) *Executor {
	if diversity == nil {
		diversity = NewDiversityValidator()
	}
	return &Executor{registry: registry, diversity: diversity}
}

// WithToolCache attaches a result cache and returns e for chaining. A call
// whose (tool, arguments) pair hits the cache returns the cached result
// without dispatching; only successful executions are stored. The cache's
// own exclusion list keeps generative tools out.
func (e *Executor) WithToolCache(tc *cache.ToolResultCache) *Executor {
	e.toolCache = tc
	return e
}

// Execute runs calls, respecting each tool's semaphore and timeout, and
// returns results in call-id order. Cancelling ctx cancels every outstanding
// call; semaphores are released on every exit path.
func (e *Executor) Execute(ctx context.Context, model models.LogicalModel, webSearch bool, calls []types.ToolCall) []types.ToolResult {
	if len(calls) == 0 {
		return nil
	}

	calls = e.applyDiversityRewrite(calls)
	available := e.registry.Available(model, webSearch)

	results := make([]types.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		i, call := i, call

		if _, ok := available[call.Name]; !ok {
			results[i] = types.ToolResult{ToolCallID: call.ID, Name: call.Name, Error: "tool not permitted for model"}
			continue
		}

		entry, ok := e.registry.get(call.Name)
		if !ok {
			results[i] = types.ToolResult{ToolCallID: call.ID, Name: call.Name, Error: "unknown tool"}
			continue
		}

		if e.toolCache != nil {
			if hit, ok := e.toolCache.Get(call.Name, call.Arguments); ok {
				results[i] = types.ToolResult{ToolCallID: call.ID, Name: call.Name, Result: hit.Result, Error: hit.Error}
				continue
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.runOne(ctx, entry, call)
		}()
	}
	wg.Wait()
	return results
}

func (e *Executor) runOne(ctx context.Context, entry *toolEntry, call types.ToolCall) types.ToolResult {
	if err := entry.sem.Acquire(ctx, 1); err != nil {
		return types.ToolResult{ToolCallID: call.ID, Name: call.Name, Error: "cancelled waiting for tool slot"}
	}
	defer entry.sem.Release(1)

	start := time.Now()
	callCtx := ctx
	var cancel context.CancelFunc
	if entry.tool.Timeout() > 0 {
		callCtx, cancel = context.WithTimeout(ctx, entry.tool.Timeout())
		defer cancel()
	}

	done := make(chan types.ToolResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- types.ToolResult{ToolCallID: call.ID, Name: call.Name, Error: fmt.Sprintf("panic: %v", r)}
			}
		}()
		done <- entry.tool.Execute(callCtx, call)
	}()

	select {
	case res := <-done:
		res.Duration = time.Since(start)
		if e.toolCache != nil && res.Error == "" {
			e.toolCache.Set(call.Name, call.Arguments, res.Result, "")
		}
		return res
	case <-callCtx.Done():
		elapsed := time.Since(start)
		if callCtx.Err() == context.DeadlineExceeded {
			return types.ToolResult{ToolCallID: call.ID, Name: call.Name, Error: "timeout", Duration: elapsed}
		}
		return types.ToolResult{ToolCallID: call.ID, Name: call.Name, Error: "cancelled", Duration: elapsed}
	}
}

// applyDiversityRewrite extracts each call's query proxy, validates the
// batch for diversity, and — if not diverse — substitutes the rewritten
// queries back into each call's argument map.
func (e *Executor) applyDiversityRewrite(calls []types.ToolCall) []types.ToolCall {
	proxies := make([]string, len(calls))
	for i, c := range calls {
		proxy, err := queryProxy(c.Arguments)
		if err != nil {
			proxy = string(c.Arguments)
		}
		proxies[i] = proxy
	}

	if e.diversity.Validate(proxies) {
		return calls
	}

	rewritten := e.diversity.Diversify(proxies)
	out := make([]types.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = c
		if rewritten[i] != proxies[i] {
			out[i].Arguments = substituteQuery(c.Arguments, rewritten[i])
		}
	}
	return out
}

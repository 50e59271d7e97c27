package research

import (
	"context"

	"github.com/synapselabs/cortex/llm"
	"github.com/synapselabs/cortex/models"
	"github.com/synapselabs/cortex/types"
)

// AdapterSubagentRunner is the default SubagentRunner: it drives one
// subtask's instructions to completion on a single logical model, dispatching
// any tool calls the model emits through the shared C5 executor, restricted
// to the subtask's requiredTools, up to a fixed round cap.
type AdapterSubagentRunner struct {
	adapter  models.Adapter
	executor *Executor
	model    models.LogicalModel
	rounds   int
}

// NewAdapterSubagentRunner builds a SubagentRunner bound to one chat adapter
// (normally chat-light, to keep per-subagent cost low against the
// coordinator's wide concurrency budget) and the shared tool executor.
func NewAdapterSubagentRunner(adapter models.Adapter, executor *Executor, model models.LogicalModel) *AdapterSubagentRunner {
	return &AdapterSubagentRunner{adapter: adapter, executor: executor, model: model, rounds: 4}
}

// Run satisfies research.SubagentRunner.
func (r *AdapterSubagentRunner) Run(ctx context.Context, instructions string, allowedTools []string) (string, error) {
	messages := []types.Message{{Role: types.RoleUser, Content: instructions}}
	tools := r.toolSchemas(allowedTools)

	var resp *llm.ChatResponse
	for round := 0; round < r.rounds; round++ {
		var err error
		resp, err = r.adapter.Generate(ctx, messages, tools, models.GenerateParams{})
		if err != nil {
			return "", err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return "", nil
		}

		calls := resp.Choices[0].Message.ToolCalls
		if len(calls) == 0 || r.executor == nil {
			return resp.Choices[0].Message.Content, nil
		}

		messages = append(messages, resp.Choices[0].Message)
		results := r.executor.Execute(ctx, r.model, false, calls)
		for _, res := range results {
			messages = append(messages, res.ToMessage())
		}
	}
	return resp.Choices[0].Message.Content, nil
}

// toolSchemas narrows the model's full tool access down to the subset a
// subtask's plan entry names in requiredTools.
func (r *AdapterSubagentRunner) toolSchemas(allowedTools []string) []types.ToolSchema {
	if r.executor == nil || len(allowedTools) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(allowedTools))
	for _, name := range allowedTools {
		allowed[name] = struct{}{}
	}

	all := r.executor.registry.Schemas(r.model, false)
	out := make([]types.ToolSchema, 0, len(all))
	for _, s := range all {
		if _, ok := allowed[s.Name]; ok {
			out = append(out, s)
		}
	}
	return out
}

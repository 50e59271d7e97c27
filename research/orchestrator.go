package research

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/synapselabs/cortex/models"
	"github.com/synapselabs/cortex/rag"
	"github.com/synapselabs/cortex/types"
	"go.uber.org/zap"
)

const (
	defaultSubagentTimeout = 300 * time.Second
	defaultMaxRetries      = 2
	compiledMarkdownCap    = 50_000
	ragContextCap          = 10_000
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\n(.*?)```")

const planningSystemPrompt = "You are a research coordinator. Decompose the user's query into 1-5 independent or " +
	"dependency-ordered subtasks. Respond with JSON matching: " +
	`{"title":"","description":"","subtasks":[{"id":"","title":"","description":"","instructions":"","priority":0,"requiredTools":[],"dependencies":[],"estimatedDuration":0}],"estimatedAgents":0,"estimatedDuration":0}`

const synthesisSystemPrompt = "You are a synthesis analyst. Given a research plan description and compiled findings, " +
	"produce a five-part analysis: Executive Summary, Key Findings, Insights, Conclusions, Recommendations."

// Orchestrator is C7: drives the planning -> executing -> compiling ->
// synthesizing state machine for one deep-research query.
type Orchestrator struct {
	largeAdapter    models.Adapter
	subagentRunner  SubagentRunner
	coordinator     *Coordinator
	rag             rag.Collaborator
	cache           *ResultCache
	resourceMonitor *ResourceMonitor
	logger          *zap.Logger

	subagentTimeout time.Duration
	maxRetries      int
}

// OrchestratorOption tunes an Orchestrator at construction.
type OrchestratorOption func(*Orchestrator)

// WithSubagentTimeout overrides the default per-sub-agent deadline used
// when a subtask declares no estimatedDuration of its own.
func WithSubagentTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.subagentTimeout = d
		}
	}
}

// WithSubagentMaxRetries overrides the per-subtask retry budget.
func WithSubagentMaxRetries(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// SubagentRunner executes one subtask's instructions and returns its
// textual result. Typically backed by a models.Adapter plus the C5 tool
// executor for subtasks whose requiredTools is non-empty.
type SubagentRunner interface {
	Run(ctx context.Context, instructions string, allowedTools []string) (string, error)
}

// NewOrchestrator builds C7. resourceMonitor may be nil, in which case C9
// reservation is skipped (every sub-agent runs unconditionally, matching the
// behavior before C9 was wired in).
func NewOrchestrator(largeAdapter models.Adapter, subagentRunner SubagentRunner, coordinator *Coordinator, collaborator rag.Collaborator, cache *ResultCache, resourceMonitor *ResourceMonitor, logger *zap.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		largeAdapter:    largeAdapter,
		subagentRunner:  subagentRunner,
		coordinator:     coordinator,
		rag:             collaborator,
		cache:           cache,
		resourceMonitor: resourceMonitor,
		logger:          logger.With(zap.String("component", "research_orchestrator")),
		subagentTimeout: defaultSubagentTimeout,
		maxRetries:      defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Plan runs phase 1: prompt the large adapter for a plan and validate it.
// This alone is what the Chat Core's research classification invokes —
// execution is a separate, explicit call to Execute.
func (o *Orchestrator) Plan(ctx context.Context, query string) (*types.ResearchPlan, error) {
	messages := []types.Message{
		{Role: types.RoleSystem, Content: planningSystemPrompt},
		{Role: types.RoleUser, Content: query},
	}
	resp, err := o.largeAdapter.Generate(ctx, messages, nil, models.GenerateParams{})
	if err != nil {
		return nil, fmt.Errorf("research: plan generation: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("research: plan generation: empty response")
	}

	plan, err := parsePlan(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	plan.Query = query
	plan.ID = uuid.NewString()
	plan.CreatedAt = time.Now()

	if len(plan.Subtasks) == 0 {
		return nil, fmt.Errorf("research: plan has no subtasks")
	}
	if err := checkAcyclic(plan.Subtasks); err != nil {
		return nil, err
	}
	if plan.EstimatedAgents < 1 {
		plan.EstimatedAgents = 1
	}
	if plan.EstimatedAgents > 5 {
		plan.EstimatedAgents = 5
	}
	return plan, nil
}

func parsePlan(content string) (*types.ResearchPlan, error) {
	raw := content
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		raw = m[1]
	}
	var plan types.ResearchPlan
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &plan); err != nil {
		return nil, fmt.Errorf("research: parse plan JSON: %w", err)
	}
	return &plan, nil
}

// checkAcyclic rejects a subtask set whose dependency graph has a cycle.
func checkAcyclic(subtasks []types.Subtask) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	byID := make(map[string]types.Subtask, len(subtasks))
	for _, s := range subtasks {
		byID[s.ID] = s
	}
	color := make(map[string]int, len(subtasks))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range byID[id].Dependencies {
			if _, ok := byID[dep]; !ok {
				continue
			}
			switch color[dep] {
			case gray:
				return fmt.Errorf("research: cyclic dependency involving subtask %q", dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, s := range subtasks {
		if color[s.ID] == white {
			if err := visit(s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Execute runs phases 2-7 for an already-validated plan.
func (o *Orchestrator) Execute(ctx context.Context, plan *types.ResearchPlan) *types.ResearchResult {
	start := time.Now()
	result := &types.ResearchResult{
		Plan:      plan,
		Status:    types.ResearchExecuting,
		CreatedAt: start,
	}

	executions := o.spawnAndRun(ctx, plan)
	result.Executions = executions

	result.CompiledMarkdown = o.compile(plan, executions)
	result.Status = types.ResearchCompiling

	if o.rag != nil {
		if docID, err := o.rag.Ingest(ctx, result.CompiledMarkdown, map[string]interface{}{"planId": plan.ID}); err == nil {
			result.RAGDocID = docID
		} else {
			o.logger.Warn("research ingest failed, continuing without ragDocId", zap.Error(err))
		}
	}

	result.Status = types.ResearchSynthesizing
	synthesis, synthErr := o.synthesize(ctx, plan, result)
	anyFailed := false
	for _, e := range executions {
		if e.State == types.SubAgentFailed {
			anyFailed = true
		}
	}

	switch {
	case synthErr != nil:
		result.Status = types.ResearchFailed
	case anyFailed:
		result.Status = types.ResearchPartial
		result.Synthesis = synthesis
	default:
		result.Status = types.ResearchCompleted
		result.Synthesis = synthesis
	}

	if o.rag != nil && result.Status != types.ResearchFailed {
		if artifact, err := o.rag.Render(ctx, result.CompiledMarkdown); err == nil {
			result.PDFArtifact = artifact
		} else {
			o.logger.Warn("research render failed, downgrading to no pdf artifact", zap.Error(err))
		}
	}

	now := time.Now()
	result.CompletedAt = &now
	result.ElapsedMillis = now.Sub(start).Milliseconds()

	if o.cache != nil {
		o.cache.Put(plan.ID, result)
	}
	return result
}

// spawnAndRun builds one SubAgentExecution per subtask and runs them
// through the coordinator, respecting the dependency DAG: an execution
// becomes eligible once all of its prerequisites have reached succeeded.
func (o *Orchestrator) spawnAndRun(ctx context.Context, plan *types.ResearchPlan) []*types.SubAgentExecution {
	subtaskByID := make(map[string]types.Subtask, len(plan.Subtasks))
	for _, s := range plan.Subtasks {
		subtaskByID[s.ID] = s
	}

	// dependents maps a subtask id to the ids that declare it as a
	// dependency, the reverse edge markDependentsFailed walks to cascade a
	// failure transitively: for a chain a -> b -> c, failing a must also
	// fail c, not just its direct dependent b.
	dependents := make(map[string][]string, len(plan.Subtasks))
	for _, s := range plan.Subtasks {
		for _, dep := range s.Dependencies {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var mu sync.Mutex
	execByID := make(map[string]*types.SubAgentExecution, len(plan.Subtasks))
	retries := make(map[string]int)
	remaining := len(plan.Subtasks)
	done := make(chan struct{})

	for _, s := range plan.Subtasks {
		execByID[s.ID] = &types.SubAgentExecution{ID: uuid.NewString(), SubtaskID: s.ID, State: types.SubAgentPending}
	}

	isEligible := func(s types.Subtask) bool {
		for _, dep := range s.Dependencies {
			depExec, ok := execByID[dep]
			if !ok {
				continue
			}
			if depExec.State != types.SubAgentSucceeded {
				return false
			}
		}
		return true
	}

	// markDependentsFailed cascades a failure transitively by walking the
	// dependents graph breadth-first: every not-yet-terminal execution
	// reachable from failedID through dependency edges is marked failed, so
	// a dependency chain of depth >= 3 can't leave a downstream execution
	// stuck pending forever. Caller must hold mu.
	markDependentsFailed := func(failedID string) {
		queue := []string{failedID}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			for _, depID := range dependents[id] {
				exec := execByID[depID]
				if exec.State != types.SubAgentPending {
					continue
				}
				exec.State = types.SubAgentFailed
				exec.Error = "dependency failed: " + id
				remaining--
				queue = append(queue, depID)
			}
		}
	}

	var trySubmit func(subtaskID string)
	var onComplete func(subtaskID string, out string, runErr error)

	trySubmit = func(subtaskID string) {
		s := subtaskByID[subtaskID]

		mu.Lock()
		exec := execByID[subtaskID]
		exec.State = types.SubAgentRunning
		startedAt := time.Now()
		exec.StartedAt = &startedAt
		reservationID := exec.ID
		mu.Unlock()

		instructions := subagentInstructions(plan.Query, s)
		timeout := time.Duration(s.EstimatedSeconds) * time.Second
		if timeout <= 0 {
			timeout = o.subagentTimeout
		}

		// C9: reserve this attempt's estimated context footprint before it
		// occupies a coordinator slot; release it when the attempt finishes,
		// however it finishes. A denied reservation fails this attempt the
		// same way a subagentRunner error would (subject to the same retry
		// budget), surfacing pressure back to C7 instead of silently
		// over-subscribing the token ceiling.
		if o.resourceMonitor != nil {
			tokens := models.EstimatedTokens(string(models.ModelChatLight), instructions)
			if !o.resourceMonitor.Reserve(reservationID, tokens, ModelKindForLogical(models.ModelChatLight)) {
				onComplete(subtaskID, "", fmt.Errorf("resource_exhausted: token reservation ceiling reached"))
				return
			}
		}

		// A closed coordinator means the attempt never ran: release the
		// reservation and route the error through the same completion path a
		// runner failure takes, so remaining still reaches zero instead of
		// the plan hanging until the execution budget expires.
		if err := o.coordinator.Submit(Task{
			ID:       subtaskID,
			Priority: s.Priority,
			Timeout:  timeout,
			Run: func(taskCtx context.Context) error {
				if o.resourceMonitor != nil {
					defer o.resourceMonitor.Release(reservationID)
				}
				out, err := o.subagentRunner.Run(taskCtx, instructions, s.RequiredTools)
				onComplete(subtaskID, out, err)
				return err
			},
		}); err != nil {
			if o.resourceMonitor != nil {
				o.resourceMonitor.Release(reservationID)
			}
			onComplete(subtaskID, "", err)
		}
	}

	onComplete = func(subtaskID string, out string, runErr error) {
		mu.Lock()
		defer mu.Unlock()

		exec := execByID[subtaskID]
		finishedAt := time.Now()

		if runErr != nil {
			if retries[subtaskID] < o.maxRetries {
				retries[subtaskID]++
				exec.Retries = retries[subtaskID]
				exec.State = types.SubAgentPending
				go trySubmit(subtaskID)
				return
			}
			exec.State = types.SubAgentFailed
			exec.Error = runErr.Error()
			exec.FinishedAt = &finishedAt
			remaining--
			markDependentsFailed(subtaskID)
		} else {
			exec.State = types.SubAgentSucceeded
			exec.Result = out
			exec.FinishedAt = &finishedAt
			remaining--
		}

		for _, s := range subtaskByID {
			if execByID[s.ID].State == types.SubAgentPending && isEligible(s) {
				go trySubmit(s.ID)
			}
		}

		if remaining <= 0 {
			close(done)
		}
	}

	mu.Lock()
	for _, s := range plan.Subtasks {
		if isEligible(s) {
			go trySubmit(s.ID)
		}
	}
	mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
	}

	// On the ctx.Done() path, trySubmit/onComplete goroutines for
	// not-yet-finished sub-agents may still be running and writing to their
	// executions after this function returns. Snapshot each execution by
	// value under mu so the caller never reads a struct concurrently with
	// one of those writers.
	mu.Lock()
	out := make([]*types.SubAgentExecution, 0, len(plan.Subtasks))
	for _, s := range plan.Subtasks {
		snapshot := *execByID[s.ID]
		out = append(out, &snapshot)
	}
	mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SubtaskID < out[j].SubtaskID })
	return out
}

func subagentInstructions(query string, s types.Subtask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall research query: %s\n", query)
	fmt.Fprintf(&b, "Your focus: %s\n%s\n", s.Title, s.Description)
	if s.Instructions != "" {
		fmt.Fprintf(&b, "Instructions: %s\n", s.Instructions)
	}
	if len(s.RequiredTools) > 0 {
		fmt.Fprintf(&b, "Allowed tools: %s\n", strings.Join(s.RequiredTools, ", "))
	}
	b.WriteString("If you issue multiple concurrent tool queries, make each one explore a distinct angle.")
	return b.String()
}

// compile produces the markdown document phase 4 describes. It never
// fails; missing content becomes an italic placeholder.
func (o *Orchestrator) compile(plan *types.ResearchPlan, executions []*types.SubAgentExecution) string {
	subtaskByID := make(map[string]types.Subtask, len(plan.Subtasks))
	for _, s := range plan.Subtasks {
		subtaskByID[s.ID] = s
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", firstNonEmpty(plan.Title, "Research Report"))
	fmt.Fprintf(&b, "**Query:** %s\n\n", plan.Query)
	fmt.Fprintf(&b, "**Generated:** %s\n\n", time.Now().Format(time.RFC3339))

	b.WriteString("## Table of Contents\n\n")
	for _, e := range executions {
		s := subtaskByID[e.SubtaskID]
		fmt.Fprintf(&b, "- %s\n", firstNonEmpty(s.Title, e.SubtaskID))
	}
	b.WriteString("\n")

	var failed []*types.SubAgentExecution
	for _, e := range executions {
		s := subtaskByID[e.SubtaskID]
		if e.State != types.SubAgentSucceeded {
			failed = append(failed, e)
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", firstNonEmpty(s.Title, e.SubtaskID))
		fmt.Fprintf(&b, "_Focus: %s_\n\n", firstNonEmpty(s.Description, "(no description)"))
		content := e.Result
		if content == "" {
			content = "*No content was returned for this subtask.*"
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}

	if len(failed) > 0 {
		b.WriteString("## Research Limitations\n\n")
		for _, e := range failed {
			s := subtaskByID[e.SubtaskID]
			errMsg := e.Error
			if errMsg == "" {
				errMsg = "unknown error"
			}
			fmt.Fprintf(&b, "- %s: %s\n", firstNonEmpty(s.Title, e.SubtaskID), errMsg)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "---\n*Plan ID: %s — %d agent(s) dispatched*\n", plan.ID, len(executions))
	return b.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// synthesize runs phase 6: a five-part analysis from the compiled markdown
// plus (when available) RAG context retrieved with the original query.
func (o *Orchestrator) synthesize(ctx context.Context, plan *types.ResearchPlan, result *types.ResearchResult) (*types.ChatResponseSummary, error) {
	compiled := result.CompiledMarkdown
	if len(compiled) > compiledMarkdownCap {
		compiled = compiled[:compiledMarkdownCap]
	}

	var ragContext string
	if o.rag != nil {
		if chunks, err := o.rag.Retrieve(ctx, plan.Query, rag.ModeResearch); err == nil {
			var cb strings.Builder
			for _, c := range chunks {
				if cb.Len() >= ragContextCap {
					break
				}
				cb.WriteString(c.Content)
				cb.WriteString("\n")
			}
			ragContext = cb.String()
			if len(ragContext) > ragContextCap {
				ragContext = ragContext[:ragContextCap]
			}
		}
	}

	userContent := fmt.Sprintf("Plan description: %s\n\nCompiled findings:\n%s", plan.Description, compiled)
	if ragContext != "" {
		userContent += "\n\nAdditional context:\n" + ragContext
	}

	messages := []types.Message{
		{Role: types.RoleSystem, Content: synthesisSystemPrompt},
		{Role: types.RoleUser, Content: userContent},
	}
	resp, err := o.largeAdapter.Generate(ctx, messages, nil, models.GenerateParams{})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("research: synthesis returned no choices")
	}
	choice := resp.Choices[0]
	return &types.ChatResponseSummary{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
		CreatedAt:    resp.CreatedAt,
	}, nil
}

// CachedResult returns a previously completed/partial result by plan id.
func (o *Orchestrator) CachedResult(planID string) (*types.ResearchResult, bool) {
	if o.cache == nil {
		return nil, false
	}
	return o.cache.Get(planID)
}

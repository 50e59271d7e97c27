package main

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synapselabs/cortex/api/handlers"
	"github.com/synapselabs/cortex/config"
	"github.com/synapselabs/cortex/internal/database"
	"github.com/synapselabs/cortex/llm"
	"github.com/synapselabs/cortex/llm/cache"
	"github.com/synapselabs/cortex/llm/embedding"
	llmproviders "github.com/synapselabs/cortex/llm/providers"
	"github.com/synapselabs/cortex/llm/providers/gemini"
	"github.com/synapselabs/cortex/llm/providers/openai"
	"github.com/synapselabs/cortex/llm/providers/openaicompat"
	"github.com/synapselabs/cortex/llm/rerank"
	"github.com/synapselabs/cortex/models"
	"github.com/synapselabs/cortex/providers"
	"github.com/synapselabs/cortex/providers/anthropic"
	"github.com/synapselabs/cortex/rag"
	"github.com/synapselabs/cortex/research"
	"github.com/synapselabs/cortex/types"
	"go.uber.org/zap"
)

// rerankerMaxPassagesPerRequest is the reranker batching cap: batches
// larger than this are chunked and merged by the RerankAdapter itself.
const rerankerMaxPassagesPerRequest = 50

// stack bundles every C1-C9 + ambient collaborator NewServer wires into the
// HTTP handlers, built once from cfg and kept alive for the server's
// lifetime (the coordinator and resource monitor run background goroutines
// that Shutdown stops).
type stack struct {
	coordinator     *research.Coordinator
	resourceMonitor *research.ResourceMonitor
	resultCache     *research.ResultCache
	redisClient     *redis.Client
	collaborator    rag.Collaborator
	registry        *research.Registry
	executor        *research.Executor
	orchestrator    *research.Orchestrator
}

// buildProvider constructs the C1 provider client named by cfg.DefaultProvider,
// falling back to the generic OpenAI-compatible base for any name this
// switch doesn't special-case (deepseek, qwen, glm, grok, or a bespoke
// gateway — all speak the same wire format).
func buildProvider(cfg config.LLMConfig, maxRetries int, logger *zap.Logger) llm.Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	if maxRetries <= 0 {
		maxRetries = cfg.MaxRetries
	}

	// openai/gemini 的客户端自身不带重试循环，套一层 RetryableProvider；
	// claude/openaicompat 内部已有 retryer + 熔断器，不重复包装
	retryCfg := llmproviders.DefaultRetryConfig()
	if maxRetries > 0 {
		retryCfg.MaxRetries = maxRetries
	}

	switch cfg.DefaultProvider {
	case "openai":
		return llmproviders.NewRetryableProvider(openai.NewOpenAIProvider(llmproviders.OpenAIConfig{
			BaseProviderConfig: llmproviders.BaseProviderConfig{
				APIKey:  cfg.APIKey,
				BaseURL: cfg.BaseURL,
				Timeout: timeout,
			},
		}, logger), retryCfg, logger)
	case "gemini":
		return llmproviders.NewRetryableProvider(gemini.NewGeminiProvider(llmproviders.GeminiConfig{
			BaseProviderConfig: llmproviders.BaseProviderConfig{
				APIKey:  cfg.APIKey,
				BaseURL: cfg.BaseURL,
				Timeout: timeout,
			},
		}, logger), retryCfg, logger)
	case "anthropic", "claude":
		return anthropic.NewClaudeProvider(providers.ClaudeConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Timeout:    timeout,
			MaxRetries: maxRetries,
		}, logger)
	default:
		return openaicompat.New(openaicompat.Config{
			ProviderName: firstNonEmpty(cfg.DefaultProvider, "openai-compatible"),
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Timeout:      timeout,
			MaxRetries:   maxRetries,
		}, logger)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// buildAdapters builds one Adapter per logical model, all bound to the
// same provider (multi-provider routing per logical model is a deployment
// concern left to cfg, not modeled here).
func buildAdapters(provider llm.Provider, logger *zap.Logger) map[models.LogicalModel]models.Adapter {
	specs := models.DefaultSpecs()
	adapters := make(map[models.LogicalModel]models.Adapter, len(specs))

	adapters[models.ModelChatLarge] = models.NewBaseAdapter(specs[models.ModelChatLarge], provider, "chat-large", logger)
	adapters[models.ModelChatLight] = models.NewBaseAdapter(specs[models.ModelChatLight], provider, "chat-light", logger)
	adapters[models.ModelMultimodal] = models.NewBaseAdapter(specs[models.ModelMultimodal], provider, "multimodal", logger)
	codeBase := models.NewBaseAdapter(specs[models.ModelChatCode], provider, "chat-code", logger)
	adapters[models.ModelChatCode] = models.NewCodeAdapter(codeBase, logger, 1)

	return adapters
}

// buildResearchStack wires C4 (tool registry) through C9 (resource monitor)
// plus the A4/A5 collaborators, and returns them bundled for NewServer to
// hand to the chat and research handlers. dbPool may be nil, in which case
// A4's result cache stays purely in-process.
func buildResearchStack(cfg *config.Config, adapters map[models.LogicalModel]models.Adapter, dbPool *database.PoolManager, logger *zap.Logger) *stack {
	specs := models.DefaultSpecs()

	embProvider := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.Timeout,
	})
	adapters[models.ModelEmbedding] = models.NewEmbeddingAdapter(embProvider, "text-embedding-3-large", 100, 5, logger)

	rerankProvider := rerank.NewCohereProvider(rerank.CohereConfig{
		APIKey:  cfg.LLM.APIKey,
		Timeout: cfg.LLM.Timeout,
	})
	adapters[models.ModelReranker] = models.NewRerankAdapter(
		rerankProvider, "rerank-v3.5", cfg.Orchestration.RerankThreshold, rerankerMaxPassagesPerRequest, logger,
	)

	collaborator := rag.NewInProcessCollaborator(logger)

	registry := research.NewRegistry(specs)
	registry.Register(research.NewAdapterTool(
		"coder",
		codeToolSchema(),
		adapters[models.ModelChatCode],
		1, 1800*time.Second,
	))
	registry.Register(research.NewAdapterTool(
		"multimodal",
		multimodalToolSchema(),
		adapters[models.ModelMultimodal],
		1, time.Duration(cfg.Orchestration.ProviderTimeoutSeconds)*time.Second,
	))

	searchClient := research.NewRAGSearchClient(collaborator)
	registry.Register(research.NewSearchTool(
		"light-search", searchToolSchema("light-search"), searchClient, "fast", 2, 30*time.Second,
	).WithRateLimit(2, 2))
	registry.Register(research.NewSearchTool(
		"medium-search", searchToolSchema("medium-search"), searchClient, "reasoning", 2, 120*time.Second,
	).WithRateLimit(1, 2))

	diversity := research.NewDiversityValidatorWithThreshold(cfg.Orchestration.DiversityThreshold)

	// 只缓存检索类工具的结果；coder/multimodal 为生成式调用，重复执行
	// 预期产出不同内容，列入排除名单
	toolCacheCfg := cache.DefaultToolCacheConfig()
	toolCacheCfg.ExcludedTools = []string{"coder", "multimodal"}
	executor := research.NewExecutor(registry, diversity).
		WithToolCache(cache.NewToolResultCache(toolCacheCfg, logger))

	coordCfg := research.DefaultCoordinatorConfig()
	coordCfg.MinAgents = cfg.Orchestration.MinAgents
	coordCfg.MaxAgents = cfg.Orchestration.MaxAgents
	coordCfg.MetricsNamespace = "cortex"
	coordinator := research.NewCoordinator(coordCfg, logger)

	resourceMonitor := research.NewResourceMonitorWithCeiling(
		"cortex", 5*time.Second, cfg.Orchestration.MaxContextTokens, logger,
	)
	resourceMonitor.Start()

	ttl := time.Duration(cfg.Orchestration.ResearchResultTTLHours) * time.Hour
	resultCache := research.NewResultCache(1000, ttl)
	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		resultCache = resultCache.WithRedis(redisClient, logger)
	}
	if dbPool != nil {
		if store, err := research.NewResultStore(dbPool, logger); err != nil {
			logger.Warn("research result store unavailable, falling back to in-memory cache only", zap.Error(err))
		} else {
			resultCache = resultCache.WithStore(store, logger)
		}
	}

	subagentRunner := research.NewAdapterSubagentRunner(adapters[models.ModelChatLight], executor, models.ModelChatLight)
	orchestrator := research.NewOrchestrator(
		adapters[models.ModelChatLarge], subagentRunner, coordinator, collaborator, resultCache, resourceMonitor, logger,
		research.WithSubagentTimeout(time.Duration(cfg.Orchestration.AgentTimeoutSeconds)*time.Second),
		research.WithSubagentMaxRetries(cfg.Orchestration.AgentMaxRetries),
	)

	return &stack{
		coordinator:     coordinator,
		resourceMonitor: resourceMonitor,
		resultCache:     resultCache,
		redisClient:     redisClient,
		collaborator:    collaborator,
		registry:        registry,
		executor:        executor,
		orchestrator:    orchestrator,
	}
}

func codeToolSchema() types.ToolSchema {
	return types.ToolSchema{
		Name:        "coder",
		Description: "Generate or explain code for a focused sub-task.",
		Parameters:  []byte(`{"type":"object","properties":{"prompt":{"type":"string"}},"required":["prompt"]}`),
	}
}

func multimodalToolSchema() types.ToolSchema {
	return types.ToolSchema{
		Name:        "multimodal",
		Description: "Analyze an image or mixed-media prompt.",
		Parameters:  []byte(`{"type":"object","properties":{"prompt":{"type":"string"}},"required":["prompt"]}`),
	}
}

func searchToolSchema(name string) types.ToolSchema {
	return types.ToolSchema{
		Name:        name,
		Description: "Search indexed context for a query and return relevant passages.",
		Parameters:  []byte(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
	}
}

// buildChatHandler assembles C6 with every optional collaborator wired.
func buildChatHandler(provider llm.Provider, s *stack, cfg *config.Config, logger *zap.Logger) *handlers.ChatHandler {
	return handlers.NewChatHandler(
		provider, logger,
		handlers.WithRetrieval(s.collaborator),
		handlers.WithTools(s.registry, s.executor),
		handlers.WithResearch(s.orchestrator),
		handlers.WithResourceMonitor(s.resourceMonitor),
		handlers.WithToolIterationCap(cfg.Orchestration.ToolIterationCap),
	)
}

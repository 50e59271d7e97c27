// Copyright 2024 Cortex Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package llm provides unified LLM provider abstraction and routing.

# Overview

The llm package provides a unified interface for interacting with multiple
Large Language Model providers. It abstracts away provider-specific details
and provides features like routing, caching, retry logic, and observability.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                    Application Layer                        │
	├─────────────────────────────────────────────────────────────┤
	│                    Router / Load Balancer                   │
	│  (Model-based routing, failover, load balancing)           │
	├─────────────────────────────────────────────────────────────┤
	│  ┌─────────────┐  ┌─────────────┐  ┌─────────────────────┐ │
	│  │   Cache     │  │   Retry     │  │   Observability     │ │
	│  │  (L1/L2)    │  │  (Backoff)  │  │  (Metrics/Tracing)  │ │
	│  └─────────────┘  └─────────────┘  └─────────────────────┘ │
	├─────────────────────────────────────────────────────────────┤
	│                    Provider Interface                       │
	├──────────┬──────────┬──────────┬──────────┬────────────────┤
	│  OpenAI  │ Anthropic│  Gemini  │ DeepSeek │    Others...   │
	└──────────┴──────────┴──────────┴──────────┴────────────────┘

# Provider Interface

The core Provider interface defines the contract for all LLM providers:

	type Provider interface {
	    Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	    Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	    HealthCheck(ctx context.Context) (*HealthStatus, error)
	    Name() string
	    SupportsNativeFunctionCalling() bool
	    ListModels(ctx context.Context) ([]Model, error)
	}

# Supported Providers

The package supports 13+ LLM providers out of the box:

  - OpenAI (GPT-4, GPT-4o, GPT-3.5-turbo)
  - Anthropic (Claude 3 Opus, Sonnet, Haiku)
  - Google (Gemini Pro, Gemini Ultra)
  - DeepSeek (DeepSeek-Chat, DeepSeek-Coder)
  - Alibaba (Qwen-Turbo, Qwen-Plus, Qwen-Max)
  - Tencent (Hunyuan)
  - Moonshot (Kimi)
  - Zhipu (GLM-4)
  - ByteDance (Doubao)
  - Baidu (ERNIE)
  - MiniMax
  - Mistral
  - Meta (Llama)
  - xAI (Grok)

# Usage

Basic usage with a single provider:

	provider := openai.NewOpenAIProvider(providers.OpenAIConfig{
	    BaseProviderConfig: providers.BaseProviderConfig{
	        APIKey: "your-api-key",
	        Model:  "gpt-4o",
	    },
	}, logger)

	resp, err := provider.Completion(ctx, &llm.ChatRequest{
	    Model: "gpt-4o",
	    Messages: []llm.Message{
	        {Role: llm.RoleUser, Content: "Hello!"},
	    },
	})

Logical models are resolved to a concrete adapter by a plain map built
at startup, keyed by capability rather than by a fixed provider name:

	adapter := adapters[models.ModelChatLarge]
	resp, err := adapter.Generate(ctx, messages, tools, models.GenerateParams{})

# Streaming

All providers support streaming responses:

	stream, err := provider.Stream(ctx, &llm.ChatRequest{
	    Model: "gpt-4o",
	    Messages: messages,
	})
	if err != nil {
	    log.Fatal(err)
	}

	for chunk := range stream {
	    if chunk.Err != nil {
	        log.Printf("Error: %v", chunk.Err)
	        break
	    }
	    fmt.Print(chunk.Delta.Content)
	}

# Caching

The package provides multi-level caching:

	cache := cache.NewMultiLevelCache(redisClient, &cache.CacheConfig{
	    LocalMaxSize: 1000,
	    LocalTTL:     5 * time.Minute,
	    RedisTTL:     1 * time.Hour,
	    EnableLocal:  true,
	    EnableRedis:  true,
	}, logger)

# Retry and Resilience

The OpenAI-compatible base provider (llm/providers/openaicompat) and the
Anthropic provider wrap their Completion call in a backoff retryer and a
circuit breaker so a transient failure is retried and a sustained outage
trips the breaker instead of piling up stalled calls:

	retryer := retry.NewBackoffRetryer(retry.DefaultRetryPolicy(), logger)
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(), logger)

	resp, err := retry.DoWithResultTyped(retryer, ctx, func() (*llm.ChatResponse, error) {
	    return circuitbreaker.CallWithResultTyped(breaker, ctx, func() (*llm.ChatResponse, error) {
	        return provider.Completion(ctx, req)
	    })
	})

# Observability

Requests and responses are logged with zap and counted through the
collector in internal/metrics:

	collector := metrics.NewCollector("cortex", logger)
	collector.RecordLLMRequest(providerName, modelName, status, latency, promptTokens, completionTokens, cost)

# Tool Calling

Support for native function calling:

	resp, err := provider.Completion(ctx, &llm.ChatRequest{
	    Model: "gpt-4o",
	    Messages: messages,
	    Tools: []llm.ToolSchema{
	        {
	            Name:        "get_weather",
	            Description: "Get current weather for a location",
	            Parameters:  weatherParamsSchema,
	        },
	    },
	})

# Error Handling

The package defines structured error codes:

	const (
	    ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	    ErrAuthentication      ErrorCode = "AUTHENTICATION"
	    ErrRateLimit           ErrorCode = "RATE_LIMIT"
	    ErrContextTooLong      ErrorCode = "CONTEXT_TOO_LONG"
	    ErrServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	)

Use IsRetryable to check if an error can be retried:

	if llm.IsRetryable(err) {
	    // Implement retry logic
	}

See the subpackages for additional functionality:
  - llm/cache: Prompt caching with multiple strategies
  - llm/middleware: Request/response middleware
  - llm/retry: Retry strategies and backoff
  - llm/circuitbreaker: Circuit breaking around provider calls
  - llm/providers/*: Provider-specific implementations
*/
package llm

// Package api holds the request/response types and the API documentation
// for the Cortex HTTP API.
//
// # API Overview
//
// Cortex provides a RESTful API for:
//   - Chat completions with multi-provider LLM routing
//     (/v1/chat/completions, /v1/chat/completions/stream)
//   - Research plans (POST /v1/research, GET /v1/research/{planId})
//   - Runtime configuration management (/api/v1/config...)
//   - Health monitoring (/health, /healthz, /ready, /readyz, /version);
//     Prometheus metrics are served on the separate metrics port
//
// # Authentication
//
// Endpoints other than the health and version routes require authentication.
// By default this is the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// When JWT is enabled in the server config, a Bearer token in the
// Authorization header is required instead.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// # Generating Documentation
//
// No specification file is checked in. Swagger documentation is generated
// from the swag annotations in cmd/cortex/main.go and the handlers:
//
//	swag init -g cmd/cortex/main.go -o api --parseDependency --parseInternal
package api

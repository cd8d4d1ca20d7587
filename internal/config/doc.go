// Package config handles configuration loading for workflow-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from WORKFLOW_GATEWAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/workflow-gateway/gateway.yaml
//  3. ~/.config/workflow-gateway/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	providers:
//	  - id: openai
//	    kind: openai
//	    api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Example
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	  grpc_addr: "127.0.0.1:50051"   # optional, grpc.health.v1
//	  shutdown_timeout: "15s"
//
//	database:
//	  path: "/var/lib/workflow-gateway/gateway.db"
//
//	auth:
//	  jwt_secret: "${WORKFLOW_GATEWAY_JWT_SECRET}"   # empty: every request is user "local"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	providers:
//	  - id: claude
//	    kind: anthropic
//	    api_key: "${ANTHROPIC_API_KEY}"
//	    model: "claude-sonnet-4-5"
//	    rate_limit_tpm: 40000
//	  - id: openai
//	    kind: openai
//	    api_key: "${OPENAI_API_KEY}"
//	    model: "gpt-4o-mini"
//	    embedding_model: "text-embedding-3-small"
//	  - id: kb
//	    kind: redis-vector
//	    redis_url: "redis://localhost:6379/0"
//	    index: "knowledge"
//	    dimensions: 1536
//
//	history:
//	  max_tokens: 8000    # 0 bounds by message count only
//	  max_messages: 100
//
//	agent:
//	  max_iterations: 5
//	  tool_timeout: "30s"
//
//	workflows:
//	  definitions_path: "workflows.toml"
//
//	settings:
//	  chat.llmProvider: claude
//	  knowledge.embeddingProvider: openai
//	  knowledge.vectorProvider: kb
//
// Provider kinds are openai, anthropic, echo, memory-vector and
// redis-vector. Settings are seeded at startup and never overwrite values
// already stored.
package config

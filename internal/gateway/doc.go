// Package gateway wires the workflow-gateway server together and serves it.
//
// # Overview
//
// New builds every long-lived component from a config.Config: the SQLite
// store, the provider registry, the settings and knowledge services, the
// built-in tool packs and their executor, one workflow factory per type,
// and the live workflow manager. Run serves HTTP (and gRPC health when
// server.grpc_addr is set) until its context ends.
//
// # Providers
//
// Each configured provider becomes a registry entry under its id. Inference
// backends are wrapped so that every call is traced, a failure to open the
// stream is retried once, and rate_limit_tpm (when positive) throttles
// calls through a token bucket. OpenAI providers keep their embedding
// capability behind the wrapper.
//
// # HTTP API
//
//   - POST /api/workflows - Create a workflow {type, title}
//   - GET /api/workflows - List the caller's workflows
//   - DELETE /api/workflows/{id} - Close a workflow
//   - GET /api/workflows/{id}/events - Event stream (SSE)
//   - POST /api/workflows/{id}/messages - Send a message {content}
//   - GET /api/workflows/{id}/messages - Persisted message groups
//   - GET /api/workflows/{id}/transcript - HTML transcript
//   - GET /api/workflows/{id}/usage - Token usage per round trip
//   - GET /api/settings, PUT /api/settings/{key} - Settings
//   - GET /api/stats/usage - Aggregated usage for the caller
//   - POST /api/knowledge - Ingest documents into the knowledge base
//   - GET /health, GET /health/ready - Liveness and readiness
//
// /api routes require a bearer JWT when auth.jwt_secret is configured and
// otherwise run as the local user.
//
// # SSE Streaming
//
// Sending a message returns 202 at once; the turn's output arrives on the
// workflow's event stream:
//
//	event: attached
//	data: {"workflow_id":"...","type":"chat"}
//
//	event: partial_content
//	data: {"type":"partial_content","text":"Hel",...}
//
//	event: completion
//	data: {"type":"completion","group_id":"...","finish_reason":"stop",...}
//
// A workflow has at most one stream. Attaching another ends the previous
// one. Disconnecting while a turn runs aborts it and the partial reply is
// persisted with finish reason "aborted".
//
// # Errors
//
// Authorization failures map to 403, unknown workflows to 404, validation
// errors to 400, configuration problems (missing settings, unknown
// providers, closed workflows) to 409, and unavailable providers to 503.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // shuts down when ctx ends
//
// Shutdown waits for running turns, closes live workflows, then stops the
// servers and closes the store.
package gateway

// Package provider holds the id-keyed registry of model backends and the
// capability interfaces they implement.
//
// # Capabilities
//
// A Provider is anything with a stable id. What it can do is expressed by the
// optional interfaces it satisfies:
//
//   - Inference: streams a model response for a conversation
//   - Embedder: turns text into vectors
//   - VectorSearcher: stores and queries vectors
//
// Backends live in subpackages (openai, anthropic, vector, echo) and are
// constructed explicitly at startup, then registered:
//
//	reg := provider.NewRegistry(logger)
//	p, err := openai.New(cfg)
//	if err != nil {
//		return err
//	}
//	if err := reg.Register(p); err != nil {
//		return err // ErrConfigurationConflict on duplicate ids
//	}
//
// # Lookup
//
// Lookups never fall back to a default. An unknown id returns
// ErrProviderNotFound and a provider lacking the requested capability returns
// ErrCapabilityMismatch, so misconfiguration surfaces when a workflow is
// created rather than as a network error later.
//
// # Middleware
//
// Inference providers can be wrapped with Retry (one immediate retry when the
// stream cannot be opened), RateLimited (token bucket from golang.org/x/time/rate)
// and Traced (OpenTelemetry spans and counters). Wrappers keep the wrapped id.
//
// # Streams
//
// NewChannelStream adapts a producer goroutine into a Stream. Cancelling the
// context passed to Infer, or calling Close, stops the producer.
package provider

// ABOUTME: Capability interfaces for inference, embedding and vector-search backends
// ABOUTME: Request/Stream contract and the sentinel errors shared by all providers

package provider

import (
	"context"
	"errors"

	"github.com/2389/workflow-gateway/internal/llm"
)

// Capability names one thing a provider can do.
type Capability string

const (
	CapabilityInference    Capability = "inference"
	CapabilityEmbedding    Capability = "embedding"
	CapabilityVectorSearch Capability = "vector-search"
)

var (
	// ErrConfigurationConflict is returned when two providers share an id.
	ErrConfigurationConflict = errors.New("provider id already registered")

	// ErrProviderNotFound is returned when no provider has the requested id.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrCapabilityMismatch is returned when a provider exists but lacks the
	// requested capability.
	ErrCapabilityMismatch = errors.New("provider does not support capability")

	// ErrUnavailable marks a backend failure that survived the retry.
	ErrUnavailable = errors.New("provider temporarily unavailable")
)

// Provider is a registered backend.
type Provider interface {
	ID() string
}

// Request is one inference round trip.
type Request struct {
	Model     string
	System    string
	Messages  []llm.Message
	Tools     []llm.ToolDefinition
	Stream    bool
	MaxTokens int
}

// Stream yields chunks of a model response. Recv returns io.EOF after the
// stop chunk has been delivered.
type Stream interface {
	Recv() (llm.Chunk, error)
	Close() error
}

// Inference streams model output for a conversation.
type Inference interface {
	Provider
	Infer(ctx context.Context, req *Request) (Stream, error)
}

// Embedder converts text into vectors.
type Embedder interface {
	Provider
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Document is a unit stored in a vector index.
type Document struct {
	ID     string
	Text   string
	Vector []float64
}

// Match is a search hit.
type Match struct {
	ID    string
	Text  string
	Score float64
}

// VectorSearcher stores vectors and answers nearest-neighbour queries.
type VectorSearcher interface {
	Provider
	Upsert(ctx context.Context, docs []Document) error
	Search(ctx context.Context, vector []float64, k int) ([]Match, error)
}

// Supports reports whether p implements capability c.
func Supports(p Provider, c Capability) bool {
	switch c {
	case CapabilityInference:
		_, ok := p.(Inference)
		return ok
	case CapabilityEmbedding:
		_, ok := p.(Embedder)
		return ok
	case CapabilityVectorSearch:
		_, ok := p.(VectorSearcher)
		return ok
	}
	return false
}

// Capabilities lists everything p supports.
func Capabilities(p Provider) []Capability {
	var caps []Capability
	for _, c := range []Capability{CapabilityInference, CapabilityEmbedding, CapabilityVectorSearch} {
		if Supports(p, c) {
			caps = append(caps, c)
		}
	}
	return caps
}

// ABOUTME: Registry maps provider ids to provider instances
// ABOUTME: Duplicate ids are a configuration conflict; lookups never fall back to a default

package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds every configured provider keyed by id.
// It is safe for concurrent use; after startup it is effectively read-only.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	logger    *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		providers: make(map[string]Provider),
		logger:    logger.With("component", "provider-registry"),
	}
}

// Register adds p under p.ID().
// Returns ErrConfigurationConflict if the id is already taken.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return errors.New("provider is nil")
	}
	id := p.ID()
	if id == "" {
		return errors.New("provider id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("%w: %s", ErrConfigurationConflict, id)
	}
	r.providers[id] = p

	r.logger.Info("provider registered", "provider", id, "capabilities", Capabilities(p))
	return nil
}

// Get returns the provider registered under id.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, id)
	}
	return p, nil
}

// Inference returns the provider under id as an inference backend.
func (r *Registry) Inference(id string) (Inference, error) {
	p, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	inf, ok := p.(Inference)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an %s provider", ErrCapabilityMismatch, id, CapabilityInference)
	}
	return inf, nil
}

// Embedder returns the provider under id as an embedding backend.
func (r *Registry) Embedder(id string) (Embedder, error) {
	p, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	emb, ok := p.(Embedder)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an %s provider", ErrCapabilityMismatch, id, CapabilityEmbedding)
	}
	return emb, nil
}

// VectorSearcher returns the provider under id as a vector-search backend.
func (r *Registry) VectorSearcher(id string) (VectorSearcher, error) {
	p, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	vs, ok := p.(VectorSearcher)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a %s provider", ErrCapabilityMismatch, id, CapabilityVectorSearch)
	}
	return vs, nil
}

// Check verifies that id is registered and supports c.
func (r *Registry) Check(id string, c Capability) error {
	p, err := r.Get(id)
	if err != nil {
		return err
	}
	if !Supports(p, c) {
		return fmt.Errorf("%w: %q is not a %s provider", ErrCapabilityMismatch, id, c)
	}
	return nil
}

// IDs returns all registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns how many registered providers support c.
func (r *Registry) Count(c Capability) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, p := range r.providers {
		if Supports(p, c) {
			n++
		}
	}
	return n
}

// ABOUTME: Knowledge base over the configured embedding and vector-search providers
// ABOUTME: Provider ids are read from settings on every call

// Package knowledge embeds documents and queries with the embedding provider
// named in settings and stores or searches them with the configured
// vector-search provider.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/workflow-gateway/internal/provider"
	"github.com/2389/workflow-gateway/internal/settings"
)

// ErrNotConfigured is returned when either provider setting is absent.
var ErrNotConfigured = errors.New("knowledge base is not configured")

// DefaultResults is how many matches Search returns when k is not positive.
const DefaultResults = 5

// SettingsReader is the read side of the settings contract.
type SettingsReader interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// Providers resolves embedding and vector-search providers by id.
// *provider.Registry implements it.
type Providers interface {
	Embedder(id string) (provider.Embedder, error)
	VectorSearcher(id string) (provider.VectorSearcher, error)
}

// Service ingests and searches documents.
type Service struct {
	settings  SettingsReader
	providers Providers
	logger    *slog.Logger
}

// NewService creates a knowledge Service.
func NewService(s SettingsReader, p Providers, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{settings: s, providers: p, logger: logger.With("component", "knowledge")}
}

func (s *Service) backends(ctx context.Context) (provider.Embedder, provider.VectorSearcher, error) {
	embedID, ok, err := s.settings.Get(ctx, settings.KnowledgeEmbeddingProvider)
	if err != nil {
		return nil, nil, err
	}
	if !ok || embedID == "" {
		return nil, nil, fmt.Errorf("%w: %s is not set", ErrNotConfigured, settings.KnowledgeEmbeddingProvider)
	}
	vectorID, ok, err := s.settings.Get(ctx, settings.KnowledgeVectorProvider)
	if err != nil {
		return nil, nil, err
	}
	if !ok || vectorID == "" {
		return nil, nil, fmt.Errorf("%w: %s is not set", ErrNotConfigured, settings.KnowledgeVectorProvider)
	}

	emb, err := s.providers.Embedder(embedID)
	if err != nil {
		return nil, nil, err
	}
	vs, err := s.providers.VectorSearcher(vectorID)
	if err != nil {
		return nil, nil, err
	}
	return emb, vs, nil
}

// Ingest embeds and stores docs. Documents without text are rejected.
func (s *Service) Ingest(ctx context.Context, docs []provider.Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" || strings.TrimSpace(d.Text) == "" {
			return fmt.Errorf("document %d: id and text are required", i)
		}
		texts[i] = d.Text
	}

	emb, vs, err := s.backends(ctx)
	if err != nil {
		return err
	}
	vectors, err := emb.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("embedding documents: got %d vectors for %d documents", len(vectors), len(docs))
	}

	out := make([]provider.Document, len(docs))
	for i, d := range docs {
		out[i] = provider.Document{ID: d.ID, Text: d.Text, Vector: vectors[i]}
	}
	if err := vs.Upsert(ctx, out); err != nil {
		return fmt.Errorf("storing documents: %w", err)
	}
	s.logger.Info("documents ingested", "count", len(out), "embedder", emb.ID(), "index", vs.ID())
	return nil
}

// Search returns up to k documents closest to query.
func (s *Service) Search(ctx context.Context, query string, k int) ([]provider.Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	if k <= 0 {
		k = DefaultResults
	}
	emb, vs, err := s.backends(ctx)
	if err != nil {
		return nil, err
	}
	vectors, err := emb.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors", len(vectors))
	}
	return vs.Search(ctx, vectors[0], k)
}

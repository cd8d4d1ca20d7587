// ABOUTME: Builds the provider registry from configured backends
// ABOUTME: Wraps inference backends in tracing, retry and optional rate limiting

package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/2389/workflow-gateway/internal/config"
	"github.com/2389/workflow-gateway/internal/provider"
	"github.com/2389/workflow-gateway/internal/provider/anthropic"
	"github.com/2389/workflow-gateway/internal/provider/echo"
	"github.com/2389/workflow-gateway/internal/provider/openai"
	"github.com/2389/workflow-gateway/internal/provider/vector"
)

// inferenceEmbedder keeps the embedding capability of a backend whose
// inference side has been wrapped in middleware.
type inferenceEmbedder struct {
	provider.Inference
	embedder provider.Embedder
}

func (p *inferenceEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return p.embedder.Embed(ctx, texts)
}

// buildRegistry instantiates every configured provider. The returned
// closers release backend connections on shutdown.
func buildRegistry(cfgs []config.ProviderConfig, logger *slog.Logger) (*provider.Registry, []io.Closer, error) {
	registry := provider.NewRegistry(logger)
	var closers []io.Closer

	fail := func(err error) (*provider.Registry, []io.Closer, error) {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, nil, err
	}

	for _, pc := range cfgs {
		p, closer, err := newProvider(pc, logger)
		if err != nil {
			return fail(fmt.Errorf("provider %q: %w", pc.ID, err))
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		if err := registry.Register(p); err != nil {
			return fail(err)
		}
		logger.Info("→ provider registered",
			"provider", pc.ID,
			"kind", pc.Kind,
			"capabilities", provider.Capabilities(p),
		)
	}
	return registry, closers, nil
}

func newProvider(pc config.ProviderConfig, logger *slog.Logger) (provider.Provider, io.Closer, error) {
	switch pc.Kind {
	case config.KindOpenAI:
		p, err := openai.New(openai.Config{
			ID:             pc.ID,
			APIKey:         pc.APIKey,
			BaseURL:        pc.BaseURL,
			Model:          pc.Model,
			EmbeddingModel: pc.EmbeddingModel,
			Dimensions:     pc.Dimensions,
			Logger:         logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return &inferenceEmbedder{Inference: wrapInference(p, pc, logger), embedder: p}, nil, nil
	case config.KindAnthropic:
		p, err := anthropic.New(anthropic.Config{
			ID:      pc.ID,
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return wrapInference(p, pc, logger), nil, nil
	case config.KindEcho:
		return wrapInference(echo.New(pc.ID, ""), pc, logger), nil, nil
	case config.KindMemoryVector:
		return vector.NewMemory(pc.ID), nil, nil
	case config.KindRedisVector:
		r, err := vector.NewRedis(vector.RedisConfig{
			ID:         pc.ID,
			URL:        pc.RedisURL,
			Index:      pc.Index,
			Dimensions: pc.Dimensions,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	default:
		return nil, nil, fmt.Errorf("unknown kind %q", pc.Kind)
	}
}

// wrapInference applies tracing outermost so a retried call is one span.
func wrapInference(p provider.Inference, pc config.ProviderConfig, logger *slog.Logger) provider.Inference {
	mws := []provider.Middleware{provider.Traced(), provider.Retry(logger)}
	if pc.RateLimitTPM > 0 {
		mws = append(mws, provider.RateLimited(pc.RateLimitTPM))
	}
	return provider.Wrap(p, mws...)
}

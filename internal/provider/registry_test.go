// ABOUTME: Tests for provider registration, capability lookups and counting
// ABOUTME: Uses small in-file fakes for each capability interface

package provider_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/workflow-gateway/internal/provider"
	"github.com/2389/workflow-gateway/internal/provider/echo"
	"github.com/2389/workflow-gateway/internal/provider/vector"
)

type fakeEmbedder struct{ id string }

func (f fakeEmbedder) ID() string { return f.id }

func (f fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = []float64{float64(len(t))}
	}
	return out, nil
}

type bareProvider struct{ id string }

func (b bareProvider) ID() string { return b.id }

func newRegistry(t *testing.T) *provider.Registry {
	t.Helper()
	reg := provider.NewRegistry(nil)
	require.NoError(t, reg.Register(echo.New("echo", "")))
	require.NoError(t, reg.Register(fakeEmbedder{id: "embed"}))
	require.NoError(t, reg.Register(vector.NewMemory("vectors")))
	return reg
}

func TestRegistry_Register(t *testing.T) {
	reg := newRegistry(t)

	assert.Equal(t, []string{"echo", "embed", "vectors"}, reg.IDs())

	err := reg.Register(echo.New("echo", "again"))
	assert.ErrorIs(t, err, provider.ErrConfigurationConflict)

	assert.Error(t, reg.Register(nil))
	assert.Error(t, reg.Register(bareProvider{}))
}

func TestRegistry_Lookups(t *testing.T) {
	reg := newRegistry(t)

	inf, err := reg.Inference("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", inf.ID())

	emb, err := reg.Embedder("embed")
	require.NoError(t, err)
	assert.Equal(t, "embed", emb.ID())

	vs, err := reg.VectorSearcher("vectors")
	require.NoError(t, err)
	assert.Equal(t, "vectors", vs.ID())

	_, err = reg.Inference("vectors")
	assert.ErrorIs(t, err, provider.ErrCapabilityMismatch)
	_, err = reg.Embedder("echo")
	assert.ErrorIs(t, err, provider.ErrCapabilityMismatch)
	_, err = reg.VectorSearcher("embed")
	assert.ErrorIs(t, err, provider.ErrCapabilityMismatch)

	_, err = reg.Inference("missing")
	assert.ErrorIs(t, err, provider.ErrProviderNotFound)
	_, err = reg.Get("")
	assert.ErrorIs(t, err, provider.ErrProviderNotFound)
}

func TestRegistry_Check(t *testing.T) {
	reg := newRegistry(t)

	assert.NoError(t, reg.Check("echo", provider.CapabilityInference))
	assert.NoError(t, reg.Check("vectors", provider.CapabilityVectorSearch))
	assert.ErrorIs(t, reg.Check("echo", provider.CapabilityEmbedding), provider.ErrCapabilityMismatch)
	assert.ErrorIs(t, reg.Check("nope", provider.CapabilityInference), provider.ErrProviderNotFound)
	assert.ErrorIs(t, reg.Check("echo", provider.Capability("teleport")), provider.ErrCapabilityMismatch)
}

func TestRegistry_Count(t *testing.T) {
	reg := newRegistry(t)

	assert.Equal(t, 1, reg.Count(provider.CapabilityInference))
	assert.Equal(t, 1, reg.Count(provider.CapabilityEmbedding))
	assert.Equal(t, 1, reg.Count(provider.CapabilityVectorSearch))
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, []provider.Capability{provider.CapabilityInference}, provider.Capabilities(echo.New("e", "")))
	assert.Equal(t, []provider.Capability{provider.CapabilityVectorSearch}, provider.Capabilities(vector.NewMemory("v")))
	assert.Empty(t, provider.Capabilities(bareProvider{id: "b"}))
}

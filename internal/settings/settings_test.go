// ABOUTME: Tests for the settings service
// ABOUTME: Covers reads, provider-key validation, and default seeding

package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/workflow-gateway/internal/provider"
	"github.com/2389/workflow-gateway/internal/provider/providertest"
	"github.com/2389/workflow-gateway/internal/store"
)

type fakeEmbedder struct{ id string }

func (f fakeEmbedder) ID() string { return f.id }

func (f fakeEmbedder) Embed(context.Context, []string) ([][]float64, error) { return nil, nil }

func newService(t *testing.T) (*Service, *store.MockStore) {
	t.Helper()
	reg := provider.NewRegistry(nil)
	require.NoError(t, reg.Register(providertest.New("llm-a")))
	require.NoError(t, reg.Register(fakeEmbedder{id: "embed-a"}))
	s := store.NewMockStore()
	return NewService(s, reg, nil), s
}

func TestService_GetUnset(t *testing.T) {
	svc, _ := newService(t)

	value, ok, err := svc.Get(context.Background(), "chat.model")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, value)
}

func TestService_UpdateAndGet(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Update(ctx, ProviderKey("chat"), "llm-a"))
	require.NoError(t, svc.Update(ctx, ModelKey("chat"), "gpt-4o-mini"))

	value, ok, err := svc.Get(ctx, "chat.llmProvider")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "llm-a", value)

	all, err := svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"chat.llmProvider": "llm-a",
		"chat.model":       "gpt-4o-mini",
	}, all)
}

func TestService_UpdateRejectsUnknownProvider(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()

	err := svc.Update(ctx, ProviderKey("travel"), "llm-missing")
	require.ErrorIs(t, err, ErrInvalidValue)
	assert.ErrorIs(t, err, provider.ErrProviderNotFound)

	_, err = s.GetSetting(ctx, "travel.llmProvider")
	assert.ErrorIs(t, err, store.ErrNotFound, "rejected values are never stored")
}

func TestService_UpdateRejectsWrongCapability(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	err := svc.Update(ctx, ProviderKey("chat"), "embed-a")
	require.ErrorIs(t, err, ErrInvalidValue)
	assert.ErrorIs(t, err, provider.ErrCapabilityMismatch)

	require.NoError(t, svc.Update(ctx, KnowledgeEmbeddingProvider, "embed-a"))
	assert.ErrorIs(t, svc.Update(ctx, KnowledgeVectorProvider, "embed-a"), provider.ErrCapabilityMismatch)
}

func TestService_UpdateRejectsEmptyKey(t *testing.T) {
	svc, _ := newService(t)
	assert.ErrorIs(t, svc.Update(context.Background(), " ", "x"), ErrInvalidValue)
}

func TestService_SeedDefaults(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Update(ctx, ModelKey("chat"), "kept"))
	require.NoError(t, svc.SeedDefaults(ctx, map[string]string{
		"chat.model":       "default-model",
		"chat.llmProvider": "llm-a",
	}))

	all, err := svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kept", all["chat.model"])
	assert.Equal(t, "llm-a", all["chat.llmProvider"])

	err = svc.SeedDefaults(ctx, map[string]string{"issues.llmProvider": "nope"})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestRequiredCapability(t *testing.T) {
	c, ok := RequiredCapability("travel.llmProvider")
	assert.True(t, ok)
	assert.Equal(t, provider.CapabilityInference, c)

	_, ok = RequiredCapability("travel.model")
	assert.False(t, ok)
}

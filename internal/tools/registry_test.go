// ABOUTME: Tests for tool pack registration and definition lookup
// ABOUTME: Covers collisions, schema compilation, and sorted definitions

package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/workflow-gateway/internal/llm"
)

func okHandler(result string) Handler {
	return func(context.Context, Caller, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(result), nil
	}
}

func testTool(name string, params map[string]any, h Handler) *Tool {
	return &Tool{
		Definition: llm.ToolDefinition{Name: name, Description: name + " tool", Parameters: params},
		Handler:    h,
	}
}

func TestRegistry_RegisterPack(t *testing.T) {
	r := NewRegistry(nil)
	err := r.RegisterPack(&Pack{ID: "test", Tools: []*Tool{
		testTool("b_tool", nil, okHandler(`"b"`)),
		testTool("a_tool", nil, okHandler(`"a"`)),
	}})
	require.NoError(t, err)

	assert.NotNil(t, r.Get("a_tool"))
	assert.Nil(t, r.Get("missing"))
	assert.Equal(t, []string{"a_tool", "b_tool"}, r.PackTools("test"))

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "a_tool", defs[0].Name)
	assert.Equal(t, "b_tool", defs[1].Name)
}

func TestRegistry_PackCollision(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterPack(&Pack{ID: "one", Tools: []*Tool{testTool("shared", nil, okHandler(`1`))}}))

	err := r.RegisterPack(&Pack{ID: "one"})
	require.ErrorIs(t, err, ErrPackAlreadyRegistered)

	err = r.RegisterPack(&Pack{ID: "two", Tools: []*Tool{
		testTool("fresh", nil, okHandler(`1`)),
		testTool("shared", nil, okHandler(`1`)),
	}})
	require.ErrorIs(t, err, ErrToolCollision)
	assert.Nil(t, r.Get("fresh"), "a rejected pack registers nothing")
}

func TestRegistry_InvalidSchema(t *testing.T) {
	r := NewRegistry(nil)
	err := r.RegisterPack(&Pack{ID: "bad", Tools: []*Tool{
		testTool("broken", map[string]any{"type": 42}, okHandler(`1`)),
	}})
	require.ErrorIs(t, err, ErrInvalidSchema)
}

func TestRegistry_DefinitionsSubset(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterPack(&Pack{ID: "p", Tools: []*Tool{
		testTool("x", nil, okHandler(`1`)),
		testTool("y", nil, okHandler(`1`)),
		testTool("z", nil, okHandler(`1`)),
	}}))

	defs := r.Definitions("z", "x", "unknown")
	require.Len(t, defs, 2)
	assert.Equal(t, "x", defs[0].Name)
	assert.Equal(t, "z", defs[1].Name)

	missing, ok := r.Has("x", "nope")
	assert.False(t, ok)
	assert.Equal(t, "nope", missing)
}

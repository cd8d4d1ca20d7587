// ABOUTME: Tests for the workflow factory
// ABOUTME: Provider resolution, ownership checks, history replay, and tokenizer fallback

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/workflow-gateway/internal/conversation"
	"github.com/2389/workflow-gateway/internal/history"
	"github.com/2389/workflow-gateway/internal/llm"
	"github.com/2389/workflow-gateway/internal/provider"
	"github.com/2389/workflow-gateway/internal/provider/providertest"
	"github.com/2389/workflow-gateway/internal/settings"
	"github.com/2389/workflow-gateway/internal/store"
	"github.com/2389/workflow-gateway/internal/tools"
)

type env struct {
	store    *store.MockStore
	settings *settings.Service
	registry *provider.Registry
	a, b     *providertest.Scripted
	executor *tools.Executor
}

func echoTurn(n int) providertest.Turn {
	return providertest.Reply("reply", llm.Usage{PromptTokens: 3, CompletionTokens: 1})
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:    store.NewMockStore(),
		registry: provider.NewRegistry(nil),
		a:        providertest.New("llm-a").WithFallback(echoTurn),
		b:        providertest.New("llm-b").WithFallback(echoTurn),
	}
	require.NoError(t, e.registry.Register(e.a))
	require.NoError(t, e.registry.Register(e.b))
	e.settings = settings.NewService(e.store, e.registry, nil)
	require.NoError(t, e.settings.Update(context.Background(), settings.ProviderKey("chat"), "llm-a"))

	tr := tools.NewRegistry(nil)
	require.NoError(t, tr.RegisterPack(&tools.Pack{ID: "test", Tools: []*tools.Tool{{
		Definition: llm.ToolDefinition{Name: "ping", Description: "replies pong"},
		Handler: func(context.Context, tools.Caller, json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`"pong"`), nil
		},
	}}}))
	e.executor = tools.NewExecutor(tools.ExecutorConfig{Registry: tr, Timeout: time.Second})
	return e
}

func (e *env) factory(t *testing.T, mutate ...func(*FactoryConfig)) *Factory {
	t.Helper()
	cfg := FactoryConfig{
		Definition: Definition{Name: "chat", Instructions: "Default instructions.", Tools: []string{"ping"}},
		Settings:   e.settings,
		Providers:  e.registry,
		Store:      e.store,
		Executor:   e.executor,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f, err := NewFactory(cfg)
	require.NoError(t, err)
	return f
}

func TestFactory_UnknownProviderFailsBeforeAnyCall(t *testing.T) {
	e := newEnv(t)
	// Written straight to the store: the settings service would reject it.
	require.NoError(t, e.store.PutSetting(context.Background(), settings.ProviderKey("chat"), "llm-c"))
	f := e.factory(t)

	_, err := f.New(context.Background(), "alice", nil, Params{})
	require.ErrorIs(t, err, provider.ErrProviderNotFound)
	assert.Zero(t, e.a.CallCount())
	assert.Zero(t, e.b.CallCount())

	rows, err := e.store.ListWorkflows(context.Background(), store.WorkflowFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFactory_MissingProviderSetting(t *testing.T) {
	e := newEnv(t)
	f := e.factory(t, func(c *FactoryConfig) { c.Definition.Name = "travel"; c.Definition.Tools = nil })

	_, err := f.New(context.Background(), "alice", nil, Params{})
	assert.ErrorIs(t, err, ErrMissingSetting)
}

func TestFactory_UnknownToolInDefinition(t *testing.T) {
	e := newEnv(t)
	_, err := NewFactory(FactoryConfig{
		Definition: Definition{Name: "chat", Tools: []string{"ping", "teleport"}},
		Settings:   e.settings,
		Providers:  e.registry,
		Store:      e.store,
		Executor:   e.executor,
	})
	require.ErrorIs(t, err, tools.ErrUnknownTool)
	assert.Contains(t, err.Error(), "teleport")
}

func TestFactory_NewAllocatesStableID(t *testing.T) {
	e := newEnv(t)
	f := e.factory(t)
	ctx := context.Background()

	w, err := f.New(ctx, "alice", nil, Params{Title: "Planning"})
	require.NoError(t, err)
	require.NotEmpty(t, w.ID)
	assert.Equal(t, "llm-a", w.ProviderID())
	assert.Empty(t, w.History())

	row, err := e.store.GetWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", row.UserID)
	assert.Equal(t, "Planning", row.Title)
	assert.Equal(t, "llm-a", row.ProviderID)

	groups, err := e.store.GetMessageGroups(ctx, w.ID)
	require.NoError(t, err)
	assert.Empty(t, groups)

	res, err := w.Send(ctx, "Hello")
	require.NoError(t, err)
	assert.Equal(t, llm.FinishStop, res.FinishReason)

	groups, err = e.store.GetMessageGroups(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, w.ID, groups[0].WorkflowID)

	calls := e.a.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Default instructions.", calls[0].System)
	require.Len(t, calls[0].Tools, 1)
	assert.Equal(t, "ping", calls[0].Tools[0].Name)
}

func TestFactory_ExistingRejectsOtherUsers(t *testing.T) {
	e := newEnv(t)
	f := e.factory(t)
	ctx := context.Background()

	w, err := f.New(ctx, "alice", nil, Params{})
	require.NoError(t, err)
	_, err = w.Send(ctx, "secret plans")
	require.NoError(t, err)

	got, err := f.Existing(ctx, "mallory", w.ID, nil)
	require.ErrorIs(t, err, ErrAuthorization)
	assert.Nil(t, got)
	assert.NotContains(t, err.Error(), "secret")
}

func TestFactory_ExistingReplaysGroups(t *testing.T) {
	e := newEnv(t)
	f := e.factory(t)
	ctx := context.Background()

	w, err := f.New(ctx, "alice", nil, Params{})
	require.NoError(t, err)
	_, err = w.Send(ctx, "one")
	require.NoError(t, err)
	_, err = w.Send(ctx, "two")
	require.NoError(t, err)

	resumed, err := f.Existing(ctx, "alice", w.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, w.ID, resumed.ID)
	assert.Equal(t, w.History(), resumed.History())
	assert.Len(t, resumed.History(), 4)
}

func TestFactory_ReplaySkipsEmptyAbortedReply(t *testing.T) {
	e := newEnv(t)
	f := e.factory(t)
	ctx := context.Background()

	w, err := f.New(ctx, "alice", nil, Params{})
	require.NoError(t, err)
	_, err = e.store.InsertMessageGroup(ctx, w.ID, []llm.Message{
		llm.UserMessage("hang on"),
		llm.AssistantMessage("", llm.FinishAborted),
	})
	require.NoError(t, err)

	resumed, err := f.Existing(ctx, "alice", w.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{llm.UserMessage("hang on")}, resumed.History())

	_, err = resumed.Send(ctx, "again")
	require.NoError(t, err)
	calls := e.a.Calls()
	require.NotEmpty(t, calls)
	for _, m := range calls[len(calls)-1].Messages {
		if m.IsEmptyReply() {
			t.Errorf("empty assistant message sent to provider: %+v", m)
		}
	}
}

func TestFactory_ResumeKeepsToolCallsClaimed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	w, err := e.factory(t).New(ctx, "alice", nil, Params{})
	require.NoError(t, err)
	call := llm.ToolCall{ID: "call-1", Name: "ping", Arguments: "{}"}
	_, err = e.store.InsertMessageGroup(ctx, w.ID, []llm.Message{
		llm.UserMessage("ping it"),
		llm.AssistantMessage("", llm.FinishToolCalls, call),
		llm.ToolResultMessage("call-1", `"pong"`),
		llm.AssistantMessage("pong", llm.FinishStop),
	})
	require.NoError(t, err)

	// A fresh executor stands in for a restarted process with an empty ledger.
	fresh := tools.NewExecutor(tools.ExecutorConfig{Registry: e.executor.Registry(), Timeout: time.Second})
	f := e.factory(t, func(c *FactoryConfig) { c.Executor = fresh })
	_, err = f.Existing(ctx, "alice", w.ID, nil)
	require.NoError(t, err)

	res := fresh.Execute(ctx, tools.Caller{WorkflowID: w.ID, UserID: "alice"}, call)
	require.ErrorIs(t, res.Err, tools.ErrDuplicateCall)

	other := fresh.Execute(ctx, tools.Caller{WorkflowID: w.ID, UserID: "alice"}, llm.ToolCall{ID: "call-2", Name: "ping", Arguments: "{}"})
	require.NoError(t, other.Err)
	assert.Equal(t, `"pong"`, other.Content)
}

func TestFactory_ReplayRespectsBound(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	w, err := e.factory(t).New(ctx, "alice", nil, Params{})
	require.NoError(t, err)
	for _, msg := range []string{"one", "two", "three"} {
		_, err = w.Send(ctx, msg)
		require.NoError(t, err)
	}

	small := e.factory(t, func(c *FactoryConfig) { c.MaxMessages = 2 })
	resumed, err := small.Existing(ctx, "alice", w.ID, nil)
	require.NoError(t, err)
	h := resumed.History()
	require.Len(t, h, 2)
	assert.Equal(t, "three", h[0].Content)
	assert.Equal(t, "reply", h[1].Content)
}

func TestFactory_SettingsReadFreshPerInvocation(t *testing.T) {
	e := newEnv(t)
	f := e.factory(t)
	ctx := context.Background()

	w, err := f.New(ctx, "alice", nil, Params{})
	require.NoError(t, err)

	require.NoError(t, e.settings.Update(ctx, settings.ProviderKey("chat"), "llm-b"))
	require.NoError(t, e.settings.Update(ctx, settings.InstructionsKey("chat"), "Talk like a pirate."))

	// The running workflow keeps its provider.
	_, err = w.Send(ctx, "still a?")
	require.NoError(t, err)
	assert.Equal(t, 1, e.a.CallCount())
	assert.Zero(t, e.b.CallCount())

	resumed, err := f.Existing(ctx, "alice", w.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "llm-b", resumed.ProviderID())
	_, err = resumed.Send(ctx, "now b")
	require.NoError(t, err)
	require.Equal(t, 1, e.b.CallCount())
	assert.Equal(t, "Talk like a pirate.", e.b.Calls()[0].System)
}

func TestFactory_ExistingClosedWorkflow(t *testing.T) {
	e := newEnv(t)
	f := e.factory(t)
	ctx := context.Background()

	w, err := f.New(ctx, "alice", nil, Params{})
	require.NoError(t, err)
	require.NoError(t, e.store.CloseWorkflow(ctx, w.ID))

	_, err = f.Existing(ctx, "alice", w.ID, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFactory_ExistingNotFound(t *testing.T) {
	e := newEnv(t)
	_, err := e.factory(t).Existing(context.Background(), "alice", "nope", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFactory_TokenizerFallsBackToCount(t *testing.T) {
	e := newEnv(t)
	f := e.factory(t, func(c *FactoryConfig) {
		c.MaxTokens = 500
		c.MaxMessages = 7
		c.Tokenizer = func(string) (history.Tokenizer, error) { return nil, errors.New("no encoding") }
	})
	h, ok := f.newHistory("mystery-model").(*history.Window)
	require.True(t, ok)
	assert.Equal(t, "messages", h.Bounds())
	assert.Equal(t, 7, h.Limit())

	g := e.factory(t, func(c *FactoryConfig) {
		c.MaxTokens = 500
		c.Tokenizer = func(string) (history.Tokenizer, error) { return history.WordCounter{}, nil }
	})
	h, ok = g.newHistory("known-model").(*history.Window)
	require.True(t, ok)
	assert.Equal(t, "tokens", h.Bounds())
	assert.Equal(t, 500, h.Limit())
}

func TestWorkflow_SendRejectsBlank(t *testing.T) {
	e := newEnv(t)
	w, err := e.factory(t).New(context.Background(), "alice", nil, Params{})
	require.NoError(t, err)

	_, err = w.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Zero(t, e.a.CallCount())

	w.Close()
	_, err = w.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWorkflow_StreamsToAttachedEmitter(t *testing.T) {
	e := newEnv(t)
	em := conversation.NewChannelEmitter()
	w, err := e.factory(t).New(context.Background(), "alice", em, Params{})
	require.NoError(t, err)

	res, err := w.Send(context.Background(), "Hello")
	require.NoError(t, err)

	em.Close()
	var last conversation.Event
	for ev := range em.Events() {
		last = ev
	}
	assert.Equal(t, conversation.EventCompletion, last.Type)
	assert.Equal(t, res.GroupID, last.GroupID)
	assert.Equal(t, w.ID, last.WorkflowID)
}

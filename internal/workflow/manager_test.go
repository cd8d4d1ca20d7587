// ABOUTME: Tests for the live workflow manager
// ABOUTME: Create, open, ordered sends, idle unloading, authorization, close, and shutdown

package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/workflow-gateway/internal/conversation"
	"github.com/2389/workflow-gateway/internal/store"
)

func newManager(t *testing.T, e *env) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		Factories: []*Factory{e.factory(t)},
		Store:     e.store,
		Executor:  e.executor,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func waitFor(t *testing.T, em *conversation.ChannelEmitter, typ conversation.EventType) conversation.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-em.Events():
			require.True(t, ok, "emitter closed before %s", typ)
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestManager_CreateAndSend(t *testing.T) {
	e := newEnv(t)
	m := newManager(t, e)
	ctx := context.Background()

	em := conversation.NewChannelEmitter()
	w, err := m.Create(ctx, "alice", "chat", Params{Title: "hi"}, em)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Live())

	require.NoError(t, m.Send(ctx, "alice", w.ID, "Hello"))
	ev := waitFor(t, em, conversation.EventCompletion)
	assert.NotEmpty(t, ev.GroupID)
}

func TestManager_SendKeepsArrivalOrder(t *testing.T) {
	e := newEnv(t)
	m := newManager(t, e)
	ctx := context.Background()

	em := conversation.NewChannelEmitter()
	w, err := m.Create(ctx, "alice", "chat", Params{}, em)
	require.NoError(t, err)

	const n = 10
	for i := 0; i < n; i++ {
		require.NoError(t, m.Send(ctx, "alice", w.ID, fmt.Sprintf("message %d", i)))
	}
	for i := 0; i < n; i++ {
		waitFor(t, em, conversation.EventCompletion)
	}

	var groups []*store.MessageGroup
	require.Eventually(t, func() bool {
		groups, err = e.store.GetMessageGroups(ctx, w.ID)
		return err == nil && len(groups) == n
	}, 2*time.Second, 10*time.Millisecond)
	for i, g := range groups {
		require.NotEmpty(t, g.Messages)
		if got, want := g.Messages[0].Content, fmt.Sprintf("message %d", i); got != want {
			t.Errorf("group %d opens with %q, want %q", i, got, want)
		}
	}
}

func TestManager_UnloadsIdleWorkflow(t *testing.T) {
	e := newEnv(t)
	m := newManager(t, e)
	ctx := context.Background()

	w, err := m.Create(ctx, "alice", "chat", Params{}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Send(ctx, "alice", w.ID, "Hello"))

	// Nobody listens, so the workflow is dropped once its turn is stored.
	require.Eventually(t, func() bool { return m.Live() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, store.WorkflowActive, w.State(), "unloading is not closing")

	em := conversation.NewChannelEmitter()
	resumed, err := m.Open(ctx, "alice", w.ID, em)
	require.NoError(t, err)
	assert.NotSame(t, w, resumed)
	require.Len(t, resumed.History(), 2)
	assert.Equal(t, 1, m.Live())

	// A listener keeps it loaded across turns.
	require.NoError(t, m.Send(ctx, "alice", w.ID, "again"))
	waitFor(t, em, conversation.EventCompletion)
	assert.Equal(t, 1, m.Live())

	m.Detach(resumed, em)
	require.Eventually(t, func() bool { return m.Live() == 0 }, 2*time.Second, 5*time.Millisecond)

	groups, err := e.store.GetMessageGroups(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, groups, 2)
}

func TestManager_UnknownType(t *testing.T) {
	m := newManager(t, newEnv(t))
	_, err := m.Create(context.Background(), "alice", "poetry", Params{}, nil)
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Equal(t, []string{"chat"}, m.Types())
}

func TestManager_OpenChecksOwner(t *testing.T) {
	e := newEnv(t)
	m := newManager(t, e)
	ctx := context.Background()

	w, err := m.Create(ctx, "alice", "chat", Params{}, nil)
	require.NoError(t, err)

	_, err = m.Open(ctx, "mallory", w.ID, nil)
	assert.ErrorIs(t, err, ErrAuthorization)
	assert.ErrorIs(t, m.Send(ctx, "mallory", w.ID, "hi"), ErrAuthorization)
	assert.ErrorIs(t, m.Close(ctx, "mallory", w.ID), ErrAuthorization)
}

func TestManager_OpenResumesFromStore(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := newManager(t, e)
	w, err := first.Create(ctx, "alice", "chat", Params{}, nil)
	require.NoError(t, err)
	_, err = w.Send(ctx, "remember me")
	require.NoError(t, err)

	// A second manager models a restarted process.
	second := newManager(t, e)
	em := conversation.NewChannelEmitter()
	resumed, err := second.Open(ctx, "alice", w.ID, em)
	require.NoError(t, err)
	require.Len(t, resumed.History(), 2)
	assert.Equal(t, "remember me", resumed.History()[0].Content)

	again, err := second.Open(ctx, "alice", w.ID, nil)
	require.NoError(t, err)
	assert.Same(t, resumed, again)
}

func TestManager_OpenSupersedesEmitter(t *testing.T) {
	e := newEnv(t)
	m := newManager(t, e)
	ctx := context.Background()

	first := conversation.NewChannelEmitter()
	w, err := m.Create(ctx, "alice", "chat", Params{}, first)
	require.NoError(t, err)

	second := conversation.NewChannelEmitter()
	_, err = m.Open(ctx, "alice", w.ID, second)
	require.NoError(t, err)
	assert.True(t, isClosed(first.Done()))

	require.NoError(t, m.Send(ctx, "alice", w.ID, "Hello"))
	waitFor(t, second, conversation.EventCompletion)
}

func TestManager_SendValidates(t *testing.T) {
	e := newEnv(t)
	m := newManager(t, e)
	ctx := context.Background()

	w, err := m.Create(ctx, "alice", "chat", Params{}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Send(ctx, "alice", w.ID, ""), ErrEmptyMessage)
	assert.ErrorIs(t, m.Send(ctx, "alice", "missing", "hi"), store.ErrNotFound)
}

func TestManager_Close(t *testing.T) {
	e := newEnv(t)
	m := newManager(t, e)
	ctx := context.Background()

	em := conversation.NewChannelEmitter()
	w, err := m.Create(ctx, "alice", "chat", Params{}, em)
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx, "alice", w.ID))
	assert.Zero(t, m.Live())
	assert.True(t, isClosed(em.Done()))
	assert.Equal(t, store.WorkflowClosed, w.State())

	row, err := e.store.GetWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WorkflowClosed, row.State)

	assert.ErrorIs(t, m.Send(ctx, "alice", w.ID, "hi"), ErrClosed)
}

func TestManager_ShutdownRejectsNewWork(t *testing.T) {
	e := newEnv(t)
	m := newManager(t, e)
	ctx := context.Background()

	w, err := m.Create(ctx, "alice", "chat", Params{}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Shutdown(ctx))

	assert.Zero(t, m.Live())
	_, err = m.Create(ctx, "alice", "chat", Params{}, nil)
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.ErrorIs(t, m.Send(ctx, "alice", w.ID, "hi"), ErrShuttingDown)
}

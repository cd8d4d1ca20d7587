// ABOUTME: Behavioural tests run against both SQLiteStore and MockStore
// ABOUTME: Keeps the in-memory mock honest about the semantics callers rely on

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/workflow-gateway/internal/llm"
)

func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("mock", func(t *testing.T) { fn(t, NewMockStore()) })
}

func createTestWorkflow(t *testing.T, s Store, userID string) *Workflow {
	t.Helper()
	wf := &Workflow{
		ID:         uuid.New().String(),
		UserID:     userID,
		Type:       "chat",
		Title:      "test",
		ProviderID: "echo",
		Model:      "echo-1",
	}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	return wf
}

func TestStore_WorkflowLifecycle(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		wf := createTestWorkflow(t, s, "user-1")

		got, err := s.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, WorkflowActive, got.State)
		assert.Nil(t, got.ClosedAt)

		err = s.CreateWorkflow(ctx, &Workflow{ID: wf.ID, UserID: "x", Type: "chat", ProviderID: "p", Model: "m"})
		assert.ErrorIs(t, err, ErrDuplicate)

		require.NoError(t, s.CloseWorkflow(ctx, wf.ID))
		got, err = s.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, WorkflowClosed, got.State)
		assert.NotNil(t, got.ClosedAt)

		assert.ErrorIs(t, s.CloseWorkflow(ctx, "missing"), ErrNotFound)
		_, err = s.GetWorkflow(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ListWorkflows(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		createTestWorkflow(t, s, "alice")
		createTestWorkflow(t, s, "alice")
		bob := createTestWorkflow(t, s, "bob")
		require.NoError(t, s.CloseWorkflow(ctx, bob.ID))

		alice, err := s.ListWorkflows(ctx, WorkflowFilter{UserID: "alice"})
		require.NoError(t, err)
		assert.Len(t, alice, 2)

		closed, err := s.ListWorkflows(ctx, WorkflowFilter{State: WorkflowClosed})
		require.NoError(t, err)
		require.Len(t, closed, 1)
		assert.Equal(t, bob.ID, closed[0].ID)

		limited, err := s.ListWorkflows(ctx, WorkflowFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}

func TestStore_MessageGroups(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		wf := createTestWorkflow(t, s, "user-1")

		call := llm.ToolCall{ID: "call-1", Name: "current_time", Arguments: `{}`}
		first := []llm.Message{
			llm.UserMessage("what time is it"),
			llm.AssistantMessage("", llm.FinishToolCalls, call),
			llm.ToolResultMessage("call-1", `{"time":"12:00"}`),
			llm.AssistantMessage("It is noon.", llm.FinishStop),
		}
		g1, err := s.InsertMessageGroup(ctx, wf.ID, first)
		require.NoError(t, err)
		assert.Equal(t, 1, g1.Seq)

		g2, err := s.InsertMessageGroup(ctx, wf.ID, []llm.Message{
			llm.UserMessage("thanks"),
			llm.AssistantMessage("Any time.", llm.FinishStop),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, g2.Seq)

		groups, err := s.GetMessageGroups(ctx, wf.ID)
		require.NoError(t, err)
		require.Len(t, groups, 2)
		assert.Equal(t, g1.ID, groups[0].ID)
		assert.Equal(t, g2.ID, groups[1].ID)
		require.Len(t, groups[0].Messages, 4)
		assert.Equal(t, []llm.ToolCall{call}, groups[0].Messages[1].ToolCalls)
		assert.Equal(t, "call-1", groups[0].Messages[2].ToolCallID)
		for i, m := range groups[0].Messages {
			assert.Equal(t, i, m.Index)
		}
	})
}

func TestStore_MessageGroupErrors(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		wf := createTestWorkflow(t, s, "user-1")

		_, err := s.InsertMessageGroup(ctx, wf.ID, nil)
		assert.ErrorIs(t, err, ErrEmptyGroup)

		_, err = s.InsertMessageGroup(ctx, "missing", []llm.Message{llm.UserMessage("hi")})
		assert.ErrorIs(t, err, ErrNotFound)

		groups, err := s.GetMessageGroups(ctx, wf.ID)
		require.NoError(t, err)
		assert.Empty(t, groups)
	})
}

func TestStore_Usage(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		wf := createTestWorkflow(t, s, "user-1")
		other := createTestWorkflow(t, s, "user-2")

		save := func(wfID, userID, requestID string, prompt, completion int) {
			require.NoError(t, s.SaveUsage(ctx, &TokenUsage{
				ID:               uuid.New().String(),
				WorkflowID:       wfID,
				UserID:           userID,
				RequestID:        requestID,
				ProviderID:       "echo",
				Model:            "echo-1",
				PromptTokens:     prompt,
				CompletionTokens: completion,
				FinishReason:     llm.FinishStop,
			}))
		}
		save(wf.ID, "user-1", "turn-1", 100, 20)
		save(wf.ID, "user-1", "turn-1", 150, 30)
		save(other.ID, "user-2", "turn-2", 10, 5)

		require.NoError(t, s.LinkUsageToGroup(ctx, "turn-1", "group-1"))

		usages, err := s.GetWorkflowUsage(ctx, wf.ID)
		require.NoError(t, err)
		require.Len(t, usages, 2)
		for _, u := range usages {
			assert.Equal(t, "group-1", u.GroupID)
			assert.Equal(t, llm.FinishStop, u.FinishReason)
		}

		all, err := s.GetUsageStats(ctx, UsageFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), all.RequestCount)
		assert.Equal(t, int64(260), all.PromptTokens)
		assert.Equal(t, int64(315), all.TotalTokens)

		user := "user-1"
		mine, err := s.GetUsageStats(ctx, UsageFilter{UserID: &user})
		require.NoError(t, err)
		assert.Equal(t, int64(2), mine.RequestCount)
		assert.Equal(t, int64(50), mine.CompletionTokens)

		future := time.Now().Add(time.Hour)
		none, err := s.GetUsageStats(ctx, UsageFilter{Since: &future})
		require.NoError(t, err)
		assert.Equal(t, int64(0), none.RequestCount)
	})
}

func TestStore_Settings(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetSetting(ctx, "chat.llmProvider")
		assert.ErrorIs(t, err, ErrNotFound)

		seeded, err := s.SeedSetting(ctx, "chat.llmProvider", "openai")
		require.NoError(t, err)
		assert.True(t, seeded)

		seeded, err = s.SeedSetting(ctx, "chat.llmProvider", "anthropic")
		require.NoError(t, err)
		assert.False(t, seeded, "seeding must not overwrite")

		require.NoError(t, s.PutSetting(ctx, "chat.llmProvider", "anthropic"))
		require.NoError(t, s.PutSetting(ctx, "chat.model", "claude"))

		st, err := s.GetSetting(ctx, "chat.llmProvider")
		require.NoError(t, err)
		assert.Equal(t, "anthropic", st.Value)

		list, err := s.ListSettings(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "chat.llmProvider", list[0].Key)
		assert.Equal(t, "chat.model", list[1].Key)
	})
}

func TestStore_Issues(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		issue := &Issue{ID: "iss-1", WorkflowID: "wf", UserID: "u1", Title: "Printer on fire", Priority: "high"}
		require.NoError(t, s.CreateIssue(ctx, issue))
		require.NoError(t, s.CreateIssue(ctx, &Issue{ID: "iss-2", WorkflowID: "wf", UserID: "u2", Title: "Other"}))

		open, err := s.ListIssues(ctx, "u1", IssueOpen)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, "high", open[0].Priority)

		updated, err := s.UpdateIssueStatus(ctx, "iss-1", "u1", IssueResolved)
		require.NoError(t, err)
		assert.Equal(t, IssueResolved, updated.Status)

		_, err = s.UpdateIssueStatus(ctx, "iss-1", "u2", IssueClosed)
		assert.ErrorIs(t, err, ErrNotFound, "users cannot touch each other's issues")

		open, err = s.ListIssues(ctx, "u1", IssueOpen)
		require.NoError(t, err)
		assert.Empty(t, open)
	})
}

func TestStore_Bookings(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		dep := time.Date(2026, 12, 1, 9, 0, 0, 0, time.UTC)
		require.NoError(t, s.CreateBooking(ctx, &Booking{
			ID: "bk-2", WorkflowID: "wf", UserID: "u1", FlightID: "WG200", Passenger: "Ada",
			Origin: "OSL", Destination: "LHR", Departure: dep.Add(24 * time.Hour),
		}))
		require.NoError(t, s.CreateBooking(ctx, &Booking{
			ID: "bk-1", WorkflowID: "wf", UserID: "u1", FlightID: "WG100", Passenger: "Ada",
			Origin: "OSL", Destination: "CDG", Departure: dep,
		}))

		list, err := s.ListBookings(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "bk-1", list[0].ID)
		assert.Equal(t, BookingConfirmed, list[0].Status)
		assert.True(t, dep.Equal(list[0].Departure))

		cancelled, err := s.CancelBooking(ctx, "bk-1", "u1")
		require.NoError(t, err)
		assert.Equal(t, BookingCancelled, cancelled.Status)

		_, err = s.CancelBooking(ctx, "bk-2", "someone-else")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

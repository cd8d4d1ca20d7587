// ABOUTME: Tests for the history window bounds and tool-call pairing
// ABOUTME: Property tests with gopter plus scenario tests for eviction

package history

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/workflow-gateway/internal/llm"
)

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("w ", n))
}

// apply replays op codes against h: 0 user, 1 assistant, 2 one tool call with
// its result, 3 two tool calls with both results.
func apply(h History, ops []int) {
	for i, op := range ops {
		size := i%5 + 1
		switch op {
		case 0:
			_ = h.Add(llm.UserMessage(words(size)))
		case 1:
			_ = h.Add(llm.AssistantMessage(words(size), llm.FinishStop))
		default:
			n := op - 1
			calls := make([]llm.ToolCall, n)
			for j := range calls {
				calls[j] = llm.ToolCall{ID: fmt.Sprintf("c%d-%d", i, j), Name: "lookup", Arguments: "{}"}
			}
			_ = h.Add(llm.AssistantMessage("", llm.FinishToolCalls, calls...))
			for _, c := range calls {
				_ = h.Add(llm.ToolResultMessage(c.ID, words(size)))
			}
		}
	}
}

// paired reports whether every tool result follows the call it answers and
// every retained call has all of its results.
func paired(msgs []llm.Message, complete bool) bool {
	open := map[string]bool{}
	for _, m := range msgs {
		if m.HasToolCalls() {
			for _, c := range m.ToolCalls {
				open[c.ID] = true
			}
		}
		if m.Sender == llm.SenderTool {
			if !open[m.ToolCallID] {
				return false
			}
			delete(open, m.ToolCallID)
		}
	}
	return !complete || len(open) == 0
}

// overBoundAllowed reports whether msgs is what the window may hold while
// over its bound: the newest unit, optionally preceded by the latest user
// message.
func overBoundAllowed(msgs []llm.Message) bool {
	rest := msgs
	if len(rest) > 1 && rest[0].Sender == llm.SenderUser {
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return true
	}
	if rest[0].Sender == llm.SenderTool {
		return false
	}
	if len(rest) > 1 && rest[0].Sender == llm.SenderUser {
		return false
	}
	if !rest[0].HasToolCalls() {
		return len(rest) == 1
	}
	for _, m := range rest[1:] {
		if m.Sender != llm.SenderTool {
			return false
		}
	}
	return true
}

func TestCountWindowNeverExceedsBoundProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("count window size stays within maxMessages", prop.ForAll(
		func(ops []int, max int) bool {
			w := NewCountWindow(max)
			for i := range ops {
				apply(w, ops[i:i+1])
				if w.Len() > max && !overBoundAllowed(w.Read()) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 3)),
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}

func TestTokenWindowNeverExceedsBoundProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("token window weight stays within maxTokens", prop.ForAll(
		func(ops []int, max int) bool {
			w := NewTokenWindow(max, WordCounter{})
			for i := range ops {
				apply(w, ops[i:i+1])
				if w.Weight() > max && !overBoundAllowed(w.Read()) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 3)),
		gen.IntRange(1, 40),
	))

	properties.Property("token window opens with a user message once it has evicted", prop.ForAll(
		func(ops []int, max int) bool {
			w := NewTokenWindow(max, WordCounter{})
			apply(w, append([]int{0}, ops...))
			msgs := w.Read()
			hasUser := false
			for _, m := range msgs {
				hasUser = hasUser || m.Sender == llm.SenderUser
			}
			return !hasUser || msgs[0].Sender == llm.SenderUser
		},
		gen.SliceOf(gen.IntRange(0, 3)),
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}

func TestWindowKeepsToolPairsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("token window never splits a call from its results", prop.ForAll(
		func(ops []int, max int) bool {
			w := NewTokenWindow(max, WordCounter{})
			apply(w, ops)
			return paired(w.Read(), true)
		},
		gen.SliceOf(gen.IntRange(0, 3)),
		gen.IntRange(1, 40),
	))

	properties.Property("count window never splits a call from its results", prop.ForAll(
		func(ops []int, max int) bool {
			w := NewCountWindow(max)
			apply(w, ops)
			return paired(w.Read(), true)
		},
		gen.SliceOf(gen.IntRange(0, 3)),
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}

func TestReadDoesNotMutateProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("reading never changes the window", prop.ForAll(
		func(ops []int) bool {
			w := NewTokenWindow(20, WordCounter{})
			apply(w, ops)
			before := w.Read()
			scratch := w.Read()
			for i := range scratch {
				scratch[i].Content = "mutated"
				for j := range scratch[i].ToolCalls {
					scratch[i].ToolCalls[j].Name = "mutated"
				}
			}
			after := w.Read()
			return reflect.DeepEqual(before, after) && w.Len() == len(after)
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}

func TestTokenWindowEvictsOldestToFit(t *testing.T) {
	w := NewTokenWindow(50, WordCounter{})
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Add(llm.UserMessage(words(15))))
	}
	require.Equal(t, 45, w.Weight())

	require.NoError(t, w.Add(llm.UserMessage(words(10))))

	assert.LessOrEqual(t, w.Weight(), 50)
	assert.Equal(t, 40, w.Weight())
	msgs := w.Read()
	require.Len(t, msgs, 3)
	assert.Equal(t, words(10), msgs[2].Content)
}

func TestCountWindowEvictsOldest(t *testing.T) {
	w := NewCountWindow(2)
	require.NoError(t, w.Add(llm.UserMessage("one")))
	require.NoError(t, w.Add(llm.UserMessage("two")))
	require.NoError(t, w.Add(llm.UserMessage("three")))

	msgs := w.Read()
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)
}

func TestWindowEvictsCallAndResultTogether(t *testing.T) {
	w := NewCountWindow(3)
	call := llm.ToolCall{ID: "call-1", Name: "lookup", Arguments: `{"q":"x"}`}
	require.NoError(t, w.Add(llm.AssistantMessage("", llm.FinishToolCalls, call)))
	require.NoError(t, w.Add(llm.ToolResultMessage("call-1", "found")))
	require.NoError(t, w.Add(llm.UserMessage("next")))
	require.Equal(t, 3, w.Len())

	// A fourth message pushes out the pair as a whole.
	require.NoError(t, w.Add(llm.UserMessage("again")))

	msgs := w.Read()
	require.Len(t, msgs, 2)
	assert.Equal(t, "next", msgs[0].Content)
	assert.Equal(t, "again", msgs[1].Content)
}

func TestWindowKeepsNewestUnitOverBound(t *testing.T) {
	w := NewTokenWindow(3, WordCounter{})
	require.NoError(t, w.Add(llm.UserMessage("a b")))
	require.NoError(t, w.Add(llm.UserMessage("c d e f g")))

	msgs := w.Read()
	require.Len(t, msgs, 1)
	assert.Equal(t, "c d e f g", msgs[0].Content)
}

func TestWindowHoldsOversizedUnitWhole(t *testing.T) {
	w := NewCountWindow(2)
	calls := []llm.ToolCall{
		{ID: "c1", Name: "lookup", Arguments: "{}"},
		{ID: "c2", Name: "lookup", Arguments: "{}"},
	}
	require.NoError(t, w.Add(llm.UserMessage("find both")))
	require.NoError(t, w.Add(llm.AssistantMessage("", llm.FinishToolCalls, calls...)))
	require.NoError(t, w.Add(llm.ToolResultMessage("c1", "one")))
	require.NoError(t, w.Add(llm.ToolResultMessage("c2", "two")))

	// The call with its results cannot be split and the question it answers
	// stays, so the window runs over its bound.
	assert.Equal(t, 4, w.Len())
	msgs := w.Read()
	assert.Equal(t, "find both", msgs[0].Content)
	assert.True(t, paired(msgs, true))
}

func TestWindowKeepsCurrentQuestionDuringToolLoop(t *testing.T) {
	w := NewCountWindow(3)
	require.NoError(t, w.Add(llm.UserMessage("question")))
	for i := 1; i <= 2; i++ {
		id := fmt.Sprintf("c%d", i)
		require.NoError(t, w.Add(llm.AssistantMessage("", llm.FinishToolCalls, llm.ToolCall{ID: id, Name: "lookup", Arguments: "{}"})))
		require.NoError(t, w.Add(llm.ToolResultMessage(id, "data")))
	}

	msgs := w.Read()
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.SenderUser, msgs[0].Sender)
	assert.Equal(t, "question", msgs[0].Content)
	assert.Equal(t, "c2", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, "c2", msgs[2].ToolCallID)
}

func TestWindowDropsLeftoverReplyOfEvictedTurn(t *testing.T) {
	w := NewCountWindow(3)
	require.NoError(t, w.Add(llm.UserMessage("first")))
	require.NoError(t, w.Add(llm.AssistantMessage("answer one", llm.FinishStop)))
	require.NoError(t, w.Add(llm.UserMessage("second")))
	require.NoError(t, w.Add(llm.AssistantMessage("answer two", llm.FinishStop)))

	msgs := w.Read()
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].Content)
	assert.Equal(t, "answer two", msgs[1].Content)
}

func TestWindowRejectsEmptyReply(t *testing.T) {
	w := NewCountWindow(10)
	require.NoError(t, w.Add(llm.UserMessage("hello")))
	err := w.Add(llm.AssistantMessage("", llm.FinishAborted))
	require.ErrorIs(t, err, ErrEmptyReply)
	assert.Equal(t, 1, w.Len())
}

func TestWindowDropsOrphanResult(t *testing.T) {
	w := NewCountWindow(10)
	err := w.Add(llm.ToolResultMessage("missing", "data"))
	require.ErrorIs(t, err, ErrOrphanResult)
	assert.Equal(t, 0, w.Len())
}

func TestWindowUnbounded(t *testing.T) {
	w := NewCountWindow(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, w.Add(llm.UserMessage("x")))
	}
	assert.Equal(t, 100, w.Len())
}

func TestTokenWindowCountsToolCallPayload(t *testing.T) {
	w := NewTokenWindow(0, WordCounter{})
	call := llm.ToolCall{ID: "c", Name: "lookup", Arguments: "alpha beta"}
	require.NoError(t, w.Add(llm.AssistantMessage("thinking now", llm.FinishToolCalls, call)))
	assert.Equal(t, 5, w.Weight())
}

func TestNewTiktokenRejectsEmptyModel(t *testing.T) {
	_, err := NewTiktoken("")
	require.ErrorIs(t, err, ErrNoTokenizer)
}

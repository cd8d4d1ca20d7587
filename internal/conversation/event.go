// ABOUTME: Events streamed to clients and the Emitter contract that delivers them
// ABOUTME: Partial content, tool activity, completion, and error events

package conversation

import (
	"context"
	"time"

	"github.com/2389/workflow-gateway/internal/llm"
)

// EventType discriminates Event payloads.
type EventType string

const (
	EventPartialContent  EventType = "partial_content"
	EventToolCallStarted EventType = "tool_call_started"
	EventToolResult      EventType = "tool_result"
	EventCompletion      EventType = "completion"
	EventError           EventType = "error"
)

// Event is one item of a workflow's output stream.
type Event struct {
	Type         EventType        `json:"type"`
	WorkflowID   string           `json:"workflow_id"`
	Text         string           `json:"text,omitempty"`
	ToolName     string           `json:"tool_name,omitempty"`
	ToolCallID   string           `json:"tool_call_id,omitempty"`
	Result       string           `json:"result,omitempty"`
	IsError      bool             `json:"is_error,omitempty"`
	GroupID      string           `json:"group_id,omitempty"`
	FinishReason llm.FinishReason `json:"finish_reason,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Emitter delivers events for one workflow in order.
type Emitter interface {
	// Emit delivers e, blocking while the consumer is behind. It fails once
	// the emitter is closed or ctx is done.
	Emit(ctx context.Context, e Event) error
	// Done is closed when the consumer goes away.
	Done() <-chan struct{}
}

func partialContent(text string) Event {
	return Event{Type: EventPartialContent, Text: text}
}

func toolCallStarted(call llm.ToolCall) Event {
	return Event{Type: EventToolCallStarted, ToolName: call.Name, ToolCallID: call.ID}
}

func toolResult(callID, name, result string, failed bool) Event {
	return Event{Type: EventToolResult, ToolName: name, ToolCallID: callID, Result: result, IsError: failed}
}

func completion(groupID, text string, reason llm.FinishReason) Event {
	return Event{Type: EventCompletion, GroupID: groupID, Text: text, FinishReason: reason}
}

func failure(reason, groupID string) Event {
	return Event{Type: EventError, Reason: reason, GroupID: groupID}
}

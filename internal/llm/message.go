// ABOUTME: Provider-neutral conversation message types
// ABOUTME: Message, ToolCall, ToolDefinition plus helpers used across the runtime

package llm

import "strings"

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderTool      Sender = "tool"
)

// Valid reports whether s is a known sender kind.
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderAssistant, SenderTool:
		return true
	}
	return false
}

// FinishReason is the terminal status of one provider round trip.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool_calls"
	FinishAborted   FinishReason = "aborted"
	FinishTimeout   FinishReason = "timeout"
)

// ToolCall is a request from the model to invoke a named tool.
// Arguments holds the raw JSON payload exactly as the provider produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Message is a single conversation entry.
type Message struct {
	Index        int          `json:"index"`
	Sender       Sender       `json:"sender"`
	Content      string       `json:"content"`
	ToolCallID   string       `json:"tool_call_id,omitempty"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Sender: SenderUser, Content: content}
}

// AssistantMessage builds an assistant message with the given finish reason.
func AssistantMessage(content string, reason FinishReason, calls ...ToolCall) Message {
	return Message{Sender: SenderAssistant, Content: content, FinishReason: reason, ToolCalls: calls}
}

// ToolResultMessage builds the tool message answering callID.
func ToolResultMessage(callID, content string) Message {
	return Message{Sender: SenderTool, Content: content, ToolCallID: callID}
}

// HasToolCalls reports whether the message requests tool invocations.
func (m Message) HasToolCalls() bool {
	return m.Sender == SenderAssistant && len(m.ToolCalls) > 0
}

// IsToolResult reports whether the message answers a tool call.
func (m Message) IsToolResult() bool {
	return m.Sender == SenderTool && m.ToolCallID != ""
}

// IsEmptyReply reports whether m is an assistant message with neither text
// nor tool calls, as left behind by a turn aborted before any output.
// Providers reject such messages, so they are kept out of History.
func (m Message) IsEmptyReply() bool {
	return m.Sender == SenderAssistant && m.Content == "" && len(m.ToolCalls) == 0
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (m Message) Clone() Message {
	if len(m.ToolCalls) > 0 {
		calls := make([]ToolCall, len(m.ToolCalls))
		copy(calls, m.ToolCalls)
		m.ToolCalls = calls
	}
	return m
}

// CloneAll deep copies a slice of messages.
func CloneAll(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// EstimateTokens is a rough token estimate (4 characters per token) used where
// no real tokenizer is available, such as rate limiting.
func EstimateTokens(msgs []Message) int {
	var chars int
	for _, m := range msgs {
		chars += len(m.Content)
		for _, c := range m.ToolCalls {
			chars += len(c.Name) + len(c.Arguments)
		}
	}
	return (chars + 3) / 4
}

// Text joins the content of all messages, mostly useful in logs and tests.
func Text(msgs []Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, string(m.Sender)+": "+m.Content)
	}
	return strings.Join(parts, "\n")
}

// ABOUTME: Streaming chunk types produced by inference providers
// ABOUTME: Text deltas, completed tool calls, and the terminal stop chunk with usage

package llm

// ChunkType discriminates Chunk payloads.
type ChunkType string

const (
	ChunkText     ChunkType = "text"
	ChunkToolCall ChunkType = "tool_call"
	ChunkStop     ChunkType = "stop"
)

// Usage counts the tokens consumed by one round trip.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Chunk is one element of an inference stream.
type Chunk struct {
	Type         ChunkType
	Text         string
	ToolCall     *ToolCall
	FinishReason FinishReason
	Usage        Usage
}

// TextChunk builds a partial-content chunk.
func TextChunk(text string) Chunk {
	return Chunk{Type: ChunkText, Text: text}
}

// ToolCallChunk builds a chunk carrying one fully assembled tool call.
func ToolCallChunk(call ToolCall) Chunk {
	return Chunk{Type: ChunkToolCall, ToolCall: &call}
}

// StopChunk builds the terminal chunk of a stream.
func StopChunk(reason FinishReason, usage Usage) Chunk {
	return Chunk{Type: ChunkStop, FinishReason: reason, Usage: usage}
}

// ABOUTME: Tool, Pack, Handler, and the error taxonomy of tool execution
// ABOUTME: Handlers receive the raw argument payload and the calling workflow

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/workflow-gateway/internal/llm"
)

var (
	// ErrToolCollision indicates a tool name is already registered.
	ErrToolCollision = errors.New("tool name collision")

	// ErrPackAlreadyRegistered indicates a pack with the same id exists.
	ErrPackAlreadyRegistered = errors.New("pack already registered")

	// ErrInvalidSchema indicates a tool's parameter schema does not compile.
	ErrInvalidSchema = errors.New("invalid tool schema")

	// ErrUnknownTool indicates the model called a tool that is not registered
	// or not offered to this workflow.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments indicates the argument payload is not valid JSON or
	// does not satisfy the tool's schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrDuplicateCall indicates the call id already ran in this workflow.
	ErrDuplicateCall = errors.New("duplicate tool call id")

	// ErrTimeout indicates the handler did not finish within its timeout.
	ErrTimeout = errors.New("tool execution timed out")
)

// Caller identifies the workflow on whose behalf a tool runs.
type Caller struct {
	WorkflowID string
	UserID     string
}

// Handler executes a tool. input is the argument payload exactly as the model
// produced it, already validated against the tool's schema.
type Handler func(ctx context.Context, caller Caller, input json.RawMessage) (json.RawMessage, error)

// Tool binds a definition to its handler.
type Tool struct {
	Definition llm.ToolDefinition
	Handler    Handler
	// Timeout overrides the executor default when positive.
	Timeout time.Duration
}

// Pack is a named collection of tools registered together.
type Pack struct {
	ID    string
	Tools []*Tool
}

// ExecutionError is a tool failure. It never aborts a turn; the executor
// renders it into the tool result the model sees.
type ExecutionError struct {
	Tool   string
	CallID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s (call %s): %v", e.Tool, e.CallID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Result is the outcome of one tool call.
type Result struct {
	CallID  string
	Name    string
	Content string
	// Err is non-nil when Content describes a failure.
	Err      error
	Duration time.Duration
}

// Failed reports whether the call did not produce a normal result.
func (r Result) Failed() bool { return r.Err != nil }

// Message converts the result into the tool message answering the call.
func (r Result) Message() llm.Message {
	return llm.ToolResultMessage(r.CallID, r.Content)
}

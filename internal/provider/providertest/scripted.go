// ABOUTME: Scripted inference provider for tests
// ABOUTME: Replays canned chunk sequences per call and records every request it receives

// Package providertest provides an in-process inference backend whose output
// is scripted by the test, so agents and factories run without a network.
package providertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/2389/workflow-gateway/internal/llm"
	"github.com/2389/workflow-gateway/internal/provider"
)

// ErrScriptExhausted is returned when Infer is called more often than scripted.
var ErrScriptExhausted = errors.New("providertest: script exhausted")

// Turn scripts one Infer call.
type Turn struct {
	// Err is returned from Infer instead of a stream.
	Err error
	// Chunks are streamed in order.
	Chunks []llm.Chunk
	// StreamErr ends the stream with an error after Chunks.
	StreamErr error
	// Hang keeps the stream open after Chunks until the context is cancelled.
	Hang bool
}

// Scripted is an inference provider driven by a list of Turns.
type Scripted struct {
	id string

	mu       sync.Mutex
	turns    []Turn
	calls    []provider.Request
	fallback func(n int) Turn
}

// New creates a scripted provider with the given id and turns.
func New(id string, turns ...Turn) *Scripted {
	return &Scripted{id: id, turns: turns}
}

// WithFallback sets the turn generator used once scripted turns run out.
// n is the zero-based call number.
func (s *Scripted) WithFallback(fn func(n int) Turn) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = fn
	return s
}

// ID implements provider.Provider.
func (s *Scripted) ID() string { return s.id }

// Infer implements provider.Inference.
func (s *Scripted) Infer(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	s.mu.Lock()
	n := len(s.calls)
	snapshot := *req
	snapshot.Messages = llm.CloneAll(req.Messages)
	s.calls = append(s.calls, snapshot)

	var turn Turn
	switch {
	case n < len(s.turns):
		turn = s.turns[n]
	case s.fallback != nil:
		turn = s.fallback(n)
	default:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w after %d calls", ErrScriptExhausted, n)
	}
	s.mu.Unlock()

	if turn.Err != nil {
		return nil, turn.Err
	}

	return provider.NewChannelStream(ctx, func(ctx context.Context, emit provider.Emit) error {
		for _, c := range turn.Chunks {
			if err := emit(c); err != nil {
				return err
			}
		}
		if turn.Hang {
			<-ctx.Done()
			return ctx.Err()
		}
		return turn.StreamErr
	}), nil
}

// Calls returns copies of every request received so far.
func (s *Scripted) Calls() []provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times Infer was called.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Reply scripts a plain text answer split into word chunks.
func Reply(text string, usage llm.Usage) Turn {
	var chunks []llm.Chunk
	words := strings.SplitAfter(text, " ")
	for _, w := range words {
		if w != "" {
			chunks = append(chunks, llm.TextChunk(w))
		}
	}
	chunks = append(chunks, llm.StopChunk(llm.FinishStop, usage))
	return Turn{Chunks: chunks}
}

// ToolCalls scripts a round trip that ends by requesting the given calls.
func ToolCalls(usage llm.Usage, calls ...llm.ToolCall) Turn {
	chunks := make([]llm.Chunk, 0, len(calls)+1)
	for _, c := range calls {
		chunks = append(chunks, llm.ToolCallChunk(c))
	}
	chunks = append(chunks, llm.StopChunk(llm.FinishToolCalls, usage))
	return Turn{Chunks: chunks}
}

var _ provider.Inference = (*Scripted)(nil)

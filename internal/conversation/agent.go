// ABOUTME: Agent drives one user turn through provider and tool round trips
// ABOUTME: Bounded state machine that streams events and persists one MessageGroup per turn

package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/workflow-gateway/internal/history"
	"github.com/2389/workflow-gateway/internal/llm"
	"github.com/2389/workflow-gateway/internal/provider"
	"github.com/2389/workflow-gateway/internal/store"
	"github.com/2389/workflow-gateway/internal/tools"
)

// DefaultMaxIterations bounds provider round trips per turn.
const DefaultMaxIterations = 5

// persistTimeout bounds store writes made on behalf of a turn. Writes use a
// fresh context so an aborted turn can still be recorded.
const persistTimeout = 5 * time.Second

var (
	// ErrToolLoopExceeded is returned when a turn keeps asking for tools past
	// the iteration bound.
	ErrToolLoopExceeded = errors.New("tool loop exceeded")
	// ErrAborted is returned when the turn was cancelled, usually because the
	// client went away.
	ErrAborted = errors.New("turn aborted")
)

// State is the agent's position in the turn state machine.
type State string

const (
	StateIdle           State = "idle"
	StateAwaitingModel  State = "awaiting_model"
	StateExecutingTools State = "executing_tools"
	StateTerminal       State = "terminal"
	StateAborted        State = "aborted"
)

// ToolRunner is the subset of the tool executor an Agent needs.
type ToolRunner interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, caller tools.Caller, call llm.ToolCall) tools.Result
}

// TurnStore persists what a turn produces.
type TurnStore interface {
	InsertMessageGroup(ctx context.Context, workflowID string, msgs []llm.Message) (*store.MessageGroup, error)
	SaveUsage(ctx context.Context, usage *store.TokenUsage) error
	LinkUsageToGroup(ctx context.Context, requestID, groupID string) error
}

// Config configures an Agent.
type Config struct {
	WorkflowID   string
	UserID       string
	ProviderID   string
	Model        string
	Instructions string

	Provider provider.Inference
	History  history.History
	Tools    ToolRunner // optional
	Store    TurnStore

	MaxIterations int
	MaxTokens     int
	Logger        *slog.Logger
}

// TurnResult summarizes a finished turn.
type TurnResult struct {
	GroupID      string
	Messages     []llm.Message
	FinishReason llm.FinishReason
	Iterations   int
	Usage        llm.Usage
	State        State
}

// Agent runs turns for one workflow. Turns are serialized.
type Agent struct {
	cfg    Config
	logger *slog.Logger

	turnMu sync.Mutex

	mu    sync.Mutex
	state State
}

// NewAgent creates an Agent.
func NewAgent(cfg Config) (*Agent, error) {
	if cfg.WorkflowID == "" {
		return nil, errors.New("agent: workflow id is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("agent: provider is required")
	}
	if cfg.History == nil {
		return nil, errors.New("agent: history is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("agent: store is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.ProviderID == "" {
		cfg.ProviderID = cfg.Provider.ID()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		cfg: cfg,
		logger: logger.With(
			"component", "agent",
			"workflow_id", cfg.WorkflowID,
			"provider", cfg.ProviderID,
			"model", cfg.Model,
		),
		state: StateIdle,
	}, nil
}

// State returns the current state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ProviderID returns the id of the provider the agent was built with.
func (a *Agent) ProviderID() string { return a.cfg.ProviderID }

// Model returns the model the agent sends requests for.
func (a *Agent) Model() string { return a.cfg.Model }

// History returns a snapshot of the agent's history.
func (a *Agent) History() []llm.Message { return a.cfg.History.Read() }

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// turn is the mutable state of one Run call.
type turn struct {
	requestID string
	emitter   Emitter
	msgs      []llm.Message
	usage     llm.Usage
	iteration int
}

// roundTrip is what one provider call produced.
type roundTrip struct {
	text   strings.Builder
	calls  []llm.ToolCall
	reason llm.FinishReason
	usage  llm.Usage
	final  bool // a stop chunk was received
}

// Run drives one user turn. Closing the emitter cancels the turn.
func (a *Agent) Run(ctx context.Context, emitter Emitter, text string) (*TurnResult, error) {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	if emitter == nil {
		emitter = Discard
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if done := emitter.Done(); done != nil {
		go func() {
			select {
			case <-done:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	t := &turn{requestID: uuid.New().String(), emitter: emitter}
	logger := a.logger.With("request_id", t.requestID)

	user := llm.UserMessage(text)
	a.record(t, logger, user)

	logger.Info("→ turn started", "content_length", len(text))

	var tooling []llm.ToolDefinition
	if a.cfg.Tools != nil {
		tooling = a.cfg.Tools.Definitions()
	}

	for t.iteration = 1; t.iteration <= a.cfg.MaxIterations; t.iteration++ {
		a.setState(StateAwaitingModel)

		req := &provider.Request{
			Model:     a.cfg.Model,
			System:    a.cfg.Instructions,
			Messages:  a.cfg.History.Read(),
			Tools:     tooling,
			Stream:    true,
			MaxTokens: a.cfg.MaxTokens,
		}
		rt, err := a.call(ctx, t, req)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrEmitterClosed) {
				cancel()
				return a.abort(ctx, t, rt, logger)
			}
			return a.fail(t, rt, err, logger)
		}

		switch rt.reason {
		case llm.FinishToolCalls:
			a.setState(StateExecutingTools)
			a.runTools(ctx, t, rt, logger)
			if ctx.Err() != nil {
				return a.abort(ctx, t, nil, logger)
			}
		default:
			return a.complete(t, rt, logger)
		}
	}

	t.iteration = a.cfg.MaxIterations
	logger.Warn("tool loop exceeded", "iteration", t.iteration)
	res := a.finish(t, llm.FinishToolCalls, StateTerminal, logger)
	a.send(t, failure(fmt.Sprintf("tool loop exceeded after %d round trips", a.cfg.MaxIterations), res.GroupID))
	return res, fmt.Errorf("%w: %d round trips", ErrToolLoopExceeded, a.cfg.MaxIterations)
}

// call performs one provider round trip, streaming text to the emitter and
// recording usage whatever the outcome. rt is non-nil whenever the stream was
// opened.
func (a *Agent) call(ctx context.Context, t *turn, req *provider.Request) (*roundTrip, error) {
	stream, err := a.cfg.Provider.Infer(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	rt := &roundTrip{}
	defer func() { a.recordUsage(t, req, rt) }()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rt, err
		}

		switch chunk.Type {
		case llm.ChunkText:
			if chunk.Text == "" {
				continue
			}
			rt.text.WriteString(chunk.Text)
			if err := a.emit(ctx, t, partialContent(chunk.Text)); err != nil {
				return rt, err
			}
		case llm.ChunkToolCall:
			if chunk.ToolCall != nil {
				rt.calls = append(rt.calls, *chunk.ToolCall)
			}
		case llm.ChunkStop:
			rt.reason = chunk.FinishReason
			rt.usage = chunk.Usage
			rt.final = true
		}
	}

	if !rt.final {
		rt.reason = llm.FinishStop
	}
	if rt.reason == llm.FinishToolCalls && len(rt.calls) == 0 {
		rt.reason = llm.FinishStop
	}
	if len(rt.calls) > 0 && rt.reason == llm.FinishStop {
		rt.reason = llm.FinishToolCalls
	}
	return rt, nil
}

// recordUsage saves a usage row for one round trip. Backends that end the
// stream without a stop chunk get an estimate.
func (a *Agent) recordUsage(t *turn, req *provider.Request, rt *roundTrip) {
	usage := rt.usage
	if !rt.final {
		usage.PromptTokens = llm.EstimateTokens(req.Messages) + llm.EstimateTokens([]llm.Message{{Content: req.System}})
		usage.CompletionTokens = llm.EstimateTokens([]llm.Message{{Content: rt.text.String(), ToolCalls: rt.calls}})
	}
	t.usage.PromptTokens += usage.PromptTokens
	t.usage.CompletionTokens += usage.CompletionTokens

	reason := rt.reason
	if reason == "" {
		reason = llm.FinishAborted
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	rec := &store.TokenUsage{
		WorkflowID:       a.cfg.WorkflowID,
		UserID:           a.cfg.UserID,
		RequestID:        t.requestID,
		ProviderID:       a.cfg.ProviderID,
		Model:            a.cfg.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		FinishReason:     reason,
	}
	if err := a.cfg.Store.SaveUsage(ctx, rec); err != nil {
		a.logger.Warn("failed to save token usage", "request_id", t.requestID, "error", err)
	}
}

// runTools records the assistant's tool calls and answers each of them.
func (a *Agent) runTools(ctx context.Context, t *turn, rt *roundTrip, logger *slog.Logger) {
	call := llm.AssistantMessage(rt.text.String(), llm.FinishToolCalls, rt.calls...)
	a.record(t, logger, call)

	caller := tools.Caller{WorkflowID: a.cfg.WorkflowID, UserID: a.cfg.UserID}
	for _, c := range rt.calls {
		_ = a.emit(ctx, t, toolCallStarted(c))

		var res tools.Result
		if a.cfg.Tools == nil {
			res = tools.Result{CallID: c.ID, Name: c.Name, Err: tools.ErrUnknownTool,
				Content: fmt.Sprintf("error: tool %q is not available", c.Name)}
		} else {
			res = a.cfg.Tools.Execute(ctx, caller, c)
		}
		logger.Debug("tool call answered",
			"tool", c.Name,
			"tool_call_id", c.ID,
			"iteration", t.iteration,
			"failed", res.Failed(),
		)

		msg := res.Message()
		a.record(t, logger, msg)
		_ = a.emit(ctx, t, toolResult(c.ID, c.Name, res.Content, res.Failed()))
	}
}

func (a *Agent) complete(t *turn, rt *roundTrip, logger *slog.Logger) (*TurnResult, error) {
	reply := llm.AssistantMessage(rt.text.String(), rt.reason)
	a.record(t, logger, reply)

	res := a.finish(t, rt.reason, StateTerminal, logger)
	a.send(t, completion(res.GroupID, reply.Content, rt.reason))
	logger.Info("turn completed",
		"finish_reason", rt.reason,
		"iteration", t.iteration,
		"group_id", res.GroupID,
	)
	return res, nil
}

func (a *Agent) fail(t *turn, rt *roundTrip, cause error, logger *slog.Logger) (*TurnResult, error) {
	if rt != nil && (rt.text.Len() > 0) {
		partial := llm.AssistantMessage(rt.text.String(), llm.FinishAborted)
		a.record(t, logger, partial)
	}
	logger.Error("provider call failed", "iteration", t.iteration, "error", cause)

	res := a.finish(t, llm.FinishAborted, StateTerminal, logger)
	a.send(t, failure("provider temporarily unavailable", res.GroupID))

	if !errors.Is(cause, provider.ErrUnavailable) {
		cause = fmt.Errorf("%w: %s: %w", provider.ErrUnavailable, a.cfg.ProviderID, cause)
	}
	return res, cause
}

// abort persists whatever the turn produced, tagging the partial assistant
// reply with an aborted (or timeout) finish reason.
func (a *Agent) abort(ctx context.Context, t *turn, rt *roundTrip, logger *slog.Logger) (*TurnResult, error) {
	reason := llm.FinishAborted
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = llm.FinishTimeout
	}
	var text string
	if rt != nil {
		text = rt.text.String()
	}
	partial := llm.AssistantMessage(text, reason)
	a.record(t, logger, partial)

	logger.Info("turn aborted", "iteration", t.iteration, "finish_reason", reason)
	res := a.finish(t, reason, StateAborted, logger)
	return res, fmt.Errorf("%w: %w", ErrAborted, context.Cause(ctx))
}

// finish writes the turn's MessageGroup and links its usage rows.
func (a *Agent) finish(t *turn, reason llm.FinishReason, state State, logger *slog.Logger) *TurnResult {
	a.setState(state)
	res := &TurnResult{
		Messages:     llm.CloneAll(t.msgs),
		FinishReason: reason,
		Iterations:   t.iteration,
		Usage:        t.usage,
		State:        state,
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	group, err := a.cfg.Store.InsertMessageGroup(ctx, a.cfg.WorkflowID, t.msgs)
	if err != nil {
		logger.Error("failed to persist message group", "error", err, "messages", len(t.msgs))
		return res
	}
	res.GroupID = group.ID
	if err := a.cfg.Store.LinkUsageToGroup(ctx, t.requestID, group.ID); err != nil {
		logger.Warn("failed to link usage to group", "group_id", group.ID, "error", err)
	}
	return res
}

// record appends m to the turn's group and to history. A message history
// rejects still stays in the group. An empty reply, left by a turn aborted
// before any output, is persisted but never sent back to the provider.
func (a *Agent) record(t *turn, logger *slog.Logger, m llm.Message) {
	m.Index = len(t.msgs)
	t.msgs = append(t.msgs, m)
	if m.IsEmptyReply() {
		return
	}
	if err := a.cfg.History.Add(m); err != nil {
		logger.Warn("history rejected message", "sender", m.Sender, "error", err)
	}
}

func (a *Agent) emit(ctx context.Context, t *turn, e Event) error {
	e.WorkflowID = a.cfg.WorkflowID
	e.Timestamp = time.Now().UTC()
	return t.emitter.Emit(ctx, e)
}

// send delivers a terminal event. The turn context may already be done, so a
// short fresh one is used.
func (a *Agent) send(t *turn, e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := a.emit(ctx, t, e); err != nil && !errors.Is(err, ErrEmitterClosed) {
		a.logger.Debug("failed to deliver event", "type", e.Type, "error", err)
	}
}

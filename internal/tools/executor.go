// ABOUTME: Runs tool calls at most once per id with a per-call timeout
// ABOUTME: Converts every failure into a result string the model can read

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/workflow-gateway/internal/dedupe"
	"github.com/2389/workflow-gateway/internal/llm"
)

// DefaultTimeout bounds a tool call when neither the executor nor the tool
// sets one.
const DefaultTimeout = 30 * time.Second

const instrumentation = "github.com/2389/workflow-gateway/internal/tools"

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Registry *Registry
	Ledger   *dedupe.Ledger
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Executor runs tool calls against a Registry.
type Executor struct {
	registry *Registry
	ledger   *dedupe.Ledger
	timeout  time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
	calls    metric.Int64Counter
}

// NewExecutor creates an Executor. A nil Ledger gets a private one with a
// 24 hour retention.
func NewExecutor(cfg ExecutorConfig) *Executor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = dedupe.New(24*time.Hour, 100_000)
	}
	calls, err := otel.Meter(instrumentation).Int64Counter("tools.executions",
		metric.WithDescription("Tool calls by outcome"))
	if err != nil {
		logger.Warn("failed to create tool counter", "error", err)
	}
	return &Executor{
		registry: cfg.Registry,
		ledger:   ledger,
		timeout:  timeout,
		logger:   logger.With("component", "tools.executor"),
		tracer:   otel.Tracer(instrumentation),
		calls:    calls,
	}
}

// Execute runs call on behalf of caller. The returned Result always carries
// content to feed back to the model.
func (e *Executor) Execute(ctx context.Context, caller Caller, call llm.ToolCall) Result {
	return e.execute(ctx, caller, call, nil)
}

// Registry returns the registry the executor resolves tools from.
func (e *Executor) Registry() *Registry { return e.registry }

// Remember claims call ids that already ran in an earlier process, so a
// resumed workflow cannot run them again.
func (e *Executor) Remember(workflowID string, callIDs ...string) {
	for _, id := range callIDs {
		if id != "" {
			e.ledger.Claim(workflowID, id)
		}
	}
}

// Forget releases the call ids claimed by a workflow.
func (e *Executor) Forget(workflowID string) {
	e.ledger.Forget(workflowID)
}

func (e *Executor) execute(ctx context.Context, caller Caller, call llm.ToolCall, allowed map[string]bool) Result {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "tools.execute", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
		attribute.String("workflow.id", caller.WorkflowID),
	))
	defer span.End()

	res := Result{CallID: call.ID, Name: call.Name}
	content, err := e.run(ctx, caller, call, allowed)
	res.Duration = time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if errors.Is(err, ErrDuplicateCall) {
			outcome = "duplicate"
		}
		res.Err = err
		res.Content = describe(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("tool call failed",
			"tool_name", call.Name,
			"call_id", call.ID,
			"workflow_id", caller.WorkflowID,
			"duration", res.Duration,
			"error", err,
		)
	} else {
		res.Content = content
		e.logger.Debug("tool call finished",
			"tool_name", call.Name,
			"call_id", call.ID,
			"workflow_id", caller.WorkflowID,
			"duration", res.Duration,
		)
	}
	if e.calls != nil {
		e.calls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("outcome", outcome),
		))
	}
	return res
}

func (e *Executor) run(ctx context.Context, caller Caller, call llm.ToolCall, allowed map[string]bool) (string, error) {
	fail := func(err error) error {
		return &ExecutionError{Tool: call.Name, CallID: call.ID, Err: err}
	}

	if call.ID == "" {
		return "", fail(fmt.Errorf("%w: empty call id", ErrInvalidArguments))
	}
	if !e.ledger.Claim(caller.WorkflowID, call.ID) {
		return "", fail(ErrDuplicateCall)
	}

	ent := e.registry.lookup(call.Name)
	if ent == nil || (allowed != nil && !allowed[call.Name]) {
		return "", fail(ErrUnknownTool)
	}

	payload := strings.TrimSpace(call.Arguments)
	if payload == "" {
		payload = "{}"
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(payload))
	if err != nil {
		return "", fail(fmt.Errorf("%w: %v", ErrInvalidArguments, err))
	}
	if err := ent.schema.Validate(doc); err != nil {
		return "", fail(fmt.Errorf("%w: %v", ErrInvalidArguments, err))
	}

	timeout := e.timeout
	if ent.tool.Timeout > 0 {
		timeout = ent.tool.Timeout
	}
	out, err := invoke(ctx, timeout, ent.tool.Handler, caller, json.RawMessage(payload))
	if err != nil {
		return "", fail(err)
	}
	return string(out), nil
}

type outcome struct {
	out json.RawMessage
	err error
}

// invoke runs h in its own goroutine so a handler that ignores its context
// still cannot hold the turn past the timeout.
func invoke(ctx context.Context, timeout time.Duration, h Handler, caller Caller, input json.RawMessage) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		out, err := h(ctx, caller, input)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		return o.out, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return nil, ctx.Err()
	}
}

// describe renders a failure as the tool result content.
func describe(err error) string {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return fmt.Sprintf("error: tool %q failed: %v", execErr.Tool, execErr.Err)
	}
	return "error: " + err.Error()
}

// Toolset restricts an Executor to a fixed set of tools. It is what an agent
// holds: the definitions it offers the model and the runner for the calls
// that come back.
type Toolset struct {
	exec    *Executor
	names   []string
	allowed map[string]bool
}

// Toolset returns a view of e limited to names. Names must already be
// registered; use Registry.Has to check first.
func (e *Executor) Toolset(names ...string) *Toolset {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	return &Toolset{exec: e, names: append([]string(nil), names...), allowed: allowed}
}

// Definitions returns the definitions offered to the model.
func (t *Toolset) Definitions() []llm.ToolDefinition {
	if len(t.names) == 0 {
		return nil
	}
	return t.exec.registry.Definitions(t.names...)
}

// Execute runs call if it names a tool in the set.
func (t *Toolset) Execute(ctx context.Context, caller Caller, call llm.ToolCall) Result {
	return t.exec.execute(ctx, caller, call, t.allowed)
}

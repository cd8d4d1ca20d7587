// ABOUTME: Inference middlewares: one-shot retry, token-bucket rate limiting, tracing
// ABOUTME: Wrappers keep the wrapped provider id so registry lookups are unaffected

package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/2389/workflow-gateway/internal/llm"
)

const instrumentationName = "github.com/2389/workflow-gateway/internal/provider"

// Middleware decorates an inference provider.
type Middleware func(Inference) Inference

// Wrap applies middlewares so that the first one listed is the outermost.
func Wrap(p Inference, mws ...Middleware) Inference {
	for i := len(mws) - 1; i >= 0; i-- {
		p = mws[i](p)
	}
	return p
}

// Retry retries once, immediately, when the stream cannot be opened.
// Opening a stream has no side effects on the backend, so the retry is safe.
// Errors after the stream is open are not retried. A second failure is
// reported as ErrUnavailable.
func Retry(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Inference) Inference {
		return &retrying{next: next, logger: logger.With("component", "provider-retry", "provider", next.ID())}
	}
}

type retrying struct {
	next   Inference
	logger *slog.Logger
}

func (r *retrying) ID() string { return r.next.ID() }

func (r *retrying) Infer(ctx context.Context, req *Request) (Stream, error) {
	s, err := r.next.Infer(ctx, req)
	if err == nil {
		return s, nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil, err
	}

	r.logger.Warn("inference call failed, retrying", "error", err, "model", req.Model)
	s, err = r.next.Infer(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, r.next.ID(), err)
	}
	return s, nil
}

// RateLimited blocks callers until the estimated token cost of the request
// fits a tokens-per-minute budget.
func RateLimited(tokensPerMinute float64) Middleware {
	return func(next Inference) Inference {
		if tokensPerMinute <= 0 {
			return next
		}
		burst := int(tokensPerMinute)
		return &limited{
			next:    next,
			limiter: rate.NewLimiter(rate.Limit(tokensPerMinute/60.0), burst),
			burst:   burst,
		}
	}
}

type limited struct {
	next    Inference
	limiter *rate.Limiter
	burst   int
}

func (l *limited) ID() string { return l.next.ID() }

func (l *limited) Infer(ctx context.Context, req *Request) (Stream, error) {
	cost := llm.EstimateTokens(req.Messages) + len(req.System)/4
	if cost < 1 {
		cost = 1
	}
	if cost > l.burst {
		cost = l.burst
	}
	if err := l.limiter.WaitN(ctx, cost); err != nil {
		return nil, fmt.Errorf("waiting for rate limit: %w", err)
	}
	return l.next.Infer(ctx, req)
}

// Traced opens a span per round trip and counts round trips by outcome.
// The span ends when the stream is drained or closed.
func Traced() Middleware {
	tracer := otel.Tracer(instrumentationName)
	meter := otel.Meter(instrumentationName)
	roundTrips, _ := meter.Int64Counter("provider.round_trips",
		metric.WithDescription("Inference round trips by provider and finish reason"))
	return func(next Inference) Inference {
		return &traced{next: next, tracer: tracer, roundTrips: roundTrips}
	}
}

type traced struct {
	next       Inference
	tracer     trace.Tracer
	roundTrips metric.Int64Counter
}

func (t *traced) ID() string { return t.next.ID() }

func (t *traced) Infer(ctx context.Context, req *Request) (Stream, error) {
	ctx, span := t.tracer.Start(ctx, "provider.infer", trace.WithAttributes(
		attribute.String("provider.id", t.next.ID()),
		attribute.String("provider.model", req.Model),
		attribute.Int("provider.messages", len(req.Messages)),
		attribute.Int("provider.tools", len(req.Tools)),
	))
	s, err := t.next.Infer(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		t.count(ctx, "error")
		return nil, err
	}
	return &tracedStream{Stream: s, span: span, owner: t, ctx: ctx}, nil
}

func (t *traced) count(ctx context.Context, outcome string) {
	if t.roundTrips == nil {
		return
	}
	t.roundTrips.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider.id", t.next.ID()),
		attribute.String("outcome", outcome),
	))
}

type tracedStream struct {
	Stream
	span  trace.Span
	owner *traced
	ctx   context.Context
	ended bool
}

func (s *tracedStream) Recv() (llm.Chunk, error) {
	c, err := s.Stream.Recv()
	switch {
	case err == nil && c.Type == llm.ChunkStop:
		s.span.SetAttributes(
			attribute.String("provider.finish_reason", string(c.FinishReason)),
			attribute.Int("provider.prompt_tokens", c.Usage.PromptTokens),
			attribute.Int("provider.completion_tokens", c.Usage.CompletionTokens),
		)
		s.finish(string(c.FinishReason))
	case errors.Is(err, io.EOF):
		s.finish("eof")
	case err != nil:
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
		s.finish("error")
	}
	return c, err
}

func (s *tracedStream) Close() error {
	s.finish("closed")
	return s.Stream.Close()
}

func (s *tracedStream) finish(outcome string) {
	if s.ended {
		return
	}
	s.ended = true
	s.owner.count(s.ctx, outcome)
	s.span.End()
}

// ABOUTME: Anthropic Messages backend with streaming text and tool_use blocks
// ABOUTME: Tool results are sent as user turns; consecutive same-role turns are merged

// Package anthropic implements an inference provider on the Anthropic
// Messages API via github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/2389/workflow-gateway/internal/llm"
	"github.com/2389/workflow-gateway/internal/provider"
)

// DefaultMaxTokens is the completion cap when a request sets none. The
// Messages API requires one.
const DefaultMaxTokens = 4096

// Config configures a Provider.
type Config struct {
	ID      string
	APIKey  string
	BaseURL string
	Model   string
	Logger  *slog.Logger
}

// Provider streams Claude responses.
type Provider struct {
	id     string
	client sdk.Client
	model  string
	logger *slog.Logger
}

// New creates a Provider. SDK-level retries are disabled; provider.Retry
// owns that policy.
func New(cfg Config) (*Provider, error) {
	if cfg.ID == "" {
		return nil, errors.New("anthropic provider: id is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic provider %q: api key is required", cfg.ID)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		id:     cfg.ID,
		client: sdk.NewClient(opts...),
		model:  cfg.Model,
		logger: logger.With("component", "anthropic", "provider", cfg.ID),
	}, nil
}

// ID implements provider.Provider.
func (p *Provider) ID() string { return p.id }

// Infer opens a streaming Messages request. The first event is read before
// returning so that HTTP errors surface here.
func (p *Provider) Infer(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	stream := p.client.Messages.NewStreaming(sctx, params)
	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		cancel()
		if err == nil {
			err = errors.New("stream ended before the first event")
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("anthropic messages stream: %w", err)
	}

	p.logger.Debug("→ messages stream opened", "model", params.Model, "messages", len(params.Messages))
	return provider.NewChannelStream(ctx, func(ctx context.Context, emit provider.Emit) error {
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		defer cancel()
		defer stream.Close()
		return consume(ctx, stream, emit)
	}), nil
}

type eventSource interface {
	Next() bool
	Current() sdk.MessageStreamEventUnion
	Err() error
}

var _ eventSource = (*ssestream.Stream[sdk.MessageStreamEventUnion])(nil)

type toolBuffer struct {
	id        string
	name      string
	fragments strings.Builder
}

func (tb *toolBuffer) call() llm.ToolCall {
	args := strings.TrimSpace(tb.fragments.String())
	if args == "" {
		args = "{}"
	}
	return llm.ToolCall{ID: tb.id, Name: tb.name, Arguments: args}
}

// consume translates Messages stream events into llm chunks. The current
// event of src is unread when consume starts.
func consume(ctx context.Context, src eventSource, emit provider.Emit) error {
	var (
		blocks = make(map[int64]*toolBuffer)
		usage  llm.Usage
		stop   sdk.StopReason
		calls  int
	)
	for {
		switch ev := src.Current().AsAny().(type) {
		case sdk.MessageStartEvent:
			usage.PromptTokens = int(ev.Message.Usage.InputTokens)
		case sdk.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				blocks[ev.Index] = &toolBuffer{id: tu.ID, name: tu.Name}
			}
		case sdk.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if d.Text != "" {
					if err := emit(llm.TextChunk(d.Text)); err != nil {
						return err
					}
				}
			case sdk.InputJSONDelta:
				if tb := blocks[ev.Index]; tb != nil {
					tb.fragments.WriteString(d.PartialJSON)
				}
			}
		case sdk.ContentBlockStopEvent:
			if tb := blocks[ev.Index]; tb != nil {
				delete(blocks, ev.Index)
				if err := emit(llm.ToolCallChunk(tb.call())); err != nil {
					return err
				}
				calls++
			}
		case sdk.MessageDeltaEvent:
			stop = ev.Delta.StopReason
			if ev.Usage.InputTokens > 0 {
				usage.PromptTokens = int(ev.Usage.InputTokens)
			}
			usage.CompletionTokens = int(ev.Usage.OutputTokens)
		}

		if !src.Next() {
			break
		}
	}
	if err := src.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("anthropic stream: %w", err)
	}

	reason := finishReason(stop)
	if calls > 0 {
		reason = llm.FinishToolCalls
	}
	return emit(llm.StopChunk(reason, usage))
}

func finishReason(r sdk.StopReason) llm.FinishReason {
	switch r {
	case sdk.StopReasonMaxTokens:
		return llm.FinishLength
	case sdk.StopReasonToolUse:
		return llm.FinishToolCalls
	default:
		return llm.FinishStop
	}
}

func (p *Provider) params(req *provider.Request) (sdk.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	if model == "" {
		return sdk.MessageNewParams{}, fmt.Errorf("anthropic provider %q: no model configured", p.id)
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	for _, def := range req.Tools {
		u := sdk.ToolUnionParamOfTool(inputSchema(def.Parameters), def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		params.Tools = append(params.Tools, u)
	}
	return params, nil
}

// inputSchema splits a JSON schema object into the typed fields the SDK
// knows and passes the rest through.
func inputSchema(schema map[string]any) sdk.ToolInputSchemaParam {
	var out sdk.ToolInputSchemaParam
	for k, v := range schema {
		switch k {
		case "type":
		case "properties":
			out.Properties = v
		case "required":
			if list, ok := v.([]any); ok {
				for _, r := range list {
					if s, ok := r.(string); ok {
						out.Required = append(out.Required, s)
					}
				}
			}
		default:
			if out.ExtraFields == nil {
				out.ExtraFields = make(map[string]any)
			}
			out.ExtraFields[k] = v
		}
	}
	return out
}

// encodeMessages maps History onto Messages turns. Tool results travel as
// user turns, and adjacent turns with the same role are merged because the
// API requires alternation.
func encodeMessages(msgs []llm.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	var (
		lastRole string
		blocks   []sdk.ContentBlockParamUnion
	)
	flush := func() {
		if len(blocks) == 0 {
			return
		}
		if lastRole == "assistant" {
			out = append(out, sdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, sdk.NewUserMessage(blocks...))
		}
		blocks = nil
	}

	for _, m := range msgs {
		var role string
		var mb []sdk.ContentBlockParamUnion
		switch m.Sender {
		case llm.SenderUser:
			role = "user"
			if m.Content != "" {
				mb = append(mb, sdk.NewTextBlock(m.Content))
			}
		case llm.SenderTool:
			role = "user"
			mb = append(mb, sdk.NewToolResultBlock(m.ToolCallID, m.Content, strings.HasPrefix(m.Content, "error:")))
		case llm.SenderAssistant:
			role = "assistant"
			if m.Content != "" {
				mb = append(mb, sdk.NewTextBlock(m.Content))
			}
			for _, c := range m.ToolCalls {
				mb = append(mb, sdk.NewToolUseBlock(c.ID, toolInput(c.Arguments), c.Name))
			}
		default:
			return nil, fmt.Errorf("anthropic: unknown sender %q", m.Sender)
		}
		if len(mb) == 0 {
			continue
		}
		if role != lastRole {
			flush()
			lastRole = role
		}
		blocks = append(blocks, mb...)
	}
	flush()

	if len(out) == 0 {
		return nil, errors.New("anthropic: at least one message is required")
	}
	return out, nil
}

func toolInput(args string) any {
	if strings.TrimSpace(args) == "" {
		return map[string]any{}
	}
	if !json.Valid([]byte(args)) {
		return map[string]any{"raw": args}
	}
	return json.RawMessage(args)
}

var _ provider.Inference = (*Provider)(nil)

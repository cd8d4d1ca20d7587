// ABOUTME: OpenAI-compatible backend: streaming chat completions and embeddings
// ABOUTME: Tool call fragments are assembled by index and emitted before the stop chunk

// Package openai implements inference and embedding providers on the OpenAI
// Chat Completions and Embeddings APIs via github.com/openai/openai-go. Any
// server speaking the same protocol works by setting BaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/2389/workflow-gateway/internal/llm"
	"github.com/2389/workflow-gateway/internal/provider"
)

// DefaultEmbeddingModel is used when Config.EmbeddingModel is empty.
const DefaultEmbeddingModel = sdk.EmbeddingModelTextEmbedding3Small

// Config configures a Provider.
type Config struct {
	ID             string
	APIKey         string
	BaseURL        string
	Model          string // default chat model when a request names none
	EmbeddingModel string
	Dimensions     int
	Logger         *slog.Logger
}

// Provider talks to an OpenAI-compatible API. It implements both
// provider.Inference and provider.Embedder.
type Provider struct {
	id             string
	client         sdk.Client
	model          string
	embeddingModel string
	dimensions     int
	logger         *slog.Logger
}

// New creates a Provider. SDK-level retries are disabled; provider.Retry
// owns that policy.
func New(cfg Config) (*Provider, error) {
	if cfg.ID == "" {
		return nil, errors.New("openai provider: id is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai provider %q: api key is required", cfg.ID)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		id:             cfg.ID,
		client:         sdk.NewClient(opts...),
		model:          cfg.Model,
		embeddingModel: embeddingModel,
		dimensions:     cfg.Dimensions,
		logger:         logger.With("component", "openai", "provider", cfg.ID),
	}, nil
}

// ID implements provider.Provider.
func (p *Provider) ID() string { return p.id }

// Infer opens a streaming chat completion. The first event is read before
// returning so that connection and HTTP errors surface here, where
// provider.Retry can act on them.
func (p *Provider) Infer(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	stream := p.client.Chat.Completions.NewStreaming(sctx, params)
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
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}

	p.logger.Debug("→ chat completion stream opened", "model", params.Model, "messages", len(params.Messages))
	return provider.NewChannelStream(ctx, func(ctx context.Context, emit provider.Emit) error {
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		defer cancel()
		defer stream.Close()
		return consume(ctx, stream, emit)
	}), nil
}

// chunkSource is the part of ssestream.Stream that consume reads. Next has
// already returned true for the current event when consume starts.
type chunkSource interface {
	Next() bool
	Current() sdk.ChatCompletionChunk
	Err() error
}

var _ chunkSource = (*ssestream.Stream[sdk.ChatCompletionChunk])(nil)

// consume translates completion chunks into llm chunks.
func consume(ctx context.Context, src chunkSource, emit provider.Emit) error {
	var (
		calls  = newCallAssembler()
		reason llm.FinishReason
		usage  llm.Usage
	)
	for {
		chunk := src.Current()
		if chunk.Usage.TotalTokens > 0 {
			usage = llm.Usage{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
			}
		}
		for _, choice := range chunk.Choices {
			if choice.Index != 0 {
				continue
			}
			if text := choice.Delta.Content; text != "" {
				if err := emit(llm.TextChunk(text)); err != nil {
					return err
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				calls.add(tc)
			}
			if choice.FinishReason != "" {
				reason = finishReason(choice.FinishReason)
			}
		}

		if !src.Next() {
			break
		}
	}
	if err := src.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("openai stream: %w", err)
	}

	assembled := calls.done()
	for _, c := range assembled {
		if err := emit(llm.ToolCallChunk(c)); err != nil {
			return err
		}
	}
	if reason == "" {
		reason = llm.FinishStop
	}
	if len(assembled) > 0 {
		reason = llm.FinishToolCalls
	}
	return emit(llm.StopChunk(reason, usage))
}

func finishReason(r string) llm.FinishReason {
	switch r {
	case "length":
		return llm.FinishLength
	case "tool_calls", "function_call":
		return llm.FinishToolCalls
	default:
		return llm.FinishStop
	}
}

// callAssembler joins streamed tool call fragments. The first fragment of a
// call carries its id and name; later fragments append to the arguments.
type callAssembler struct {
	byIndex map[int64]*llm.ToolCall
}

func newCallAssembler() *callAssembler {
	return &callAssembler{byIndex: make(map[int64]*llm.ToolCall)}
}

func (a *callAssembler) add(d sdk.ChatCompletionChunkChoiceDeltaToolCall) {
	c, ok := a.byIndex[d.Index]
	if !ok {
		c = &llm.ToolCall{}
		a.byIndex[d.Index] = c
	}
	if d.ID != "" {
		c.ID = d.ID
	}
	if d.Function.Name != "" {
		c.Name = d.Function.Name
	}
	c.Arguments += d.Function.Arguments
}

func (a *callAssembler) done() []llm.ToolCall {
	idx := make([]int64, 0, len(a.byIndex))
	for i := range a.byIndex {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })

	out := make([]llm.ToolCall, 0, len(idx))
	for _, i := range idx {
		c := *a.byIndex[i]
		if c.Name == "" {
			continue
		}
		if c.Arguments == "" {
			c.Arguments = "{}"
		}
		out = append(out, c)
	}
	return out
}

// params translates a provider request into chat completion parameters.
func (p *Provider) params(req *provider.Request) (sdk.ChatCompletionNewParams, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	if model == "" {
		return sdk.ChatCompletionNewParams{}, fmt.Errorf("openai provider %q: no model configured", p.id)
	}

	msgs := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, sdk.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Sender {
		case llm.SenderUser:
			msgs = append(msgs, sdk.UserMessage(m.Content))
		case llm.SenderTool:
			msgs = append(msgs, sdk.ToolMessage(m.Content, m.ToolCallID))
		case llm.SenderAssistant:
			if m.IsEmptyReply() {
				continue
			}
			msgs = append(msgs, assistantMessage(m))
		default:
			return sdk.ChatCompletionNewParams{}, fmt.Errorf("openai provider %q: unknown sender %q", p.id, m.Sender)
		}
	}

	params := sdk.ChatCompletionNewParams{
		Model:    model,
		Messages: msgs,
		StreamOptions: sdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: sdk.Bool(true),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(req.MaxTokens))
	}
	for _, def := range req.Tools {
		fn := sdk.FunctionDefinitionParam{
			Name:       def.Name,
			Parameters: sdk.FunctionParameters(def.Parameters),
		}
		if def.Description != "" {
			fn.Description = sdk.String(def.Description)
		}
		params.Tools = append(params.Tools, sdk.ChatCompletionToolParam{Function: fn})
	}
	return params, nil
}

func assistantMessage(m llm.Message) sdk.ChatCompletionMessageParamUnion {
	a := &sdk.ChatCompletionAssistantMessageParam{}
	if m.Content != "" {
		a.Content.OfString = sdk.String(m.Content)
	}
	for _, c := range m.ToolCalls {
		a.ToolCalls = append(a.ToolCalls, sdk.ChatCompletionMessageToolCallParam{
			ID: c.ID,
			Function: sdk.ChatCompletionMessageToolCallFunctionParam{
				Name:      c.Name,
				Arguments: c.Arguments,
			},
		})
	}
	return sdk.ChatCompletionMessageParamUnion{OfAssistant: a}
}

// Embed implements provider.Embedder.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := sdk.EmbeddingNewParams{
		Model: p.embeddingModel,
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if p.dimensions > 0 {
		params.Dimensions = sdk.Int(int64(p.dimensions))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai embeddings: vector index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

var (
	_ provider.Inference = (*Provider)(nil)
	_ provider.Embedder  = (*Provider)(nil)
)

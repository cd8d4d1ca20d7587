// ABOUTME: Offline inference backend that echoes the latest user message
// ABOUTME: Used for local development and smoke tests without API keys

// Package echo implements an inference provider that answers every turn by
// repeating the latest user message. It never calls tools.
package echo

import (
	"context"
	"strings"

	"github.com/2389/workflow-gateway/internal/history"
	"github.com/2389/workflow-gateway/internal/llm"
	"github.com/2389/workflow-gateway/internal/provider"
)

// Provider echoes user input back as the assistant reply.
type Provider struct {
	id     string
	prefix string
}

// New creates an echo provider. prefix is prepended to every reply.
func New(id, prefix string) *Provider {
	return &Provider{id: id, prefix: prefix}
}

// ID implements provider.Provider.
func (p *Provider) ID() string { return p.id }

// Infer streams the reply word by word.
func (p *Provider) Infer(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Sender == llm.SenderUser {
			last = req.Messages[i].Content
			break
		}
	}
	reply := p.prefix + last
	counter := history.WordCounter{}

	prompt := 0
	for _, m := range req.Messages {
		prompt += counter.Count(m.Content)
	}
	usage := llm.Usage{PromptTokens: prompt + counter.Count(req.System), CompletionTokens: counter.Count(reply)}

	return provider.NewChannelStream(ctx, func(ctx context.Context, emit provider.Emit) error {
		for _, w := range strings.SplitAfter(reply, " ") {
			if w == "" {
				continue
			}
			if err := emit(llm.TextChunk(w)); err != nil {
				return err
			}
		}
		return emit(llm.StopChunk(llm.FinishStop, usage))
	}), nil
}

var _ provider.Inference = (*Provider)(nil)

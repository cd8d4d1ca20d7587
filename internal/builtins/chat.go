// ABOUTME: Chat pack: current time and knowledge base search
// ABOUTME: search_knowledge reports an unconfigured knowledge base as a normal result

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/workflow-gateway/internal/knowledge"
	"github.com/2389/workflow-gateway/internal/tools"
)

// ChatPack creates the chat pack. kb may be nil, in which case
// search_knowledge always reports that no knowledge base is configured.
func ChatPack(kb Searcher) *tools.Pack {
	c := &chatHandlers{kb: kb, now: time.Now}
	return &tools.Pack{
		ID: "builtin:chat",
		Tools: []*tools.Tool{
			tool("current_time", "Get the current date and time",
				`{"type":"object","properties":{"timezone":{"type":"string","description":"IANA zone such as Europe/Oslo; defaults to UTC"}}}`,
				c.CurrentTime),
			tool("search_knowledge", "Search the knowledge base for relevant documents",
				`{"type":"object","properties":{"query":{"type":"string","minLength":1},"limit":{"type":"integer","minimum":1,"maximum":20}},"required":["query"]}`,
				c.SearchKnowledge),
		},
	}
}

type chatHandlers struct {
	kb  Searcher
	now func() time.Time
}

type currentTimeInput struct {
	Timezone string `json:"timezone"`
}

func (c *chatHandlers) CurrentTime(_ context.Context, _ tools.Caller, input json.RawMessage) (json.RawMessage, error) {
	var in currentTimeInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	loc := time.UTC
	if in.Timezone != "" {
		l, err := time.LoadLocation(in.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", in.Timezone)
		}
		loc = l
	}
	now := c.now().In(loc)
	return json.Marshal(map[string]string{
		"time":     now.Format(time.RFC3339),
		"weekday":  now.Weekday().String(),
		"timezone": loc.String(),
	})
}

type searchKnowledgeInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type knowledgeHit struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

func (c *chatHandlers) SearchKnowledge(ctx context.Context, _ tools.Caller, input json.RawMessage) (json.RawMessage, error) {
	var in searchKnowledgeInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	if c.kb == nil {
		return json.Marshal(map[string]any{"results": []knowledgeHit{}, "note": "knowledge base is not configured"})
	}

	matches, err := c.kb.Search(ctx, in.Query, in.Limit)
	if errors.Is(err, knowledge.ErrNotConfigured) {
		return json.Marshal(map[string]any{"results": []knowledgeHit{}, "note": "knowledge base is not configured"})
	}
	if err != nil {
		return nil, err
	}

	hits := make([]knowledgeHit, len(matches))
	for i, m := range matches {
		hits[i] = knowledgeHit{ID: m.ID, Text: m.Text, Score: m.Score}
	}
	return json.Marshal(map[string]any{"results": hits, "count": len(hits)})
}

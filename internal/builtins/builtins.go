// ABOUTME: Registration of every built-in tool pack
// ABOUTME: Shared input decoding and schema helpers for pack definitions

package builtins

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2389/workflow-gateway/internal/llm"
	"github.com/2389/workflow-gateway/internal/provider"
	"github.com/2389/workflow-gateway/internal/store"
	"github.com/2389/workflow-gateway/internal/tools"
)

// Store is the persistence the built-in packs need.
type Store interface {
	store.IssueStore
	store.BookingStore
}

// Searcher answers knowledge queries.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]provider.Match, error)
}

// RegisterAll registers every built-in pack.
func RegisterAll(r *tools.Registry, s Store, kb Searcher) error {
	for _, p := range []*tools.Pack{ChatPack(kb), TravelPack(s), IssuesPack(s)} {
		if err := r.RegisterPack(p); err != nil {
			return fmt.Errorf("registering %s: %w", p.ID, err)
		}
	}
	return nil
}

// schema decodes an inline JSON schema. Definitions are package constants,
// so a malformed one is a programming error.
func schema(src string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(src), &m); err != nil {
		panic(fmt.Sprintf("builtins: invalid schema %s: %v", src, err))
	}
	return m
}

func tool(name, description, params string, h tools.Handler) *tools.Tool {
	return &tools.Tool{
		Definition: llm.ToolDefinition{Name: name, Description: description, Parameters: schema(params)},
		Handler:    h,
	}
}

func decode(input json.RawMessage, v any) error {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

// ABOUTME: Thread-safe registry of tool packs with schema compilation
// ABOUTME: Rejects name collisions and exposes sorted definitions for providers

package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/2389/workflow-gateway/internal/llm"
)

type entry struct {
	tool   *Tool
	packID string
	schema *jsonschema.Schema
}

// Registry holds registered packs and their tools.
type Registry struct {
	mu     sync.RWMutex
	packs  map[string][]string // pack id -> tool names
	tools  map[string]*entry
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		packs:  make(map[string][]string),
		tools:  make(map[string]*entry),
		logger: logger.With("component", "tools"),
	}
}

// RegisterPack validates and stores every tool in pack. Nothing is
// registered if any tool collides or has an invalid schema.
func (r *Registry) RegisterPack(pack *Pack) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.packs[pack.ID]; exists {
		return fmt.Errorf("%w: %s", ErrPackAlreadyRegistered, pack.ID)
	}

	compiled := make(map[string]*entry, len(pack.Tools))
	for _, t := range pack.Tools {
		name := t.Definition.Name
		if existing, exists := r.tools[name]; exists {
			return fmt.Errorf("%w: tool '%s' already registered by pack '%s'", ErrToolCollision, name, existing.packID)
		}
		if _, dup := compiled[name]; dup {
			return fmt.Errorf("%w: tool '%s' listed twice in pack '%s'", ErrToolCollision, name, pack.ID)
		}
		sch, err := compileSchema(name, t.Definition.Parameters)
		if err != nil {
			return err
		}
		compiled[name] = &entry{tool: t, packID: pack.ID, schema: sch}
	}

	names := make([]string, 0, len(compiled))
	for name, e := range compiled {
		r.tools[name] = e
		names = append(names, name)
	}
	sort.Strings(names)
	r.packs[pack.ID] = names

	r.logger.Info("tool pack registered", "pack_id", pack.ID, "tools", len(names))
	return nil
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, name, err)
	}
	url := "tool://" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, name, err)
	}
	return sch, nil
}

// Get returns the named tool or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.tools[name]; ok {
		return e.tool
	}
	return nil
}

func (r *Registry) lookup(name string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether every name is registered. It returns the first
// missing name.
func (r *Registry) Has(names ...string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range names {
		if _, ok := r.tools[n]; !ok {
			return n, false
		}
	}
	return "", true
}

// Definitions returns the definitions of the named tools sorted by name.
// With no names it returns every registered tool. Unknown names are skipped.
func (r *Registry) Definitions(names ...string) []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		for n := range r.tools {
			names = append(names, n)
		}
	}
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, n := range names {
		if e, ok := r.tools[n]; ok {
			defs = append(defs, e.tool.Definition)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// PackTools returns the sorted tool names of a pack.
func (r *Registry) PackTools(packID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.packs[packID]...)
}

// ABOUTME: Workflow type definitions: instructions and tool lists per type
// ABOUTME: Built-in chat, travel, and issues types plus TOML overrides

package workflow

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Definition describes one workflow type.
type Definition struct {
	Name         string   `toml:"name"`
	Description  string   `toml:"description"`
	Instructions string   `toml:"instructions"`
	Tools        []string `toml:"tools"`
}

// Builtin returns the definitions shipped with the gateway.
func Builtin() []Definition {
	return []Definition{
		{
			Name:         "chat",
			Description:  "General assistant with access to the knowledge base",
			Instructions: "You are a helpful assistant. Use search_knowledge when the user asks about company documents, and current_time when the answer depends on the date.",
			Tools:        []string{"current_time", "search_knowledge"},
		},
		{
			Name:         "travel",
			Description:  "Flight search and booking",
			Instructions: "You are a travel agent. Search flights before booking, confirm the flight number with the user, and only cancel bookings the user names.",
			Tools:        []string{"current_time", "search_flights", "book_flight", "list_bookings", "cancel_booking"},
		},
		{
			Name:         "issues",
			Description:  "Issue tracker assistant",
			Instructions: "You track issues for the user. Create issues with a short title and a clear description. Check existing issues before creating duplicates.",
			Tools:        []string{"create_issue", "list_issues", "update_issue_status"},
		},
	}
}

// Catalog holds definitions by name.
type Catalog struct {
	defs map[string]Definition
}

// NewCatalog creates a catalog from defs. Later entries replace earlier
// ones with the same name.
func NewCatalog(defs ...Definition) *Catalog {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	c.Merge(defs...)
	return c
}

// Merge adds or replaces definitions.
func (c *Catalog) Merge(defs ...Definition) {
	for _, d := range defs {
		c.defs[d.Name] = d
	}
}

// Get returns the definition named name.
func (c *Catalog) Get(name string) (Definition, bool) {
	d, ok := c.defs[name]
	return d, ok
}

// Names returns the sorted type names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.defs))
	for n := range c.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns every definition sorted by name.
func (c *Catalog) All() []Definition {
	out := make([]Definition, 0, len(c.defs))
	for _, n := range c.Names() {
		out = append(out, c.defs[n])
	}
	return out
}

type definitionsFile struct {
	Workflows []Definition `toml:"workflow"`
}

// LoadDefinitions reads definitions from a TOML file.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow definitions: %w", err)
	}
	return ParseDefinitions(string(data))
}

// ParseDefinitions parses TOML workflow definitions.
func ParseDefinitions(data string) ([]Definition, error) {
	var f definitionsFile
	md, err := toml.Decode(data, &f)
	if err != nil {
		return nil, fmt.Errorf("parsing workflow definitions: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing workflow definitions: unknown keys %v", undecoded)
	}

	seen := make(map[string]bool, len(f.Workflows))
	for i, d := range f.Workflows {
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			return nil, fmt.Errorf("workflow definition %d: name is required", i)
		}
		if strings.ContainsAny(d.Name, ". ") {
			return nil, fmt.Errorf("workflow definition %q: name must not contain dots or spaces", d.Name)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("workflow definition %q: defined twice", d.Name)
		}
		seen[d.Name] = true
		f.Workflows[i] = d
	}
	return f.Workflows, nil
}

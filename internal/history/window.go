// ABOUTME: Bounded, pair-aware message window with token and count strategies
// ABOUTME: Tool calls and their results are grouped into units and evicted together

package history

import (
	"errors"
	"sync"

	"github.com/2389/workflow-gateway/internal/llm"
)

// ErrOrphanResult is returned by Add when a tool result answers a call that
// is not in the window. The message is dropped.
var ErrOrphanResult = errors.New("tool result has no matching call in history")

// ErrEmptyReply is returned by Add for an assistant message with neither
// text nor tool calls. The message is dropped.
var ErrEmptyReply = errors.New("assistant message has no content")

// History is the contract shared by both window strategies.
type History interface {
	// Add appends m and then evicts from the oldest end until the window
	// fits its bound again.
	Add(m llm.Message) error
	// Read returns an ordered copy of the window.
	Read() []llm.Message
	// Len returns the number of messages currently held.
	Len() int
}

// unit is the eviction granule: a single message, or an assistant message
// with tool calls followed by the results that answer them.
type unit struct {
	msgs   []llm.Message
	calls  map[string]bool
	weight int
}

// Window implements History. Use NewTokenWindow or NewCountWindow.
type Window struct {
	mu     sync.RWMutex
	units  []*unit
	total  int
	count  int
	limit  int
	weigh  func(llm.Message) int
	bounds string
}

var _ History = (*Window)(nil)

// NewTokenWindow bounds the window to maxTokens as counted by tok.
// A non-positive maxTokens disables the bound.
func NewTokenWindow(maxTokens int, tok Tokenizer) *Window {
	if tok == nil {
		tok = WordCounter{}
	}
	return &Window{
		limit:  maxTokens,
		bounds: "tokens",
		weigh: func(m llm.Message) int {
			n := tok.Count(m.Content)
			for _, c := range m.ToolCalls {
				n += tok.Count(c.Name) + tok.Count(c.Arguments)
			}
			return n
		},
	}
}

// NewCountWindow bounds the window to maxMessages messages.
// A non-positive maxMessages disables the bound.
func NewCountWindow(maxMessages int) *Window {
	return &Window{
		limit:  maxMessages,
		bounds: "messages",
		weigh:  func(llm.Message) int { return 1 },
	}
}

// Add implements History.
func (w *Window) Add(m llm.Message) error {
	if m.IsEmptyReply() {
		return ErrEmptyReply
	}
	m = m.Clone()
	weight := w.weigh(m)

	w.mu.Lock()
	defer w.mu.Unlock()

	if m.Sender == llm.SenderTool {
		u := w.owner(m.ToolCallID)
		if u == nil {
			return ErrOrphanResult
		}
		u.msgs = append(u.msgs, m)
		u.weight += weight
	} else {
		u := &unit{msgs: []llm.Message{m}, weight: weight}
		if m.HasToolCalls() {
			u.calls = make(map[string]bool, len(m.ToolCalls))
			for _, c := range m.ToolCalls {
				u.calls[c.ID] = true
			}
		}
		w.units = append(w.units, u)
	}
	w.total += weight
	w.count++

	w.evict()
	return nil
}

// owner finds the unit holding the call answered by callID, newest first.
func (w *Window) owner(callID string) *unit {
	if callID == "" {
		return nil
	}
	for i := len(w.units) - 1; i >= 0; i-- {
		if w.units[i].calls[callID] {
			return w.units[i]
		}
	}
	return nil
}

// evict drops whole units from the front while over the bound. Two units
// are never evicted: the newest one, and the one holding the latest user
// message. Together they may exceed the bound. Once anything was evicted,
// leftover assistant and tool units of an older turn are dropped too, so the
// window opens with a user message whenever it holds one.
func (w *Window) evict() {
	if w.limit <= 0 {
		return
	}
	pinned := w.latestUser()
	evicted := false
	for w.total > w.limit {
		i := 0
		if i == pinned {
			i++
		}
		if i >= len(w.units)-1 {
			break
		}
		w.removeAt(i)
		evicted = true
		if i < pinned {
			pinned--
		}
	}
	for evicted && pinned > 0 && w.units[0].msgs[0].Sender != llm.SenderUser {
		w.removeAt(0)
		pinned--
	}
}

func (w *Window) removeAt(i int) {
	u := w.units[i]
	last := len(w.units) - 1
	copy(w.units[i:], w.units[i+1:])
	w.units[last] = nil
	w.units = w.units[:last]
	w.total -= u.weight
	w.count -= len(u.msgs)
}

// latestUser returns the index of the newest unit opened by a user message,
// or -1.
func (w *Window) latestUser() int {
	for i := len(w.units) - 1; i >= 0; i-- {
		if w.units[i].msgs[0].Sender == llm.SenderUser {
			return i
		}
	}
	return -1
}

// Read implements History.
func (w *Window) Read() []llm.Message {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]llm.Message, 0, w.count)
	for _, u := range w.units {
		for _, m := range u.msgs {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Len implements History.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.count
}

// Weight returns the bounded quantity currently held: tokens for a token
// window, messages for a count window.
func (w *Window) Weight() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.total
}

// Limit returns the configured bound.
func (w *Window) Limit() int { return w.limit }

// Bounds names the bounded quantity, "tokens" or "messages".
func (w *Window) Bounds() string { return w.bounds }

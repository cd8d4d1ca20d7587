// Package history holds the ordered message window that an agent submits to
// an inference provider on every round trip.
//
// Two strategies are provided. TokenWindow bounds the window by the number of
// tokens a Tokenizer counts; CountWindow bounds it by the number of messages.
// Both evict from the oldest end and never separate an assistant message that
// requests tool calls from the tool results answering it: the call and its
// results are evicted together as one unit.
//
// The latest user message is pinned: eviction removes older turns first,
// then the oldest tool round trips of the current turn, so every snapshot
// starts with the question being answered. The pinned message and the newest
// unit are always kept, which is the only way a window exceeds its bound.
//
// Assistant messages with neither text nor tool calls are rejected with
// ErrEmptyReply; providers refuse them.
//
// Read always returns a copy. Reading never changes the window.
package history

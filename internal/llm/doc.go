// Package llm defines the provider-neutral conversation types shared by the
// history, provider, tools and conversation packages.
//
// # Messages
//
// A Message is one entry of a conversation: a user prompt, an assistant reply
// (optionally requesting tool calls), or a tool result answering one of those
// calls. Messages are immutable once persisted; the Index field records their
// position inside the MessageGroup that produced them.
//
// # Streaming
//
// Inference providers stream Chunks. A stream carries any number of text and
// tool-call chunks followed by exactly one stop chunk holding the FinishReason
// and the token Usage of the round trip.
package llm

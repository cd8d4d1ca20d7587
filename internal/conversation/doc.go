// Package conversation runs user turns against an inference provider and
// streams what happens to an Emitter.
//
// # Overview
//
// An Agent owns one workflow's History and drives each user turn through a
// bounded state machine:
//
//	AwaitingModel -> ExecutingTools -> AwaitingModel -> ... -> Terminal
//	                                                      \-> Aborted
//
// Every provider round trip streams partial content to the Emitter and
// records a TokenUsage row, whatever the outcome. A round trip ending in
// tool calls runs each call through the tool executor, appends the call and
// its results to History, and asks the model again. A turn that has not
// reached a terminal finish reason after MaxIterations round trips fails
// with ErrToolLoopExceeded.
//
// # Persistence
//
// Every message of a turn, from the user input to the final reply, is
// collected and written as one MessageGroup when the turn ends, whether it
// completed, hit the loop bound, lost its provider, or was aborted. Writes use
// their own short timeout so a cancelled turn can still record what it
// produced.
//
// # Events
//
// The Emitter receives, in production order:
//
//   - partial_content: a text delta from the model
//   - tool_call_started: the model asked for a tool
//   - tool_result: the tool's output (or failure description)
//   - completion: the turn finished; carries the MessageGroup id
//   - error: the turn failed; carries the reason
//
// ChannelEmitter is the usual implementation: a buffered channel consumed by
// the HTTP layer. Closing it signals a client disconnect, which cancels the
// in-flight provider call. The partial reply is persisted with finish reason
// "aborted".
package conversation

// Package tools provides the tool registry and executor used by conversation
// agents.
//
// # Overview
//
// Tools are grouped into packs. A Pack has an id and a list of Tools, each a
// provider-neutral llm.ToolDefinition plus a Handler that runs in-process:
//
//	registry := tools.NewRegistry(logger)
//	if err := registry.RegisterPack(builtins.TravelPack(store)); err != nil {
//		return err // ErrToolCollision, ErrPackAlreadyRegistered, ErrInvalidSchema
//	}
//
// Tool names are globally unique. Every tool's parameter schema is compiled
// at registration, so an invalid schema is a startup error.
//
// # Execution
//
// The Executor runs one tool call:
//
//	result := executor.Execute(ctx, tools.Caller{WorkflowID: id, UserID: user}, call)
//
// Execute never returns an error to the agent. Unknown tools, malformed or
// schema-violating arguments, handler failures, panics and timeouts all come
// back as a Result whose Content describes the failure, so the model sees it
// as the tool output and the turn continues. Result.Err keeps the cause for
// logging and tests.
//
// # At most once
//
// Each call id is claimed in a dedupe.Ledger scoped by workflow id before the
// handler runs. A repeated id is rejected with ErrDuplicateCall and the
// handler is not invoked again.
//
// The ledger lives in process memory and holds an id for 24 hours, up to
// 100,000 ids across all workflows, evicting the least recently claimed
// first. Within those bounds a call id runs at most once. A resumed workflow
// re-claims the ids found in its stored history through Remember, so a
// restart does not reopen them; ids that only ever lived in an evicted or
// expired ledger entry are not protected.
package tools

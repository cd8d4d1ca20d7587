// Package workflow binds users, agents, and live output channels into
// persisted conversation sessions.
//
// # Types
//
// A Definition names a workflow type: its system instructions and the tools
// its agent may call. Built-in definitions (chat, travel, issues) can be
// overridden or extended from a TOML file:
//
//	[[workflow]]
//	name = "support"
//	instructions = "You help customers with their orders."
//	tools = ["create_issue", "list_issues"]
//
// # Factory
//
// A Factory builds Workflows of one type. Both New and Existing read the
// type's settings at call time, so a provider or model change applies to the
// next workflow created or resumed without a restart. The provider id is
// resolved through the provider registry before anything else happens; an
// unknown id fails with provider.ErrProviderNotFound and no network call is
// made.
//
// Existing checks ownership before touching any conversation data, then
// replays the stored MessageGroups into a fresh History. History's bound
// applies during replay, so older groups may not survive it.
//
// # Live emitter
//
// A Workflow has at most one attached Emitter. Attaching another closes the
// previous one. The agent sees a relay that forwards to whichever emitter is
// current and reports a disconnect only when the current one goes away.
//
// # Manager
//
// Manager keeps the live Workflows of this process. It creates, opens,
// resumes and closes them and runs turns in the background for the HTTP
// layer.
//
// Each Workflow has a bounded queue drained by a single worker goroutine, so
// messages run one turn at a time in the order Manager.Send accepted them. A
// full queue fails with ErrBusy. Queued messages whose context ends before
// they start are skipped without reaching the provider.
//
// A workflow with nothing queued or running and no emitter attached is
// unloaded. It stays Active in storage and the next Open or Send resumes it.
package workflow

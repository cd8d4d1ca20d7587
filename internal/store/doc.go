// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// Persistence is split into narrow interfaces, one per concern:
//
//   - WorkflowStore: workflow records and their lifecycle state
//   - MessageStore: MessageGroups, written atomically per turn
//   - UsageStore: one TokenUsage record per provider round trip
//   - SettingsStore: the key/value settings backing provider selection
//   - IssueStore, BookingStore: data owned by the issues and travel workflows
//
// SQLiteStore implements all of them; MockStore is an in-memory
// implementation for tests.
//
// # Message groups
//
// A MessageGroup is every message produced by one user turn: the user input,
// each assistant reply and each tool result, in order. InsertMessageGroup
// writes the group row and all message rows in one transaction and assigns
// the next sequence number for the workflow. GetMessageGroups returns groups
// ordered by that sequence, which is the order History is replayed in.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC3339 text in UTC.
package store

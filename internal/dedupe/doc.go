// Package dedupe provides Ledger, a concurrency-safe record of claimed keys.
// The tool executor claims every call id before running it, so a call id
// replayed by a provider inside the same workflow never runs twice.
package dedupe

// Package builtins provides the tool packs shipped with the gateway.
//
// # Tool Packs
//
// Chat pack (builtin:chat):
//
//   - current_time: Current time, optionally in a named time zone
//   - search_knowledge: Search the knowledge base
//
// Travel pack (builtin:travel):
//
//   - search_flights: Search the flight catalog for a route and date
//   - book_flight: Book a flight from the catalog
//   - list_bookings: List the user's bookings
//   - cancel_booking: Cancel one of the user's bookings
//
// Issues pack (builtin:issues):
//
//   - create_issue: File an issue
//   - list_issues: List the user's issues, optionally by status
//   - update_issue_status: Move an issue to another status
//
// # Registration
//
//	builtins.RegisterAll(registry, store, knowledge)
//
// Workflow definitions pick tools from these packs by name.
//
// # Data Scoping
//
// Handlers receive the calling workflow and user. Bookings and issues are
// always read and written for that user only; an id belonging to someone
// else behaves as if it did not exist.
package builtins
